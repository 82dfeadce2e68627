// Package runner drives sessions from intake to a terminal state and
// admits queued work under a concurrency ceiling.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amonks/foreman/github"
	"github.com/amonks/foreman/internal/config"
	"github.com/amonks/foreman/opencode"
	"github.com/amonks/foreman/session"
	"github.com/amonks/foreman/shell"
)

// ErrNoToken indicates neither the session nor the process configuration
// carries a usable GitHub credential.
var ErrNoToken = errors.New("no GitHub token configured for this session")

// Runner executes one session pass: provision a workspace, clone, run
// the agent, and publish any resulting changes as a pull request.
type Runner struct {
	store  *session.Store
	cfg    config.Config
	github *github.Client

	// Collaborator seams, replaced in tests.
	runCommand func(ctx context.Context, opts shell.Options, sink func(shell.Chunk)) (shell.Result, error)
	runTask    func(ctx context.Context, opts opencode.Options) error
	removeAll  func(path string) error
	now        func() time.Time
}

// New creates a Runner backed by the given store and configuration.
func New(store *session.Store, cfg config.Config) *Runner {
	return &Runner{
		store:      store,
		cfg:        cfg,
		github:     github.NewClient(cfg.Github.APIURL),
		runCommand: shell.Run,
		runTask:    opencode.Run,
		removeAll:  os.RemoveAll,
		now:        time.Now,
	}
}

// Run executes one pass over the session with the given id. Sessions not
// currently queued are ignored, which guards against duplicate dispatch.
// Any step failure is converted to a terminal failed state exactly once;
// the returned error exists for the dispatcher's log line.
func (r *Runner) Run(ctx context.Context, id string) error {
	sess, ok := r.store.Get(id)
	if !ok || sess.Status != session.StatusQueued {
		return nil
	}

	token := sess.GithubToken
	if token == "" {
		token = r.cfg.Github.Token
	}
	if token == "" {
		r.store.SetError(id, ErrNoToken.Error())
		return ErrNoToken
	}

	r.store.SetStatus(id, session.StatusProvisioning, "Provisioning runner workspace.")
	workspace := filepath.Join(r.cfg.WorkspaceRoot, fmt.Sprintf("%s-%d", sess.ID, r.now().UnixMilli()))
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		err = fmt.Errorf("create workspace: %w", err)
		r.store.SetError(id, err.Error())
		return err
	}
	defer r.cleanup(workspace)

	if err := r.execute(ctx, sess, token, workspace); err != nil {
		r.store.SetError(id, err.Error())
		return err
	}
	return nil
}

// execute walks the clone-through-publish steps. The first failure
// aborts the rest; the caller converts it to the terminal failed state.
func (r *Runner) execute(ctx context.Context, sess session.Session, token, workspace string) error {
	cloneURL := fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token, sess.Repo)
	if err := r.git(ctx, sess.ID, workspace, "git clone", fmt.Sprintf(`git clone "%s" .`, cloneURL)); err != nil {
		return err
	}

	branch := "agent/" + sess.ID
	r.store.SetBranch(sess.ID, branch)
	if err := r.git(ctx, sess.ID, workspace, "git checkout", fmt.Sprintf("git checkout -b %s", branch)); err != nil {
		return err
	}
	if err := r.git(ctx, sess.ID, workspace, "git config", fmt.Sprintf(`git config user.name "%s"`, r.cfg.Git.UserName)); err != nil {
		return err
	}
	if err := r.git(ctx, sess.ID, workspace, "git config", fmt.Sprintf(`git config user.email "%s"`, r.cfg.Git.UserEmail)); err != nil {
		return err
	}

	r.store.SetStatus(sess.ID, session.StatusRunning, "Running OpenCode task.")
	err := r.runTask(ctx, opencode.Options{
		SessionID:       sess.ID,
		Workdir:         workspace,
		Prompt:          sess.Prompt,
		Model:           sess.Model,
		CommandTemplate: r.cfg.Opencode.CommandTemplate,
		Log: func(stream shell.Stream, line string) {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				return
			}
			r.store.AppendEvent(sess.ID, session.EventOpencode, string(stream)+": "+trimmed, nil)
		},
	})
	if err != nil {
		return fmt.Errorf("opencode task: %w", err)
	}

	status, err := r.runCommand(ctx, shell.Options{Command: "git status --short", Dir: workspace}, nil)
	if err != nil {
		return fmt.Errorf("git status: %w", err)
	}
	changed := nonEmptyLines(status.Stdout)
	if len(changed) == 0 {
		r.store.SetStatus(sess.ID, session.StatusCompleted, "OpenCode finished with no edits.")
		return nil
	}

	if err := r.git(ctx, sess.ID, workspace, "git add", "git add ."); err != nil {
		return err
	}
	commit := fmt.Sprintf(`git commit -m "chore: agent session %s update"`, sess.ID)
	if err := r.git(ctx, sess.ID, workspace, "git commit", commit); err != nil {
		return err
	}
	if err := r.git(ctx, sess.ID, workspace, "git push", fmt.Sprintf(`git push origin "%s"`, branch)); err != nil {
		return err
	}

	r.store.SetStatus(sess.ID, session.StatusCreatingPR, "Opening pull request.")
	base, err := r.resolveBaseBranch(ctx, sess, token)
	if err != nil {
		return err
	}

	prURL, err := r.github.CreatePullRequest(ctx, github.PullRequestOptions{
		Token: token,
		Owner: sess.Owner,
		Repo:  sess.RepoName,
		Title: "Agent task: " + truncate(sess.Prompt, 80),
		Body:  prBody(sess, branch, changed),
		Head:  branch,
		Base:  base,
	})
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}

	r.store.SetPR(sess.ID, prURL)
	return nil
}

// resolveBaseBranch verifies the configured base exists on the remote,
// falling back to the remote's default branch when it does not. With no
// configured base, the remote default is always used.
func (r *Runner) resolveBaseBranch(ctx context.Context, sess session.Session, token string) (string, error) {
	configured := strings.TrimSpace(r.cfg.Github.BaseBranch)
	if configured == "" {
		base, err := r.github.DefaultBranch(ctx, token, sess.Owner, sess.RepoName)
		if err != nil {
			return "", fmt.Errorf("resolve default branch: %w", err)
		}
		return base, nil
	}

	exists, err := r.github.BranchExists(ctx, token, sess.Owner, sess.RepoName, configured)
	if err != nil {
		return "", fmt.Errorf("check base branch: %w", err)
	}
	if exists {
		return configured, nil
	}

	r.store.AppendEvent(sess.ID, session.EventLifecycle,
		fmt.Sprintf("Configured base branch '%s' not found; resolving from GitHub default branch.", configured), nil)
	base, err := r.github.DefaultBranch(ctx, token, sess.Owner, sess.RepoName)
	if err != nil {
		return "", fmt.Errorf("resolve default branch: %w", err)
	}
	return base, nil
}

// git runs one git command in the workspace, recording every output line
// as a shell event. label keeps credentials embedded in the command line
// out of error messages.
func (r *Runner) git(ctx context.Context, id, workspace, label, command string) error {
	buffer := shell.NewLineBuffer(func(stream shell.Stream, line string) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return
		}
		eventType := session.EventShellStdout
		if stream == shell.Stderr {
			eventType = session.EventShellStderr
		}
		r.store.AppendEvent(id, eventType, trimmed, nil)
	})
	_, err := r.runCommand(ctx, shell.Options{Command: command, Dir: workspace}, buffer.Sink)
	buffer.Flush()
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	return nil
}

// cleanup removes the workspace. Failures are logged and swallowed; a
// session's outcome never depends on cleanup.
func (r *Runner) cleanup(workspace string) {
	if err := r.removeAll(workspace); err != nil {
		log.Printf("runner: remove workspace %s: %v", workspace, err)
	}
}

func prBody(sess session.Session, branch string, changed []string) string {
	lines := []string{
		fmt.Sprintf("## Session %s", sess.ID),
		"",
		fmt.Sprintf("Working branch: `%s`", branch),
		"",
		fmt.Sprintf("Prompt: %s", sess.Prompt),
		"",
		"### Changed files",
		"```",
	}
	lines = append(lines, changed...)
	lines = append(lines, "```")
	return strings.Join(lines, "\n")
}

func nonEmptyLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

func truncate(input string, max int) string {
	runes := []rune(input)
	if len(runes) <= max {
		return input
	}
	return string(runes[:max])
}
