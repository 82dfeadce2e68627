// Package opencode invokes the external coding agent for one session.
//
// The agent is an opaque subprocess configured by a command template; it
// receives the session context through OPENCODE_* environment variables
// and reads its prompt from a file in the workspace.
package opencode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/amonks/foreman/shell"
)

// PromptFileName is the fixed prompt filename written into the
// workspace before the agent runs.
const PromptFileName = ".agent_prompt"

// Environment variables exposed to the agent subprocess.
const (
	EnvSessionID  = "OPENCODE_SESSION_ID"
	EnvWorkdir    = "OPENCODE_WORKDIR"
	EnvPromptFile = "OPENCODE_PROMPT_FILE"
	EnvModel      = "OPENCODE_MODEL"
)

// Options configures one agent invocation.
type Options struct {
	SessionID string
	Workdir   string
	Prompt    string

	// Model falls back to "default" when empty.
	Model string

	// CommandTemplate is the shell command to run, from configuration.
	CommandTemplate string

	// Log receives every complete output line, tagged by stream. May be
	// nil.
	Log func(stream shell.Stream, line string)
}

// Run writes the prompt file, builds the agent environment, and executes
// the command template in the workspace. Failure of the underlying
// command propagates unchanged.
func Run(ctx context.Context, opts Options) error {
	promptFile := filepath.Join(opts.Workdir, PromptFileName)
	if err := os.WriteFile(promptFile, []byte(opts.Prompt), 0o644); err != nil {
		return fmt.Errorf("write prompt file: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "default"
	}

	env := os.Environ()
	env = replaceEnvVar(env, EnvSessionID, opts.SessionID)
	env = replaceEnvVar(env, EnvWorkdir, opts.Workdir)
	env = replaceEnvVar(env, EnvPromptFile, promptFile)
	env = replaceEnvVar(env, EnvModel, model)

	buffer := shell.NewLineBuffer(func(stream shell.Stream, line string) {
		if opts.Log != nil {
			opts.Log(stream, line)
		}
	})
	_, err := shell.Run(ctx, shell.Options{
		Command: opts.CommandTemplate,
		Dir:     opts.Workdir,
		Env:     env,
	}, buffer.Sink)
	buffer.Flush()

	return err
}

func replaceEnvVar(env []string, key, value string) []string {
	prefix := key + "="
	updated := make([]string, 0, len(env)+1)
	for _, entry := range env {
		if strings.HasPrefix(entry, prefix) {
			continue
		}
		updated = append(updated, entry)
	}
	return append(updated, prefix+value)
}
