// Package session holds the session and event model and the durable
// store that owns all of it.
package session

import "time"

// Status represents the session lifecycle state.
type Status string

const (
	// StatusQueued indicates the session is waiting for dispatch.
	StatusQueued Status = "queued"
	// StatusProvisioning indicates the workspace is being prepared.
	StatusProvisioning Status = "provisioning"
	// StatusRunning indicates the agent task is executing.
	StatusRunning Status = "running"
	// StatusCreatingPR indicates a pull request is being opened.
	StatusCreatingPR Status = "creating_pr"
	// StatusCompleted indicates the session finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the session failed.
	StatusFailed Status = "failed"
)

// ValidStatuses returns all valid session status values.
func ValidStatuses() []Status {
	return []Status{
		StatusQueued,
		StatusProvisioning,
		StatusRunning,
		StatusCreatingPR,
		StatusCompleted,
		StatusFailed,
	}
}

// Terminal reports whether the status is final. Terminal sessions are
// never mutated again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultModel is the sentinel model identifier used when a session
// does not name one.
const DefaultModel = "default"

// Session is one requested coding task and its full lifecycle record.
// Sessions are created by intake, mutated only through Store operations,
// and never deleted.
type Session struct {
	ID          string    `json:"id"`
	Repo        string    `json:"repo"`
	Owner       string    `json:"owner"`
	RepoName    string    `json:"repoName"`
	Prompt      string    `json:"prompt"`
	Model       string    `json:"model"`
	CreatedBy   string    `json:"createdBy"`
	ChannelID   string    `json:"channelId,omitempty"`
	ThreadTS    string    `json:"threadTs,omitempty"`
	GithubToken string    `json:"githubToken,omitempty"`
	Status      Status    `json:"status"`
	Branch      string    `json:"branch,omitempty"`
	PRURL       string    `json:"prUrl,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Event types used by the orchestration engine. Type is free-form;
// these are the categories the runner and store emit.
const (
	EventLifecycle   = "lifecycle"
	EventError       = "error"
	EventOpencode    = "opencode"
	EventShellStdout = "shell.stdout"
	EventShellStderr = "shell.stderr"
)

// Event is one immutable log entry attached to a session. Events are
// append-only and retrievable in insertion order.
type Event struct {
	Type     string         `json:"type"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}
