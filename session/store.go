package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/amonks/foreman/internal/ids"
)

// DefaultDebounce is the interval of the background flush loop. All
// mutations landing within one interval coalesce into a single durable
// write.
const DefaultDebounce = 50 * time.Millisecond

// Options configures a Store.
type Options struct {
	// Debounce overrides the write-coalescing window.
	Debounce time.Duration

	// Now overrides the clock.
	Now func() time.Time
}

// Store owns all session and event state. All mutation goes through its
// methods; accessors return copies. A Store is safe for concurrent use.
//
// Durability is a dirty flag plus one background ticker: mutations mark
// the state dirty, and the flush loop writes a snapshot whenever it
// finds the flag set.
type Store struct {
	path     string
	debounce time.Duration
	now      func() time.Time

	// mu guards sessions, events, order, and dirty. Holding it while
	// marking makes each mutation atomic with the write schedule.
	mu       sync.Mutex
	sessions map[string]*Session
	events   map[string][]Event
	order    []string
	dirty    bool

	closeOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

// snapshot is the durable representation: the full set of sessions and
// their event logs, keyed by session id.
type snapshot struct {
	Sessions map[string]Session `json:"sessions"`
	Events   map[string][]Event `json:"events"`
}

// Open loads the snapshot at path, or initializes empty state when none
// exists.
func Open(path string, opts Options) (*Store, error) {
	store := &Store{
		path:     path,
		debounce: opts.Debounce,
		now:      opts.Now,
		sessions: make(map[string]*Session),
		events:   make(map[string][]Event),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if store.debounce <= 0 {
		store.debounce = DefaultDebounce
	}
	if store.now == nil {
		store.now = time.Now
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	go store.flushLoop()
	return store, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal store file: %w", err)
	}

	for id, sess := range snap.Sessions {
		copied := sess
		s.sessions[id] = &copied
		s.order = append(s.order, id)
	}
	for id, events := range snap.Events {
		s.events[id] = events
	}
	sort.Slice(s.order, func(i, j int) bool {
		a, b := s.sessions[s.order[i]], s.sessions[s.order[j]]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	return nil
}

// Close stops the flush loop and writes state to disk one last time.
// Close is idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.stopped
	return s.PersistNow()
}

// CreateOptions carries intake fields for a new session. Repo and Prompt
// are required; presence is validated by the caller.
type CreateOptions struct {
	Repo        string
	Prompt      string
	Model       string
	CreatedBy   string
	ChannelID   string
	ThreadTS    string
	GithubToken string
}

// Create normalizes the repository reference, assigns a fresh id, and
// records the session as queued with its first lifecycle event.
func (s *Store) Create(opts CreateOptions) (Session, error) {
	repo, err := NormalizeRepo(opts.Repo)
	if err != nil {
		return Session{}, err
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	createdBy := opts.CreatedBy
	if createdBy == "" {
		createdBy = "unknown"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := ids.New("session")
	for s.sessions[id] != nil {
		id = ids.New("session")
	}

	now := s.now()
	created := &Session{
		ID:          id,
		Repo:        repo.String(),
		Owner:       repo.Owner,
		RepoName:    repo.Name,
		Prompt:      opts.Prompt,
		Model:       model,
		CreatedBy:   createdBy,
		ChannelID:   opts.ChannelID,
		ThreadTS:    opts.ThreadTS,
		GithubToken: opts.GithubToken,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.sessions[id] = created
	s.order = append(s.order, id)
	s.events[id] = []Event{{Type: EventLifecycle, Message: "Session created.", At: now}}
	s.dirty = true

	return *created, nil
}

// Get returns the session with the given id, if known.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// List returns all sessions in stable creation order.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	listed := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		listed = append(listed, *s.sessions[id])
	}
	return listed
}

// Events returns the event log for a session in insertion order.
func (s *Store) Events(id string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[id]
	copied := make([]Event, len(events))
	copy(copied, events)
	return copied
}

// AppendEvent records one event for a session. Unknown ids are ignored.
func (s *Store) AppendEvent(id, eventType, message string, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[id] == nil {
		return
	}
	s.appendEventLocked(id, eventType, message, metadata)
	s.dirty = true
}

// SetStatus transitions a session and optionally records a lifecycle
// event. Unknown ids and sessions already in a terminal state are
// ignored.
func (s *Store) SetStatus(id string, status Status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[id]
	if sess == nil || sess.Status.Terminal() {
		return
	}
	sess.Status = status
	sess.UpdatedAt = s.now()
	if message != "" {
		s.appendEventLocked(id, EventLifecycle, message, nil)
	}
	s.dirty = true
}

// SetBranch records the working branch once provisioning succeeds.
func (s *Store) SetBranch(id, branch string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[id]
	if sess == nil || sess.Status.Terminal() {
		return
	}
	sess.Branch = branch
	sess.UpdatedAt = s.now()
	s.appendEventLocked(id, EventLifecycle, "Branch created: "+branch, nil)
	s.dirty = true
}

// SetError marks a session terminally failed and records the failure.
func (s *Store) SetError(id, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[id]
	if sess == nil || sess.Status.Terminal() {
		return
	}
	sess.Error = message
	sess.Status = StatusFailed
	sess.UpdatedAt = s.now()
	s.appendEventLocked(id, EventError, message, nil)
	s.dirty = true
}

// SetPR records the pull request URL and marks the session completed.
func (s *Store) SetPR(id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[id]
	if sess == nil || sess.Status.Terminal() {
		return
	}
	sess.PRURL = url
	sess.Status = StatusCompleted
	sess.UpdatedAt = s.now()
	s.appendEventLocked(id, EventLifecycle, "PR created: "+url, nil)
	s.dirty = true
}

// PersistNow forces an immediate full durable write, bypassing the
// coalescing window. A periodic caller can use this to bound worst-case
// staleness.
func (s *Store) PersistNow() error {
	s.mu.Lock()
	s.dirty = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return s.save(snap)
}

func (s *Store) appendEventLocked(id, eventType, message string, metadata map[string]any) {
	s.events[id] = append(s.events[id], Event{
		Type:     eventType,
		Message:  message,
		Metadata: metadata,
		At:       s.now(),
	})
}

// flushLoop writes a snapshot on every tick that finds dirty state. It
// exits when Close fires.
func (s *Store) flushLoop() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.dirty {
				s.mu.Unlock()
				continue
			}
			s.dirty = false
			snap := s.snapshotLocked()
			s.mu.Unlock()

			if err := s.save(snap); err != nil {
				log.Printf("session store: background flush: %v", err)
			}
		}
	}
}

func (s *Store) snapshotLocked() snapshot {
	snap := snapshot{
		Sessions: make(map[string]Session, len(s.sessions)),
		Events:   make(map[string][]Event, len(s.events)),
	}
	for id, sess := range s.sessions {
		snap.Sessions[id] = *sess
	}
	for id, events := range s.events {
		copied := make([]Event, len(events))
		copy(copied, events)
		snap.Events[id] = copied
	}
	return snap
}

// save writes the snapshot atomically via a temp file and rename. The
// write is skipped when the serialized bytes are unchanged.
func (s *Store) save(snap snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	if existing, err := os.ReadFile(s.path); err == nil {
		if bytes.Equal(existing, data) {
			return nil
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read store file: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	name := tmpFile.Name()
	_, err = tmpFile.Write(data)
	if err1 := tmpFile.Close(); err1 != nil && err == nil {
		err = err1
	}
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("write temp store file: %w", err)
	}

	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename store file: %w", err)
	}

	return nil
}
