package runner

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/amonks/foreman/session"
)

func dispatcherStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.Open(filepath.Join(t.TempDir(), "sessions.json"), session.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func queueSessions(t *testing.T, store *session.Store, n int) []session.Session {
	t.Helper()
	sessions := make([]session.Session, 0, n)
	for i := 0; i < n; i++ {
		created, err := store.Create(session.CreateOptions{Repo: "acme/widgets", Prompt: "fix bug"})
		if err != nil {
			t.Fatalf("create session: %v", err)
		}
		sessions = append(sessions, created)
	}
	return sessions
}

// blockingRun parks every invocation until released, then marks the
// session completed so later ticks do not re-admit it.
type blockingRun struct {
	store   *session.Store
	started chan string
	release chan struct{}
}

func newBlockingRun(store *session.Store) *blockingRun {
	return &blockingRun{
		store:   store,
		started: make(chan string, 64),
		release: make(chan struct{}),
	}
}

func (b *blockingRun) run(_ context.Context, id string) error {
	b.started <- id
	<-b.release
	b.store.SetStatus(id, session.StatusCompleted, "")
	return nil
}

func (b *blockingRun) awaitStart(t *testing.T) string {
	t.Helper()
	select {
	case id := <-b.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("no runner pass started in time")
		return ""
	}
}

func awaitInFlight(t *testing.T, d *Dispatcher, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.InFlight() != want {
		if time.Now().After(deadline) {
			t.Fatalf("in-flight count never reached %d, at %d", want, d.InFlight())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTick_RespectsCeiling(t *testing.T) {
	store := dispatcherStore(t)
	queueSessions(t, store, 5)
	blocker := newBlockingRun(store)
	d := NewDispatcher(store, blocker.run, DispatcherOptions{MaxConcurrent: 2})

	d.Tick(context.Background())
	if got := d.InFlight(); got != 2 {
		t.Fatalf("expected 2 in-flight, got %d", got)
	}

	// A second tick with no free capacity admits nothing.
	d.Tick(context.Background())
	if got := d.InFlight(); got != 2 {
		t.Fatalf("ceiling exceeded: %d in-flight", got)
	}

	close(blocker.release)
	d.Wait()
}

func TestTick_AdmitsInCreationOrder(t *testing.T) {
	store := dispatcherStore(t)
	sessions := queueSessions(t, store, 3)
	blocker := newBlockingRun(store)
	d := NewDispatcher(store, blocker.run, DispatcherOptions{MaxConcurrent: 1})

	d.Tick(context.Background())
	if got := blocker.awaitStart(t); got != sessions[0].ID {
		t.Errorf("expected earliest session first, got %s", got)
	}

	close(blocker.release)
	d.Wait()
}

func TestTick_TwoAdmittedSameTick(t *testing.T) {
	store := dispatcherStore(t)
	sessions := queueSessions(t, store, 2)
	blocker := newBlockingRun(store)
	d := NewDispatcher(store, blocker.run, DispatcherOptions{MaxConcurrent: 2})

	d.Tick(context.Background())
	if got := d.InFlight(); got != 2 {
		t.Fatalf("expected both sessions admitted in one tick, got %d", got)
	}

	close(blocker.release)
	d.Wait()

	listed := store.List()
	if listed[0].ID != sessions[0].ID || listed[1].ID != sessions[1].ID {
		t.Error("list order should remain creation order after dispatch")
	}
}

func TestTick_NoDuplicateDispatch(t *testing.T) {
	store := dispatcherStore(t)
	created := queueSessions(t, store, 1)[0]
	blocker := newBlockingRun(store)
	d := NewDispatcher(store, blocker.run, DispatcherOptions{MaxConcurrent: 4})

	d.Tick(context.Background())
	d.Tick(context.Background())
	d.Tick(context.Background())

	if got := d.InFlight(); got != 1 {
		t.Fatalf("session admitted more than once: %d in-flight", got)
	}
	if got := blocker.awaitStart(t); got != created.ID {
		t.Fatalf("unexpected session started: %s", got)
	}
	select {
	case id := <-blocker.started:
		t.Fatalf("duplicate runner pass for %s", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(blocker.release)
	d.Wait()
}

func TestTick_SecondStartsOnlyAfterFirstSettles(t *testing.T) {
	store := dispatcherStore(t)
	sessions := queueSessions(t, store, 2)
	blocker := newBlockingRun(store)
	d := NewDispatcher(store, blocker.run, DispatcherOptions{MaxConcurrent: 1})

	d.Tick(context.Background())
	first := blocker.awaitStart(t)
	if first != sessions[0].ID {
		t.Fatalf("expected first session, got %s", first)
	}

	// While the first is in flight, ticks must not admit the second.
	d.Tick(context.Background())
	select {
	case id := <-blocker.started:
		t.Fatalf("second session %s started before first settled", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(blocker.release)
	awaitInFlight(t, d, 0)

	d.Tick(context.Background())
	if got := blocker.awaitStart(t); got != sessions[1].ID {
		t.Errorf("expected second session after settle, got %s", got)
	}
	d.Wait()
}

func TestTick_SkipsNonQueuedSessions(t *testing.T) {
	store := dispatcherStore(t)
	sessions := queueSessions(t, store, 2)
	store.SetStatus(sessions[0].ID, session.StatusFailed, "")
	blocker := newBlockingRun(store)
	d := NewDispatcher(store, blocker.run, DispatcherOptions{MaxConcurrent: 2})

	d.Tick(context.Background())
	if got := blocker.awaitStart(t); got != sessions[1].ID {
		t.Errorf("expected only the queued session, got %s", got)
	}
	if got := d.InFlight(); got != 1 {
		t.Errorf("expected 1 in-flight, got %d", got)
	}

	close(blocker.release)
	d.Wait()
}

func TestTick_RunErrorStillReleasesSlot(t *testing.T) {
	store := dispatcherStore(t)
	queueSessions(t, store, 1)

	var calls int
	var mu sync.Mutex
	d := NewDispatcher(store, func(_ context.Context, id string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		store.SetError(id, "boom")
		return context.DeadlineExceeded
	}, DispatcherOptions{MaxConcurrent: 1})

	d.Tick(context.Background())
	d.Wait()

	if got := d.InFlight(); got != 0 {
		t.Errorf("slot not released after error: %d in-flight", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("expected one run, got %d", calls)
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	store := dispatcherStore(t)
	d := NewDispatcher(store, func(context.Context, string) error { return nil }, DispatcherOptions{
		Interval:      10 * time.Millisecond,
		MaxConcurrent: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
