package runner

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/amonks/foreman/session"
)

// DefaultTickInterval is the delay between dispatch ticks.
const DefaultTickInterval = 1500 * time.Millisecond

// RunFunc executes one session pass.
type RunFunc func(ctx context.Context, id string) error

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Interval between ticks; DefaultTickInterval when zero.
	Interval time.Duration

	// MaxConcurrent caps the in-flight session count.
	MaxConcurrent int
}

// Dispatcher admits queued sessions up to a concurrency ceiling, one
// scan per tick, FIFO by creation order. In-flight tracking is the sole
// guard against a second concurrent pass over the same session.
type Dispatcher struct {
	store         *session.Store
	run           RunFunc
	interval      time.Duration
	maxConcurrent int

	// mu guards inflight; the capacity check and admission happen under
	// the same hold so the ceiling cannot be raced past.
	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewDispatcher creates a Dispatcher that admits sessions from store and
// executes them with run.
func NewDispatcher(store *session.Store, run RunFunc, opts DispatcherOptions) *Dispatcher {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		store:         store,
		run:           run,
		interval:      interval,
		maxConcurrent: maxConcurrent,
		inflight:      make(map[string]struct{}),
	}
}

// Start ticks immediately, then on every interval until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick admits queued sessions up to free capacity. Each admitted session
// runs in its own goroutine and leaves the in-flight set when it
// settles, regardless of outcome.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	free := d.maxConcurrent - len(d.inflight)
	if free <= 0 {
		return
	}

	for _, sess := range d.store.List() {
		if free == 0 {
			break
		}
		if sess.Status != session.StatusQueued {
			continue
		}
		if _, active := d.inflight[sess.ID]; active {
			continue
		}

		d.inflight[sess.ID] = struct{}{}
		free--
		d.wg.Add(1)
		go func(id string) {
			defer d.wg.Done()
			defer d.release(id)
			if err := d.run(ctx, id); err != nil {
				log.Printf("dispatcher: session %s: %v", id, err)
			}
		}(sess.ID)
	}
}

// InFlight returns the current in-flight session count.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Wait blocks until every in-flight runner pass has settled. Used during
// shutdown after ticking has stopped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}
