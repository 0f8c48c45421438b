package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/cloudjobs"
)

// Registry tracks one monitor goroutine per active execution and prevents
// double-starts for the same execution id.
type Registry struct {
	mu       sync.Mutex
	running  map[string]context.CancelFunc
	wg       sync.WaitGroup
	client   cloudjobs.Client
	store    ExecutionStore
	interval time.Duration
	timeout  time.Duration
	logger   arbor.ILogger
}

// NewRegistry creates the monitor registry.
func NewRegistry(client cloudjobs.Client, store ExecutionStore, interval, timeout time.Duration, logger arbor.ILogger) *Registry {
	return &Registry{
		running:  make(map[string]context.CancelFunc),
		client:   client,
		store:    store,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Watch starts a monitor for the execution unless one is already running.
func (r *Registry) Watch(ctx context.Context, executionID, executionName string) {
	r.mu.Lock()
	if _, ok := r.running[executionID]; ok {
		r.mu.Unlock()
		return
	}
	monCtx, cancel := context.WithCancel(ctx)
	r.running[executionID] = cancel
	r.mu.Unlock()

	m := New(executionID, executionName, r.interval, r.timeout, r.client, r.store, r.logger)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, executionID)
			r.mu.Unlock()
			cancel()
		}()
		m.Run(monCtx)
	}()
}

// Active returns how many monitors are currently running.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Stop cancels all monitors and waits for them to exit.
func (r *Registry) Stop() {
	r.mu.Lock()
	for _, cancel := range r.running {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
