package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Remover runs deferred registry removals on a single background
// goroutine. Enqueue never blocks, so services can schedule removals
// while still holding the operation lock the removal itself will need.
type Remover struct {
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

// NewRemover creates a stopped remover.
func NewRemover(logger *zap.Logger) *Remover {
	return &Remover{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue appends a removal job. Jobs run in submission order once the
// remover is started.
func (r *Remover) Enqueue(job func()) {
	r.mu.Lock()
	r.pending = append(r.pending, job)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start launches the removal loop.
func (r *Remover) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop flushes outstanding removals and stops the loop.
func (r *Remover) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Drain blocks until every removal enqueued before the call has run.
// The remover must be started.
func (r *Remover) Drain() {
	ch := make(chan struct{})
	r.Enqueue(func() { close(ch) })
	<-ch
}

func (r *Remover) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-r.wake:
			r.runPending()
		case <-ctx.Done():
			r.runPending()
			r.logger.Debug("registry remover stopped")
			return
		}
	}
}

func (r *Remover) runPending() {
	r.mu.Lock()
	jobs := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, job := range jobs {
		job()
	}
}
