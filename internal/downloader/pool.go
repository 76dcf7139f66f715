package downloader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is reported by futures whose work never started because the
// pool was shut down.
var ErrPoolClosed = errors.New("download pool closed")

// Pool bounds the number of concurrently running downloads.
type Pool struct {
	name   string
	logger *logrus.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Future is the handle of one submitted unit of work.
type Future struct {
	done chan struct{}
	err  error
}

func NewPool(name string, size int, logger *logrus.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		name:   name,
		logger: logger,
		sem:    make(chan struct{}, size),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Size is the maximum number of concurrently running tasks.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// Submit schedules fn and returns immediately. fn receives a context that is
// cancelled when either ctx is done or the pool closes.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) *Future {
	f := &Future{done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.complete(ErrPoolClosed)
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		select {
		case <-p.ctx.Done():
			f.complete(ErrPoolClosed)
		case <-ctx.Done():
			f.complete(ctx.Err())
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
			f.complete(p.run(ctx, fn))
		}
	}()
	return f
}

func (p *Pool) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("pool", p.name).Errorf("task panicked: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(runCtx)
}

// Close cancels outstanding work and waits for workers to return, giving up
// when ctx expires.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.WithField("pool", p.name).Debug("download pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close pool %s: %w", p.name, ctx.Err())
	}
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the work has finished or was abandoned.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the work finishes and returns its error.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
