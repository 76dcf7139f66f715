package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"meta-pipeline/internal/domain"
)

var (
	ErrRouterClosed    = errors.New("router closed")
	ErrUnknownPipeline = errors.New("unknown pipeline")
)

// Router publishes task batches to the queue of their pipeline.
type Router interface {
	Send(ctx context.Context, tasks []domain.DownloadTask, pipeline domain.Pipeline) error
	Close() error
}

// ChannelRouter is an in-process Router backed by one buffered channel per
// pipeline.
type ChannelRouter struct {
	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
	// sends tracks Send calls that may still write to a queue.
	sends  sync.WaitGroup
	queues map[domain.Pipeline]chan []domain.DownloadTask
}

// NewChannelRouter creates one queue per pipeline; buffers holds the channel
// capacity (in batches) per pipeline.
func NewChannelRouter(buffers map[domain.Pipeline]int) *ChannelRouter {
	queues := make(map[domain.Pipeline]chan []domain.DownloadTask, len(buffers))
	for pipeline, size := range buffers {
		if size < 0 {
			size = 0
		}
		queues[pipeline] = make(chan []domain.DownloadTask, size)
	}
	return &ChannelRouter{queues: queues, closing: make(chan struct{})}
}

// Send blocks while the queue is full until ctx is done or the router closes.
func (r *ChannelRouter) Send(ctx context.Context, tasks []domain.DownloadTask, pipeline domain.Pipeline) error {
	if len(tasks) == 0 {
		return nil
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrRouterClosed
	}
	queue, ok := r.queues[pipeline]
	if !ok {
		r.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrUnknownPipeline, pipeline)
	}
	r.sends.Add(1)
	r.mu.RUnlock()
	defer r.sends.Done()

	batch := make([]domain.DownloadTask, len(tasks))
	copy(batch, tasks)
	select {
	case queue <- batch:
		return nil
	case <-r.closing:
		return ErrRouterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue returns the receiving side of a pipeline queue for its consumer.
func (r *ChannelRouter) Queue(pipeline domain.Pipeline) (<-chan []domain.DownloadTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	queue, ok := r.queues[pipeline]
	return queue, ok
}

// Close stops accepting batches, releases blocked senders and closes every
// queue; batches already buffered remain readable so consumers can drain them.
func (r *ChannelRouter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.closing)
	r.mu.Unlock()

	r.sends.Wait()
	for _, queue := range r.queues {
		close(queue)
	}
	return nil
}

var _ Router = (*ChannelRouter)(nil)
