package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/downloader"
)

// Router publishes task batches of one entity type to a durable queue per
// pipeline.
type Router struct {
	ch     Channel
	prefix string
	typ    string
	logger *logrus.Logger
	now    func() time.Time

	mu       sync.Mutex
	declared map[string]bool
	closed   bool
}

func NewRouter(ch Channel, prefix, entityType string, logger *logrus.Logger) *Router {
	return &Router{
		ch:       ch,
		prefix:   prefix,
		typ:      entityType,
		logger:   logger,
		now:      time.Now,
		declared: make(map[string]bool),
	}
}

func (r *Router) Send(ctx context.Context, tasks []domain.DownloadTask, pipeline domain.Pipeline) error {
	if len(tasks) == 0 {
		return nil
	}
	if !pipeline.Valid() {
		return fmt.Errorf("%w: %s", downloader.ErrUnknownPipeline, pipeline)
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return downloader.ErrRouterClosed
	}

	name := QueueName(r.prefix, r.typ, pipeline)
	if err := r.declare(name); err != nil {
		return err
	}

	body, err := encodeTasks(TaskMessage{Type: r.typ, Pipeline: pipeline, SentAt: r.now().UTC(), Tasks: tasks})
	if err != nil {
		return err
	}

	msgID := uuid.NewString()
	err = r.ch.PublishWithContext(ctx, "", name, false, false, amqp.Publishing{
		MessageId:    msgID,
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    r.now(),
		Type:         r.typ,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", name, err)
	}

	r.logger.WithFields(logrus.Fields{
		"queue":      name,
		"message_id": msgID,
		"size":       len(tasks),
	}).Debug("task batch published")
	return nil
}

func (r *Router) declare(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.declared[name] {
		return nil
	}
	if _, err := r.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	r.declared[name] = true
	return nil
}

// Close stops publishing; the connection is owned by the caller.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

var _ downloader.Router = (*Router)(nil)
