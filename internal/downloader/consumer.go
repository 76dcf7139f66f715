package downloader

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meta-pipeline/internal/domain"
)

// BatchExecutor is implemented by Executor for every payload type.
type BatchExecutor interface {
	Execute(ctx context.Context, tasks []domain.DownloadTask) error
}

// Chunk splits tasks into consecutive batches of at most size tasks.
func Chunk(tasks []domain.DownloadTask, size int) [][]domain.DownloadTask {
	if size <= 0 || len(tasks) <= size {
		if len(tasks) == 0 {
			return nil
		}
		return [][]domain.DownloadTask{tasks}
	}
	out := make([][]domain.DownloadTask, 0, (len(tasks)+size-1)/size)
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}
		out = append(out, tasks[start:end])
	}
	return out
}

// defaultDrainTimeout bounds the drain of a ChannelConsumer on shutdown.
const defaultDrainTimeout = 30 * time.Second

// ChannelConsumer feeds the batches of one ChannelRouter queue into an
// executor.
type ChannelConsumer struct {
	Name      string
	Queue     <-chan []domain.DownloadTask
	Executor  BatchExecutor
	BatchSize int
	// DrainTimeout bounds how long batches still buffered when ctx is done
	// keep running; zero means defaultDrainTimeout.
	DrainTimeout time.Duration
	Logger       *logrus.Logger
}

// Run consumes until the queue is closed and drained, or ctx is done. Once
// ctx is done the batches already buffered are still executed.
func (c *ChannelConsumer) Run(ctx context.Context) error {
	logger := c.Logger
	if logger == nil {
		logger = logrus.New()
	}
	log := logger.WithField("consumer", c.Name)
	log.Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.drain(ctx, log)
			log.Info("consumer stopped")
			return nil
		case tasks, ok := <-c.Queue:
			if !ok {
				log.Info("queue closed, consumer stopped")
				return nil
			}
			c.execute(ctx, log, tasks)
		}
	}
}

// drain executes the buffered batches without waiting for new ones.
func (c *ChannelConsumer) drain(ctx context.Context, log *logrus.Entry) {
	timeout := c.DrainTimeout
	if timeout <= 0 {
		timeout = defaultDrainTimeout
	}
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	drained := 0
	for drainCtx.Err() == nil {
		select {
		case tasks, ok := <-c.Queue:
			if !ok {
				return
			}
			c.execute(drainCtx, log, tasks)
			drained += len(tasks)
		default:
			if drained > 0 {
				log.WithField("tasks", drained).Info("queue drained")
			}
			return
		}
	}
	log.Warn("drain timed out, remaining tasks are left to the retry job")
}

func (c *ChannelConsumer) execute(ctx context.Context, log *logrus.Entry, tasks []domain.DownloadTask) {
	for _, batch := range Chunk(tasks, c.BatchSize) {
		batchID := uuid.NewString()
		if err := c.Executor.Execute(ctx, batch); err != nil {
			log.WithField("batch_id", batchID).Errorf("execute batch of %d: %v", len(batch), err)
			continue
		}
		log.WithFields(logrus.Fields{"batch_id": batchID, "size": len(batch)}).Debug("batch executed")
	}
}
