package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/repository"
)

// TaskScheduler is implemented by Scheduler.
type TaskScheduler interface {
	Schedule(ctx context.Context, tasks []domain.DownloadTask) error
}

type RetryJobConfig struct {
	Type string
	// Interval between two scans.
	Interval time.Duration
	// Delay is how long an entry stays in RETRY, or in SCHEDULED without
	// being downloaded, before it is rescheduled.
	Delay  time.Duration
	Batch  int
	Logger *logrus.Logger
	Now    func() time.Time
}

// RetryJob periodically reschedules entries in RETRY on the retry pipeline.
// It also recovers SCHEDULED entries whose task was lost, either because it
// was never routed or because the process stopped before running it.
type RetryJob[T any] struct {
	cfg       RetryJobConfig
	lister    repository.EntryLister[T]
	scheduler TaskScheduler
}

func NewRetryJob[T any](cfg RetryJobConfig, lister repository.EntryLister[T], scheduler TaskScheduler) *RetryJob[T] {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &RetryJob[T]{cfg: cfg, lister: lister, scheduler: scheduler}
}

// Run scans once per interval until ctx is done.
func (j *RetryJob[T]) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.cfg.Logger.WithField("type", j.cfg.Type).Errorf("retry scan: %v", err)
			}
		}
	}
}

// rescanned lists the statuses the job picks entries from.
var rescanned = []domain.DownloadStatus{
	domain.DownloadStatusRetry,
	domain.DownloadStatusScheduled,
}

// RunOnce reschedules the due entries and returns how many were sent.
func (j *RetryJob[T]) RunOnce(ctx context.Context) (int, error) {
	now := j.cfg.Now()
	var entries []domain.DownloadEntry[T]
	for _, status := range rescanned {
		due, err := j.lister.ListByStatus(ctx, status, now.Add(-j.cfg.Delay), j.cfg.Batch)
		if err != nil {
			return 0, fmt.Errorf("list %s entries: %w", status, err)
		}
		entries = append(entries, due...)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	tasks := make([]domain.DownloadTask, 0, len(entries))
	for _, entry := range entries {
		tasks = append(tasks, domain.DownloadTask{
			ID:          entry.ID,
			Pipeline:    domain.PipelineRetry,
			ScheduledAt: now,
			Force:       true,
			Source:      domain.TaskSourceInternal,
		})
	}
	if err := j.scheduler.Schedule(ctx, tasks); err != nil {
		return 0, fmt.Errorf("schedule %d retries: %w", len(tasks), err)
	}

	j.cfg.Logger.WithFields(logrus.Fields{
		"type":  j.cfg.Type,
		"count": len(tasks),
	}).Info("retry tasks scheduled")
	return len(tasks), nil
}
