package downloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/repository"
)

type SchedulerConfig struct {
	// Type is the entity type label used in logs and metrics.
	Type    string
	Logger  *logrus.Logger
	Metrics Metrics
}

// Scheduler admits download tasks: it creates the initial entry of every new
// key exactly once and forwards only tasks that need work.
type Scheduler[T any] struct {
	cfg    SchedulerConfig
	store  repository.EntryStore[T]
	router Router
}

func NewScheduler[T any](cfg SchedulerConfig, store repository.EntryStore[T], router Router) *Scheduler[T] {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	return &Scheduler[T]{cfg: cfg, store: store, router: router}
}

func (s *Scheduler[T]) Schedule(ctx context.Context, tasks []domain.DownloadTask) error {
	if len(tasks) == 0 {
		return nil
	}

	seeds, order := earliestByID(tasks)
	existing, err := s.store.GetAll(ctx, order)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	for _, entry := range existing {
		delete(seeds, entry.ID)
	}

	created := make(map[string]struct{}, len(seeds))
	for _, id := range order {
		seed, ok := seeds[id]
		if !ok {
			continue
		}
		entry, err := s.store.UpdateIfAbsent(ctx, id, func() domain.DownloadEntry[T] {
			return domain.NewScheduledEntry[T](id, seed.ScheduledAt)
		})
		if err != nil {
			return fmt.Errorf("create entry %s: %w", id, err)
		}
		if entry != nil {
			created[id] = struct{}{}
		}
	}

	forward := make([]domain.DownloadTask, 0, len(tasks))
	forwarded := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		switch {
		case task.Force:
			forward = append(forward, task)
			forwarded[task.ID] = true
			s.cfg.Metrics.TaskScheduled(s.cfg.Type, task.Pipeline, task.Force, OutcomeOK)
		default:
			_, isNew := created[task.ID]
			// a new key runs once, seeded by its earliest task
			if isNew && !forwarded[task.ID] && seeds[task.ID] == task {
				forward = append(forward, task)
				forwarded[task.ID] = true
				s.cfg.Metrics.TaskScheduled(s.cfg.Type, task.Pipeline, task.Force, OutcomeOK)
				continue
			}
			s.cfg.Metrics.TaskScheduled(s.cfg.Type, task.Pipeline, task.Force, OutcomeSkip)
		}
	}

	s.cfg.Logger.WithFields(logrus.Fields{
		"type":      s.cfg.Type,
		"received":  len(tasks),
		"created":   len(created),
		"forwarded": len(forward),
	}).Debug("tasks scheduled")

	var errs []error
	for pipeline, batch := range domain.GroupByPipeline(forward) {
		if err := s.router.Send(ctx, batch, pipeline); err != nil {
			errs = append(errs, fmt.Errorf("route %d %s tasks to %s: %w", len(batch), s.cfg.Type, pipeline, err))
		}
	}
	return errors.Join(errs...)
}

// earliestByID picks, per id, the task with the earliest ScheduledAt. Ties
// keep the first occurrence. order lists ids by first appearance.
func earliestByID(tasks []domain.DownloadTask) (map[string]domain.DownloadTask, []string) {
	seeds := make(map[string]domain.DownloadTask, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, task := range tasks {
		current, ok := seeds[task.ID]
		if !ok {
			order = append(order, task.ID)
			seeds[task.ID] = task
			continue
		}
		if task.ScheduledAt.Before(current.ScheduledAt) {
			seeds[task.ID] = task
		}
	}
	return seeds, order
}
