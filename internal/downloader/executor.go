package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/repository"
)

type ExecutorConfig struct {
	Type     string
	Pipeline domain.Pipeline
	// MaxRetries is the number of consecutive failures after which an entry
	// in RETRY becomes FAILED.
	MaxRetries         int
	OptimisticAttempts int
	// DownloadTimeout bounds a single Downloader call; zero disables it.
	DownloadTimeout time.Duration
	Logger          *logrus.Logger
	Metrics         Metrics
	Now             func() time.Time
}

// Executor runs the download tasks of one pipeline for one entity type.
type Executor[T any] struct {
	cfg        ExecutorConfig
	store      repository.EntryStore[T]
	downloader Downloader[T]
	notifier   Notifier[T]
	pool       *Pool
}

func NewExecutor[T any](cfg ExecutorConfig, store repository.EntryStore[T], downloader Downloader[T], notifier Notifier[T], pool *Pool) *Executor[T] {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OptimisticAttempts <= 0 {
		cfg.OptimisticAttempts = repository.DefaultOptimisticAttempts
	}
	return &Executor[T]{
		cfg:        cfg,
		store:      store,
		downloader: downloader,
		notifier:   notifier,
		pool:       pool,
	}
}

// Execute runs every task of the batch on the pool and returns once all of
// them finished. Download failures are recorded on the entries; the returned
// error only reports tasks whose outcome could not be persisted.
func (e *Executor[T]) Execute(ctx context.Context, tasks []domain.DownloadTask) error {
	futures := make([]*Future, len(tasks))
	for i := range tasks {
		task := tasks[i]
		futures[i] = e.pool.Submit(ctx, func(ctx context.Context) error {
			return e.execute(ctx, task)
		})
	}

	var errs []error
	for i, f := range futures {
		if err := f.Wait(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", tasks[i].ID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Executor[T]) execute(ctx context.Context, task domain.DownloadTask) error {
	logger := e.cfg.Logger.WithFields(logrus.Fields{
		"type":     e.cfg.Type,
		"pipeline": e.cfg.Pipeline,
		"id":       task.ID,
	})

	current, err := e.store.Get(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}
	if current == nil {
		logger.Warn("download entry not found, using a default one")
		fallback := e.defaultEntry(task)
		current = &fallback
	}

	if !task.Force && current.IsStale(task) {
		logger.Debug("newer data already downloaded, skipping")
		e.cfg.Metrics.DownloadSkipped(e.cfg.Type, e.cfg.Pipeline, task.Force)
		return nil
	}

	e.cfg.Metrics.DownloadStarted(e.cfg.Type, e.cfg.Pipeline)
	started := time.Now()
	data, downloadErr := e.download(ctx, task.ID)
	elapsed := time.Since(started)

	if downloadErr == nil {
		saved, err := e.update(ctx, task, current, func(entry domain.DownloadEntry[T]) domain.DownloadEntry[T] {
			return entry.WithSuccess(data, e.cfg.Now())
		})
		if err != nil {
			e.cfg.Metrics.DownloadFinished(e.cfg.Type, e.cfg.Pipeline, task.Force, OutcomeFail, elapsed)
			return fmt.Errorf("save downloaded entry: %w", err)
		}
		e.cfg.Metrics.DownloadFinished(e.cfg.Type, e.cfg.Pipeline, task.Force, OutcomeOK, elapsed)
		logger.WithField("version", saved.Version).Debug("download succeeded")

		if e.notifier != nil {
			if err := e.notifier.Notify(ctx, *saved); err != nil {
				logger.Warnf("notify: %v", err)
			}
		}
		return nil
	}

	var typed *DownloadError
	if !errors.As(downloadErr, &typed) {
		logger.Warnf("unexpected download error: %v", downloadErr)
	}
	message := failureMessage(downloadErr)

	saved, err := e.update(ctx, task, current, func(entry domain.DownloadEntry[T]) domain.DownloadEntry[T] {
		return entry.WithFailure(message, e.cfg.Now(), e.cfg.MaxRetries)
	})
	if err != nil {
		e.cfg.Metrics.DownloadFinished(e.cfg.Type, e.cfg.Pipeline, task.Force, OutcomeFail, elapsed)
		return fmt.Errorf("save failed entry: %w", err)
	}

	outcome := OutcomeFail
	if saved.Status == domain.DownloadStatusRetry {
		outcome = OutcomeRetry
	}
	e.cfg.Metrics.DownloadFinished(e.cfg.Type, e.cfg.Pipeline, task.Force, outcome, elapsed)
	logger.WithFields(logrus.Fields{
		"status":  saved.Status,
		"retries": saved.Retries,
		"fails":   saved.Fails,
	}).Debugf("download failed: %s", message)
	return nil
}

// download calls the Downloader, turning panics into errors so a broken
// fetcher folds into the failure path like any other error.
func (e *Executor[T]) download(ctx context.Context, id string) (data T, err error) {
	if e.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.DownloadTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("downloader panicked: %v", r)
		}
	}()
	return e.downloader.Download(ctx, id)
}

func (e *Executor[T]) update(ctx context.Context, task domain.DownloadTask, current *domain.DownloadEntry[T], transform func(domain.DownloadEntry[T]) domain.DownloadEntry[T]) (*domain.DownloadEntry[T], error) {
	return repository.UpdateOptimistic(ctx, e.store, repository.OptimisticUpdate[T]{
		ID:          task.ID,
		Current:     current,
		Missing:     func() domain.DownloadEntry[T] { return e.defaultEntry(task) },
		Transform:   transform,
		MaxAttempts: e.cfg.OptimisticAttempts,
	})
}

func (e *Executor[T]) defaultEntry(task domain.DownloadTask) domain.DownloadEntry[T] {
	return domain.NewScheduledEntry[T](task.ID, task.ScheduledAt)
}

func (e *Executor[T]) Pipeline() domain.Pipeline {
	return e.cfg.Pipeline
}
