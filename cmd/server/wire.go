package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"meta-pipeline/internal/config"
	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/downloader"
	"meta-pipeline/internal/metrics"
	"meta-pipeline/internal/queue"
	"meta-pipeline/internal/repository/sqlite"
	"meta-pipeline/internal/service"
	"meta-pipeline/internal/storage"
)

type app struct {
	cfg     config.Config
	logger  *logrus.Logger
	db      *sqlx.DB
	metrics *metrics.Prometheus
	conn    *queue.Connection
	objects storage.ObjectStore
}

// pipeline is the running machinery of one entity type.
type pipeline struct {
	service service.MetaService
	router  downloader.Router
	pools   []*downloader.Pool
	logger  *logrus.Logger
}

func (p *pipeline) close(ctx context.Context) {
	if err := p.router.Close(); err != nil {
		p.logger.Warnf("close router: %v", err)
	}
	for _, pool := range p.pools {
		if err := pool.Close(ctx); err != nil {
			p.logger.Warnf("close pool: %v", err)
		}
	}
}

func wire[T any](ctx context.Context, g *errgroup.Group, a *app, entityType, table string, dl downloader.Downloader[T]) (*pipeline, error) {
	repo, err := sqlite.NewEntryRepository[T](a.db, table)
	if err != nil {
		return nil, err
	}
	if err := repo.Init(ctx); err != nil {
		return nil, fmt.Errorf("init %s repository: %w", entityType, err)
	}

	var (
		router        downloader.Router
		channelRouter *downloader.ChannelRouter
	)
	if a.conn != nil {
		router = queue.NewRouter(a.conn.Publisher(), a.cfg.Transport.QueuePrefix, entityType, a.logger)
	} else {
		buffers := make(map[domain.Pipeline]int)
		for _, p := range domain.Pipelines() {
			buffers[p] = a.cfg.Pipeline(p).Buffer
		}
		channelRouter = downloader.NewChannelRouter(buffers)
		router = channelRouter
	}

	notifier, err := notifiers[T](a, entityType)
	if err != nil {
		return nil, err
	}

	scheduler := downloader.NewScheduler[T](downloader.SchedulerConfig{
		Type:    entityType,
		Logger:  a.logger,
		Metrics: a.metrics,
	}, repo, router)

	out := &pipeline{
		service: service.NewMetaService[T](entityType, repo, scheduler),
		router:  router,
		logger:  a.logger,
	}

	for _, p := range domain.Pipelines() {
		settings := a.cfg.Pipeline(p)
		name := fmt.Sprintf("%s.%s", entityType, p)
		pool := downloader.NewPool(name, settings.Workers, a.logger)
		out.pools = append(out.pools, pool)

		executor := downloader.NewExecutor[T](downloader.ExecutorConfig{
			Type:            entityType,
			Pipeline:        p,
			MaxRetries:      a.cfg.Download.MaxRetries,
			DownloadTimeout: a.cfg.Download.Timeout,
			Logger:          a.logger,
			Metrics:         a.metrics,
		}, repo, dl, notifier, pool)

		if channelRouter != nil {
			queueCh, _ := channelRouter.Queue(p)
			consumer := &downloader.ChannelConsumer{
				Name:      name,
				Queue:     queueCh,
				Executor:  executor,
				BatchSize: settings.BatchSize,
				Logger:    a.logger,
			}
			g.Go(func() error { return consumer.Run(ctx) })
			continue
		}

		consumer := &queue.Consumer{
			Queue:     queue.QueueName(a.cfg.Transport.QueuePrefix, entityType, p),
			Executor:  executor,
			BatchSize: settings.BatchSize,
			Prefetch:  a.cfg.Transport.Prefetch,
			Logger:    a.logger,
		}
		g.Go(func() error { return consumer.Run(ctx, a.conn) })
	}

	job := downloader.NewRetryJob[T](downloader.RetryJobConfig{
		Type:     entityType,
		Interval: a.cfg.Retry.Interval,
		Delay:    a.cfg.Retry.Delay,
		Batch:    a.cfg.Retry.Batch,
		Logger:   a.logger,
	}, repo, scheduler)
	g.Go(func() error { return job.Run(ctx) })

	return out, nil
}

func notifiers[T any](a *app, entityType string) (downloader.Notifier[T], error) {
	list := downloader.Notifiers[T]{downloader.LogNotifier[T]{Type: entityType, Logger: a.logger}}
	if a.conn != nil {
		events, err := queue.NewEventNotifier[T](a.conn.Publisher(), a.cfg.Transport.EventExchange, entityType)
		if err != nil {
			return nil, err
		}
		list = append(list, events)
	}
	if a.objects != nil {
		archive, err := storage.NewArchive[T](a.objects, a.cfg.Storage.Bucket, a.cfg.Storage.KeyPrefix, entityType)
		if err != nil {
			return nil, err
		}
		list = append(list, archive)
	}
	return list, nil
}
