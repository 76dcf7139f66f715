package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"meta-pipeline/internal/config"
	"meta-pipeline/internal/domain"
	apphttp "meta-pipeline/internal/http"
	"meta-pipeline/internal/meta"
	"meta-pipeline/internal/metrics"
	"meta-pipeline/internal/queue"
	"meta-pipeline/internal/repository/sqlite"
	"meta-pipeline/internal/service"
	"meta-pipeline/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	configureLogger(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New(reg),
	}

	if cfg.Transport.Kind == config.TransportRabbitMQ {
		conn, err := queue.Dial(cfg.Transport.URL, logger)
		if err != nil {
			logger.Fatalf("connect transport: %v", err)
		}
		defer conn.Close()
		deps.conn = conn
	}

	if cfg.Storage.Bucket != "" {
		objects, err := buildStorage(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup storage: %v", err)
		}
		deps.objects = objects
	}

	itemDownloader, err := meta.NewItemDownloader(downloaderConfig(cfg, cfg.Download.ItemURL))
	if err != nil {
		logger.Fatalf("item downloader: %v", err)
	}
	collectionDownloader, err := meta.NewCollectionDownloader(downloaderConfig(cfg, cfg.Download.CollectionURL))
	if err != nil {
		logger.Fatalf("collection downloader: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	items, err := wire[domain.ItemMeta](gctx, g, deps, domain.EntityItem, "item_meta_entries", itemDownloader)
	if err != nil {
		logger.Fatalf("wire item pipeline: %v", err)
	}
	collections, err := wire[domain.CollectionMeta](gctx, g, deps, domain.EntityCollection, "collection_meta_entries", collectionDownloader)
	if err != nil {
		logger.Fatalf("wire collection pipeline: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(service.NewRegistry(items.service, collections.service), reg, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	g.Go(func() error {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("http shutdown: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("stopped with error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	items.close(shutdownCtx)
	collections.close(shutdownCtx)

	logger.Info("bye")
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("invalid log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func downloaderConfig(cfg config.Config, urlTemplate string) meta.Config {
	return meta.Config{
		URLTemplate: urlTemplate,
		MaxBytes:    cfg.Download.MaxBytes,
		RateLimit:   cfg.Download.RateLimit,
		Client:      &http.Client{Timeout: cfg.Download.Timeout},
	}
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.ObjectStore, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving metadata to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
