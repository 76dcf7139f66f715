package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/downloader"
	"meta-pipeline/internal/repository"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("entry not found")
	ErrUnknownType    = errors.New("unknown entity type")
)

// MaxScheduleIDs bounds the ids accepted by one schedule request.
const MaxScheduleIDs = 1000

type ScheduleRequest struct {
	IDs      []string `json:"ids"`
	Pipeline string   `json:"pipeline"`
	Force    bool     `json:"force"`
}

type ScheduleResult struct {
	Type     string          `json:"type"`
	Pipeline domain.Pipeline `json:"pipeline"`
	// Received counts the distinct ids of the request. Ids whose download is
	// already underway are received but not forwarded again.
	Received int `json:"received"`
	Force    bool            `json:"force"`
}

// MetaService is the entry point of external callers for one entity type.
type MetaService interface {
	Type() string
	Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error)
	Entry(ctx context.Context, id string) (*domain.EntryView, error)
}

type metaService[T any] struct {
	typ       string
	store     repository.EntryStore[T]
	scheduler downloader.TaskScheduler
	now       func() time.Time
}

func NewMetaService[T any](entityType string, store repository.EntryStore[T], scheduler downloader.TaskScheduler) MetaService {
	return &metaService[T]{
		typ:       entityType,
		store:     store,
		scheduler: scheduler,
		now:       time.Now,
	}
}

func (s *metaService[T]) Type() string {
	return s.typ
}

func (s *metaService[T]) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	pipeline := domain.PipelineAPI
	if strings.TrimSpace(req.Pipeline) != "" {
		p, err := domain.ParsePipeline(req.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		pipeline = p
	}

	ids, err := normalizeIDs(req.IDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	tasks := make([]domain.DownloadTask, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, domain.DownloadTask{
			ID:          id,
			Pipeline:    pipeline,
			ScheduledAt: now,
			Force:       req.Force,
			Source:      domain.TaskSourceExternal,
		})
	}
	if err := s.scheduler.Schedule(ctx, tasks); err != nil {
		return nil, fmt.Errorf("schedule %s tasks: %w", s.typ, err)
	}

	return &ScheduleResult{Type: s.typ, Pipeline: pipeline, Received: len(tasks), Force: req.Force}, nil
}

func (s *metaService[T]) Entry(ctx context.Context, id string) (*domain.EntryView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load %s entry %s: %w", s.typ, id, err)
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	view := entry.View()
	return &view, nil
}

func normalizeIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: ids are required", ErrInvalidRequest)
	}
	if len(ids) > MaxScheduleIDs {
		return nil, fmt.Errorf("%w: at most %d ids per request", ErrInvalidRequest, MaxScheduleIDs)
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidRequest)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Registry resolves the service of an entity type.
type Registry map[string]MetaService

func NewRegistry(services ...MetaService) Registry {
	r := make(Registry, len(services))
	for _, svc := range services {
		r[svc.Type()] = svc
	}
	return r
}

func (r Registry) Get(entityType string) (MetaService, error) {
	svc, ok := r[strings.ToLower(entityType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, entityType)
	}
	return svc, nil
}
