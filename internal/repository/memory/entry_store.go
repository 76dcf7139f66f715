package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/repository"
)

// EntryStore keeps download entries in process memory.
type EntryStore[T any] struct {
	mu      sync.RWMutex
	entries map[string]domain.DownloadEntry[T]
}

func NewEntryStore[T any]() *EntryStore[T] {
	return &EntryStore[T]{entries: make(map[string]domain.DownloadEntry[T])}
}

func (s *EntryStore[T]) Get(ctx context.Context, id string) (*domain.DownloadEntry[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *EntryStore[T]) GetAll(ctx context.Context, ids []string) ([]domain.DownloadEntry[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DownloadEntry[T], 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if entry, ok := s.entries[id]; ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *EntryStore[T]) UpdateIfAbsent(ctx context.Context, id string, factory func() domain.DownloadEntry[T]) (*domain.DownloadEntry[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return nil, nil
	}
	entry := factory()
	entry.ID = id
	entry.Version = 1
	s.entries[id] = entry
	return &entry, nil
}

func (s *EntryStore[T]) Save(ctx context.Context, entry domain.DownloadEntry[T]) (*domain.DownloadEntry[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.entries[entry.ID]
	switch {
	case !exists && entry.Version != 0:
		return nil, repository.ErrVersionConflict
	case exists && stored.Version != entry.Version:
		return nil, repository.ErrVersionConflict
	}

	entry.Version++
	s.entries[entry.ID] = entry
	return &entry, nil
}

func (s *EntryStore[T]) ListByStatus(ctx context.Context, status domain.DownloadStatus, before time.Time, limit int) ([]domain.DownloadEntry[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []domain.DownloadEntry[T]
	for _, entry := range s.entries {
		if entry.Status != status {
			continue
		}
		if at := entry.StatusTime(); at != nil && !at.Before(before) {
			continue
		}
		out = append(out, entry)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ repository.EntryStore[struct{}]  = (*EntryStore[struct{}])(nil)
	_ repository.EntryLister[struct{}] = (*EntryStore[struct{}])(nil)
)
