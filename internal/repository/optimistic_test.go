package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/repository"
	"meta-pipeline/internal/repository/memory"
)

// racingStore bumps the stored version behind the caller's back before the
// first n saves, simulating concurrent writers.
type racingStore struct {
	*memory.EntryStore[domain.ItemMeta]
	mu    sync.Mutex
	races int
	saves int
}

func (s *racingStore) Save(ctx context.Context, entry domain.DownloadEntry[domain.ItemMeta]) (*domain.DownloadEntry[domain.ItemMeta], error) {
	s.mu.Lock()
	s.saves++
	race := s.races > 0
	if race {
		s.races--
	}
	s.mu.Unlock()

	if race {
		current, err := s.EntryStore.Get(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		if _, err := s.EntryStore.Save(ctx, current.WithFailure("concurrent", time.Now(), 10)); err != nil {
			return nil, err
		}
	}
	return s.EntryStore.Save(ctx, entry)
}

func seed(t *testing.T, store repository.EntryStore[domain.ItemMeta], id string) *domain.DownloadEntry[domain.ItemMeta] {
	t.Helper()
	entry, err := store.UpdateIfAbsent(context.Background(), id, func() domain.DownloadEntry[domain.ItemMeta] {
		return domain.NewScheduledEntry[domain.ItemMeta](id, time.Now())
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
	return entry
}

func TestUpdateOptimistic_ReappliesAfterConflict(t *testing.T) {
	store := &racingStore{EntryStore: memory.NewEntryStore[domain.ItemMeta](), races: 2}
	current := seed(t, store, "a")

	calls := 0
	saved, err := repository.UpdateOptimistic[domain.ItemMeta](context.Background(), store, repository.OptimisticUpdate[domain.ItemMeta]{
		ID:      "a",
		Current: current,
		Transform: func(e domain.DownloadEntry[domain.ItemMeta]) domain.DownloadEntry[domain.ItemMeta] {
			calls++
			return e.WithSuccess(domain.ItemMeta{Name: "won"}, time.Now())
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Equal(t, domain.DownloadStatusSuccess, saved.Status)
	// both concurrent failures were kept
	assert.Equal(t, 2, saved.Fails)
	assert.Equal(t, 1, saved.Downloads)
	assert.Equal(t, int64(4), saved.Version)
}

func TestUpdateOptimistic_GivesUp(t *testing.T) {
	store := &racingStore{EntryStore: memory.NewEntryStore[domain.ItemMeta](), races: 100}
	current := seed(t, store, "a")

	_, err := repository.UpdateOptimistic[domain.ItemMeta](context.Background(), store, repository.OptimisticUpdate[domain.ItemMeta]{
		ID:          "a",
		Current:     current,
		MaxAttempts: 3,
		Transform: func(e domain.DownloadEntry[domain.ItemMeta]) domain.DownloadEntry[domain.ItemMeta] {
			return e
		},
	})
	assert.ErrorIs(t, err, repository.ErrTooManyConflicts)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
	assert.Equal(t, 3, store.saves)
}

func TestUpdateOptimistic_MissingEntry(t *testing.T) {
	store := memory.NewEntryStore[domain.ItemMeta]()

	saved, err := repository.UpdateOptimistic[domain.ItemMeta](context.Background(), store, repository.OptimisticUpdate[domain.ItemMeta]{
		ID: "ghost",
		Missing: func() domain.DownloadEntry[domain.ItemMeta] {
			return domain.NewScheduledEntry[domain.ItemMeta]("ghost", time.Now())
		},
		Transform: func(e domain.DownloadEntry[domain.ItemMeta]) domain.DownloadEntry[domain.ItemMeta] {
			return e.WithFailure("down", time.Now(), 3)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadStatusRetry, saved.Status)
	assert.Equal(t, int64(1), saved.Version)

	_, err = repository.UpdateOptimistic[domain.ItemMeta](context.Background(), store, repository.OptimisticUpdate[domain.ItemMeta]{
		ID:        "other",
		Transform: func(e domain.DownloadEntry[domain.ItemMeta]) domain.DownloadEntry[domain.ItemMeta] { return e },
	})
	assert.Error(t, err)
}

type failingStore struct {
	*memory.EntryStore[domain.ItemMeta]
}

func (failingStore) Save(context.Context, domain.DownloadEntry[domain.ItemMeta]) (*domain.DownloadEntry[domain.ItemMeta], error) {
	return nil, errors.New("disk full")
}

func TestUpdateOptimistic_PropagatesStoreErrors(t *testing.T) {
	store := failingStore{EntryStore: memory.NewEntryStore[domain.ItemMeta]()}
	current := seed(t, store, "a")

	_, err := repository.UpdateOptimistic[domain.ItemMeta](context.Background(), store, repository.OptimisticUpdate[domain.ItemMeta]{
		ID:        "a",
		Current:   current,
		Transform: func(e domain.DownloadEntry[domain.ItemMeta]) domain.DownloadEntry[domain.ItemMeta] { return e },
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrVersionConflict)
	assert.Contains(t, err.Error(), "disk full")
}
