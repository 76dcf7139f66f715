package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/repository"
)

func newItemRepository(t *testing.T) *EntryRepository[domain.ItemMeta] {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewEntryRepository[domain.ItemMeta](db, "item_meta_entries")
	require.NoError(t, err)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestNewEntryRepository_RejectsBadTable(t *testing.T) {
	_, err := NewEntryRepository[domain.ItemMeta](nil, "items; DROP TABLE x")
	assert.Error(t, err)
}

func TestEntryRepository_RoundTrip(t *testing.T) {
	repo := newItemRepository(t)
	ctx := context.Background()
	scheduledAt := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)

	created, err := repo.UpdateIfAbsent(ctx, "eth:0xabc:7", func() domain.DownloadEntry[domain.ItemMeta] {
		return domain.NewScheduledEntry[domain.ItemMeta]("eth:0xabc:7", scheduledAt)
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, int64(1), created.Version)

	loaded, err := repo.Get(ctx, "eth:0xabc:7")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, domain.DownloadStatusScheduled, loaded.Status)
	require.NotNil(t, loaded.ScheduledAt)
	assert.True(t, loaded.ScheduledAt.Equal(scheduledAt))
	assert.Nil(t, loaded.Data)
	assert.Nil(t, loaded.SucceedAt)

	meta := domain.ItemMeta{
		Name:       "Punk #7",
		Attributes: []domain.MetaAttribute{{Key: "hat", Value: "cap"}},
		Content:    []domain.MetaContent{{URL: "ipfs://img", Representation: "ORIGINAL"}},
	}
	succeedAt := scheduledAt.Add(time.Minute)
	saved, err := repo.Save(ctx, loaded.WithSuccess(meta, succeedAt))
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	loaded, err = repo.Get(ctx, "eth:0xabc:7")
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadStatusSuccess, loaded.Status)
	assert.Equal(t, int64(2), loaded.Version)
	assert.Equal(t, 1, loaded.Downloads)
	require.NotNil(t, loaded.Data)
	assert.Equal(t, meta, *loaded.Data)
	require.NotNil(t, loaded.SucceedAt)
	assert.True(t, loaded.SucceedAt.Equal(succeedAt))
}

func TestEntryRepository_UpdateIfAbsent_Concurrent(t *testing.T) {
	repo := newItemRepository(t)
	ctx := context.Background()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := repo.UpdateIfAbsent(ctx, "dup", func() domain.DownloadEntry[domain.ItemMeta] {
				return domain.NewScheduledEntry[domain.ItemMeta]("dup", time.Now())
			})
			assert.NoError(t, err)
			if entry != nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
}

func TestEntryRepository_Save_Conflicts(t *testing.T) {
	repo := newItemRepository(t)
	ctx := context.Background()

	created, err := repo.UpdateIfAbsent(ctx, "a", func() domain.DownloadEntry[domain.ItemMeta] {
		return domain.NewScheduledEntry[domain.ItemMeta]("a", time.Now())
	})
	require.NoError(t, err)

	_, err = repo.Save(ctx, created.WithFailure("first", time.Now(), 3))
	require.NoError(t, err)

	_, err = repo.Save(ctx, created.WithFailure("stale", time.Now(), 3))
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	unsaved := domain.NewScheduledEntry[domain.ItemMeta]("a", time.Now())
	_, err = repo.Save(ctx, unsaved)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	other := domain.NewScheduledEntry[domain.ItemMeta]("b", time.Now())
	saved, err := repo.Save(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)
}

func TestEntryRepository_GetAllAndList(t *testing.T) {
	repo := newItemRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"c", "a", "b"} {
		entry, err := repo.UpdateIfAbsent(ctx, id, func() domain.DownloadEntry[domain.ItemMeta] {
			return domain.NewScheduledEntry[domain.ItemMeta](id, now)
		})
		require.NoError(t, err)
		failedAt := now.Add(-2 * time.Hour)
		if id == "c" {
			failedAt = now
		}
		_, err = repo.Save(ctx, entry.WithFailure("x", failedAt, 3))
		require.NoError(t, err)
	}

	all, err := repo.GetAll(ctx, []string{"b", "a", "zzz"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)

	empty, err := repo.GetAll(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	due, err := repo.ListByStatus(ctx, domain.DownloadStatusRetry, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].ID)
	assert.Equal(t, "b", due[1].ID)

	limited, err := repo.ListByStatus(ctx, domain.DownloadStatusRetry, now.Add(time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestEntryRepository_InitAddsLateColumns(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE collection_meta_entries (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		data TEXT NULL,
		scheduled_at DATETIME NULL,
		succeed_at DATETIME NULL,
		failed_at DATETIME NULL,
		retries INTEGER NOT NULL DEFAULT 0,
		fails INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	require.NoError(t, err)

	repo, err := NewEntryRepository[domain.CollectionMeta](db, "collection_meta_entries")
	require.NoError(t, err)
	require.NoError(t, repo.Init(ctx))
	require.NoError(t, repo.Init(ctx))

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	created, err := repo.UpdateIfAbsent(ctx, "0xabc", func() domain.DownloadEntry[domain.CollectionMeta] {
		return domain.NewScheduledEntry[domain.CollectionMeta]("0xabc", at)
	})
	require.NoError(t, err)

	saved, err := repo.Save(ctx, created.WithSuccess(domain.CollectionMeta{Name: "Punks"}, at))
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Downloads)

	got, err := repo.Get(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Downloads)
	assert.Equal(t, "Punks", got.Data.Name)
}

func TestEntryRepository_ListScheduledByScheduledAt(t *testing.T) {
	repo := newItemRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for id, at := range map[string]time.Time{"old": now.Add(-time.Hour), "new": now} {
		_, err := repo.UpdateIfAbsent(ctx, id, func() domain.DownloadEntry[domain.ItemMeta] {
			return domain.NewScheduledEntry[domain.ItemMeta](id, at)
		})
		require.NoError(t, err)
	}

	stuck, err := repo.ListByStatus(ctx, domain.DownloadStatusScheduled, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "old", stuck[0].ID)

	retry, err := repo.ListByStatus(ctx, domain.DownloadStatusRetry, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, retry)
}
