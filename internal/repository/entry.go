package repository

import (
	"context"
	"errors"
	"time"

	"meta-pipeline/internal/domain"
)

var (
	// ErrVersionConflict is returned by Save when the stored version differs
	// from the version the caller read.
	ErrVersionConflict = errors.New("entry version conflict")
	// ErrTooManyConflicts is returned by UpdateOptimistic once every attempt lost
	// the version race.
	ErrTooManyConflicts = errors.New("too many version conflicts")
)

// EntryStore exposes persistence operations for download entries.
type EntryStore[T any] interface {
	// Get returns nil, nil when no entry exists for id.
	Get(ctx context.Context, id string) (*domain.DownloadEntry[T], error)
	GetAll(ctx context.Context, ids []string) ([]domain.DownloadEntry[T], error)
	// UpdateIfAbsent persists factory() only if no entry exists for id and
	// returns it; it returns nil, nil when an entry was already present.
	UpdateIfAbsent(ctx context.Context, id string, factory func() domain.DownloadEntry[T]) (*domain.DownloadEntry[T], error)
	// Save writes entry if the stored version still equals entry.Version and
	// returns the stored entry with its new version.
	Save(ctx context.Context, entry domain.DownloadEntry[T]) (*domain.DownloadEntry[T], error)
}

// EntryLister lists entries for background jobs.
type EntryLister[T any] interface {
	// ListByStatus returns entries in status that entered it before the given
	// time (see DownloadEntry.StatusTime), ordered by id.
	ListByStatus(ctx context.Context, status domain.DownloadStatus, before time.Time, limit int) ([]domain.DownloadEntry[T], error)
}
