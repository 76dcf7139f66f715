package repository

import (
	"context"
	"errors"
	"fmt"

	"meta-pipeline/internal/domain"
)

const DefaultOptimisticAttempts = 5

// OptimisticUpdate describes one read-modify-write of a single entry.
type OptimisticUpdate[T any] struct {
	ID string
	// Current is the snapshot to start from; nil forces an initial read.
	Current *domain.DownloadEntry[T]
	// Missing builds the entry to use when the store has none.
	Missing func() domain.DownloadEntry[T]
	// Transform must be pure: it may run once per attempt.
	Transform   func(domain.DownloadEntry[T]) domain.DownloadEntry[T]
	MaxAttempts int
}

// UpdateOptimistic applies u.Transform and saves the result, reloading and
// reapplying whenever the save loses a version race.
func UpdateOptimistic[T any](ctx context.Context, store EntryStore[T], u OptimisticUpdate[T]) (*domain.DownloadEntry[T], error) {
	attempts := u.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultOptimisticAttempts
	}

	current := u.Current
	for attempt := 1; attempt <= attempts; attempt++ {
		if current == nil {
			loaded, err := store.Get(ctx, u.ID)
			if err != nil {
				return nil, fmt.Errorf("load entry %s: %w", u.ID, err)
			}
			if loaded == nil {
				if u.Missing == nil {
					return nil, fmt.Errorf("entry %s not found", u.ID)
				}
				fallback := u.Missing()
				fallback.Version = 0
				loaded = &fallback
			}
			current = loaded
		}

		saved, err := store.Save(ctx, u.Transform(*current))
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("save entry %s: %w", u.ID, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		current = nil
	}

	return nil, fmt.Errorf("update entry %s: %w: %w", u.ID, ErrTooManyConflicts, ErrVersionConflict)
}
