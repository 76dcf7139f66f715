package domain

import "time"

type DownloadStatus string

const (
	DownloadStatusScheduled DownloadStatus = "SCHEDULED"
	DownloadStatusSuccess   DownloadStatus = "SUCCESS"
	DownloadStatusFailed    DownloadStatus = "FAILED"
	DownloadStatusRetry     DownloadStatus = "RETRY"
)

// DownloadEntry is the durable download state of one entity key.
// Data is only ever replaced on success, never cleared.
type DownloadEntry[T any] struct {
	ID           string         `json:"id"`
	Status       DownloadStatus `json:"status"`
	Data         *T             `json:"data,omitempty"`
	ScheduledAt  *time.Time     `json:"scheduledAt,omitempty"`
	SucceedAt    *time.Time     `json:"succeedAt,omitempty"`
	FailedAt     *time.Time     `json:"failedAt,omitempty"`
	Retries      int            `json:"retries"`
	Fails        int            `json:"fails"`
	Downloads    int            `json:"downloads"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	// Version is 0 for entries that were never persisted.
	Version int64 `json:"version"`
}

// NewScheduledEntry builds the initial entry for a freshly admitted key.
func NewScheduledEntry[T any](id string, scheduledAt time.Time) DownloadEntry[T] {
	at := scheduledAt.UTC()
	return DownloadEntry[T]{
		ID:          id,
		Status:      DownloadStatusScheduled,
		ScheduledAt: &at,
	}
}

// IsStale reports whether the entry already holds a success newer than the
// moment the task's need for data arose.
func (e DownloadEntry[T]) IsStale(task DownloadTask) bool {
	if e.SucceedAt == nil {
		return false
	}
	return task.ScheduledAt.Before(*e.SucceedAt)
}

// StatusTime is the moment the entry entered its current status.
func (e DownloadEntry[T]) StatusTime() *time.Time {
	switch e.Status {
	case DownloadStatusScheduled:
		return e.ScheduledAt
	case DownloadStatusSuccess:
		return e.SucceedAt
	default:
		return e.FailedAt
	}
}

func (e DownloadEntry[T]) WithSuccess(data T, now time.Time) DownloadEntry[T] {
	at := now.UTC()
	e.Status = DownloadStatusSuccess
	e.Data = &data
	e.SucceedAt = &at
	e.Retries = 0
	e.Downloads++
	return e
}

// WithFailure records a failed attempt. Terminal states (SUCCESS, FAILED)
// keep their status and data; only the failure counters move.
func (e DownloadEntry[T]) WithFailure(message string, now time.Time, maxRetries int) DownloadEntry[T] {
	at := now.UTC()
	e.Fails++
	e.FailedAt = &at
	e.ErrorMessage = message

	switch e.Status {
	case DownloadStatusSuccess, DownloadStatusFailed:
	case DownloadStatusRetry:
		e.Retries++
		if e.Retries >= maxRetries {
			e.Status = DownloadStatusFailed
		}
	default:
		e.Retries = 0
		if maxRetries <= 0 {
			e.Status = DownloadStatusFailed
		} else {
			e.Status = DownloadStatusRetry
		}
	}
	return e
}

// EntryView is a type-erased snapshot of an entry, used by outer surfaces
// that serve several entity types at once.
type EntryView struct {
	ID           string         `json:"id"`
	Status       DownloadStatus `json:"status"`
	Data         any            `json:"data,omitempty"`
	ScheduledAt  *time.Time     `json:"scheduledAt,omitempty"`
	SucceedAt    *time.Time     `json:"succeedAt,omitempty"`
	FailedAt     *time.Time     `json:"failedAt,omitempty"`
	Retries      int            `json:"retries"`
	Fails        int            `json:"fails"`
	Downloads    int            `json:"downloads"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Version      int64          `json:"version"`
}

func (e DownloadEntry[T]) View() EntryView {
	view := EntryView{
		ID:           e.ID,
		Status:       e.Status,
		ScheduledAt:  e.ScheduledAt,
		SucceedAt:    e.SucceedAt,
		FailedAt:     e.FailedAt,
		Retries:      e.Retries,
		Fails:        e.Fails,
		Downloads:    e.Downloads,
		ErrorMessage: e.ErrorMessage,
		Version:      e.Version,
	}
	if e.Data != nil {
		view.Data = *e.Data
	}
	return view
}
