package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meta-pipeline/internal/domain"
)

// Downloader fetches the raw data of one entity key.
type Downloader[T any] interface {
	Download(ctx context.Context, id string) (T, error)
}

// DownloaderFunc adapts a function to the Downloader interface.
type DownloaderFunc[T any] func(ctx context.Context, id string) (T, error)

func (f DownloaderFunc[T]) Download(ctx context.Context, id string) (T, error) {
	return f(ctx, id)
}

// DownloadError is the expected failure of a Downloader.
type DownloadError struct {
	ID      string
	Message string
	Err     error
}

func NewDownloadError(id, message string, err error) *DownloadError {
	return &DownloadError{ID: id, Message: message, Err: err}
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download %s: %s: %v", e.ID, e.Message, e.Err)
	}
	return fmt.Sprintf("download %s: %s", e.ID, e.Message)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// failureMessage extracts the human readable message stored on the entry.
func failureMessage(err error) string {
	var downloadErr *DownloadError
	if errors.As(err, &downloadErr) {
		if downloadErr.Err != nil {
			return fmt.Sprintf("%s: %v", downloadErr.Message, downloadErr.Err)
		}
		return downloadErr.Message
	}
	return err.Error()
}

// Notifier receives entries right after a successful download was saved.
type Notifier[T any] interface {
	Notify(ctx context.Context, entry domain.DownloadEntry[T]) error
}

// Metrics collects pipeline counters.
type Metrics interface {
	TaskScheduled(entityType string, pipeline domain.Pipeline, force bool, outcome string)
	DownloadSkipped(entityType string, pipeline domain.Pipeline, force bool)
	DownloadStarted(entityType string, pipeline domain.Pipeline)
	DownloadFinished(entityType string, pipeline domain.Pipeline, force bool, outcome string, elapsed time.Duration)
}

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeSkip  = "skip"
	OutcomeFail  = "fail"
	OutcomeRetry = "retry"
)

type nopMetrics struct{}

func (nopMetrics) TaskScheduled(string, domain.Pipeline, bool, string) {}
func (nopMetrics) DownloadSkipped(string, domain.Pipeline, bool)       {}
func (nopMetrics) DownloadStarted(string, domain.Pipeline)             {}
func (nopMetrics) DownloadFinished(string, domain.Pipeline, bool, string, time.Duration) {
}
