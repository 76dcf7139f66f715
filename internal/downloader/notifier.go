package downloader

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"meta-pipeline/internal/domain"
)

// Notifiers fans a notification out to every member and joins their errors.
type Notifiers[T any] []Notifier[T]

func (n Notifiers[T]) Notify(ctx context.Context, entry domain.DownloadEntry[T]) error {
	var errs []error
	for _, notifier := range n {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier logs every successful download.
type LogNotifier[T any] struct {
	Type   string
	Logger *logrus.Logger
}

func (n LogNotifier[T]) Notify(_ context.Context, entry domain.DownloadEntry[T]) error {
	n.Logger.WithFields(logrus.Fields{
		"type":      n.Type,
		"id":        entry.ID,
		"version":   entry.Version,
		"downloads": entry.Downloads,
	}).Info("metadata updated")
	return nil
}
