package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/downloader"
)

// ObjectStore writes objects to remote storage.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) (string, error)
}

// Archive keeps a copy of every successfully downloaded payload at
// <prefix>/<type>/<id>.json.
type Archive[T any] struct {
	store  ObjectStore
	bucket string
	prefix string
	typ    string
}

func NewArchive[T any](store ObjectStore, bucket, keyPrefix, entityType string) (*Archive[T], error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	return &Archive[T]{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(keyPrefix, "/"),
		typ:    entityType,
	}, nil
}

func (a *Archive[T]) Key(id string) string {
	return path.Join(a.prefix, a.typ, strings.ReplaceAll(id, "/", "_")+".json")
}

func (a *Archive[T]) Notify(ctx context.Context, entry domain.DownloadEntry[T]) error {
	if entry.Data == nil {
		return nil
	}
	body, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", a.typ, entry.ID, err)
	}
	if _, err := a.store.Put(ctx, a.bucket, a.Key(entry.ID), bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("archive %s %s: %w", a.typ, entry.ID, err)
	}
	return nil
}

var _ downloader.Notifier[domain.CollectionMeta] = (*Archive[domain.CollectionMeta])(nil)
