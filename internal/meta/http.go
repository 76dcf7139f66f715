// Package meta fetches item and collection metadata over HTTP.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"meta-pipeline/internal/domain"
	"meta-pipeline/internal/downloader"
)

const (
	idPlaceholder      = "{id}"
	defaultMaxBytes    = 4 << 20
	defaultUserAgent   = "meta-pipeline/1.0"
	defaultHTTPTimeout = 30 * time.Second
)

type Config struct {
	// URLTemplate is the metadata endpoint; "{id}" is replaced by the
	// path-escaped entity id.
	URLTemplate string
	UserAgent   string
	// MaxBytes caps the response body size.
	MaxBytes int64
	// RateLimit is the number of requests per second, zero means unlimited.
	RateLimit float64
	Client    *http.Client
}

// HTTPDownloader is a downloader.Downloader decoding a JSON document into T.
type HTTPDownloader[T any] struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPDownloader[T any](cfg Config) (*HTTPDownloader[T], error) {
	if !strings.Contains(cfg.URLTemplate, idPlaceholder) {
		return nil, fmt.Errorf("url template %q has no %s placeholder", cfg.URLTemplate, idPlaceholder)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	d := &HTTPDownloader[T]{cfg: cfg, client: client}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return d, nil
}

// NewItemDownloader downloads domain.ItemMeta documents.
func NewItemDownloader(cfg Config) (*HTTPDownloader[domain.ItemMeta], error) {
	return NewHTTPDownloader[domain.ItemMeta](cfg)
}

// NewCollectionDownloader downloads domain.CollectionMeta documents.
func NewCollectionDownloader(cfg Config) (*HTTPDownloader[domain.CollectionMeta], error) {
	return NewHTTPDownloader[domain.CollectionMeta](cfg)
}

func (d *HTTPDownloader[T]) Download(ctx context.Context, id string) (T, error) {
	var data T

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return data, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL(id), nil)
	if err != nil {
		return data, downloader.NewDownloadError(id, "invalid request", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return data, downloader.NewDownloadError(id, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return data, downloader.NewDownloadError(id, "metadata not found", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, downloader.NewDownloadError(id, fmt.Sprintf("unexpected status code %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if err != nil {
		return data, downloader.NewDownloadError(id, "read body", err)
	}
	if int64(len(body)) > d.cfg.MaxBytes {
		return data, downloader.NewDownloadError(id, fmt.Sprintf("metadata larger than %d bytes", d.cfg.MaxBytes), nil)
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return data, downloader.NewDownloadError(id, "invalid metadata", err)
	}
	return data, nil
}

// URL renders the endpoint of id.
func (d *HTTPDownloader[T]) URL(id string) string {
	return strings.ReplaceAll(d.cfg.URLTemplate, idPlaceholder, url.PathEscape(id))
}

var (
	_ downloader.Downloader[domain.ItemMeta]       = (*HTTPDownloader[domain.ItemMeta])(nil)
	_ downloader.Downloader[domain.CollectionMeta] = (*HTTPDownloader[domain.CollectionMeta])(nil)
)
