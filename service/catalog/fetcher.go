package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxCatalogSize bounds the catalog response body.
const maxCatalogSize = 4 << 20

// Fetcher loads the property catalog from its HTTP endpoint.
type Fetcher struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a catalog fetcher. A nil httpClient gets a 30s timeout.
func NewFetcher(url string, httpClient *http.Client, logger *slog.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Fetcher{
		url:        url,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Fetch downloads and validates the catalog. No partial catalog is ever returned.
func (f *Fetcher) Fetch(ctx context.Context) ([]PropertyConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d when fetching %s", resp.StatusCode, f.url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	configs, err := Decode(body)
	if err != nil {
		f.logger.ErrorContext(ctx, "catalog rejected", "url", f.url, "error", err)
		return nil, err
	}

	f.logger.InfoContext(ctx, "catalog loaded", "url", f.url, "entries", len(configs))
	return configs, nil
}

// FetchWithRetry calls Fetch until it succeeds or b gives up. A malformed
// catalog is returned immediately since retrying cannot fix it.
func (f *Fetcher) FetchWithRetry(ctx context.Context, b backoff.BackOff) ([]PropertyConfig, error) {
	return backoff.RetryNotifyWithData(func() ([]PropertyConfig, error) {
		configs, err := f.Fetch(ctx)
		if errors.Is(err, ErrInvalidEntry) {
			return nil, backoff.Permanent(err)
		}
		return configs, err
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		f.logger.WarnContext(ctx, "catalog fetch failed, retrying", "url", f.url, "error", err, "backoff", d)
	})
}
