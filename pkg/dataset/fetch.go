// Package dataset downloads, caches and parses the IP range datasets behind
// the country and VPN classifiers.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

var (
	// ErrNoData means neither the remote source nor any local copy could be read.
	ErrNoData = errors.New("no dataset available")
)

const (
	DefaultTimeout = 15 * time.Second
	DefaultMaxSize = 256 << 20
)

// Origin tells where the bytes returned by Fetch came from.
type Origin string

const (
	OriginDownload Origin = "download"
	OriginCache    Origin = "cache"
	OriginFallback Origin = "fallback"
	OriginLocal    Origin = "local"
)

// Source describes one dataset: where to download it, where to keep the
// downloaded copy and which bundled file to use when both are unavailable.
type Source struct {
	URL          string
	CachePath    string
	FallbackPath string
	MaxAge       time.Duration
}

// Fetcher downloads datasets into a local cache behind a circuit breaker.
type Fetcher struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[struct{}]
	maxSize   int64
	userAgent string
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = client }
}

func WithMaxSize(n int64) FetcherOption {
	return func(f *Fetcher) { f.maxSize = n }
}

func NewFetcher(name string, timeout time.Duration, opts ...FetcherOption) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	f := &Fetcher{
		client:    &http.Client{Timeout: timeout},
		maxSize:   DefaultMaxSize,
		userAgent: "geoshield-dataset/1.0",
	}
	for _, opt := range opts {
		opt(f)
	}

	f.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Dataset download breaker changed state", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return f
}

// Fetch returns the dataset bytes. A URL source is downloaded into CachePath
// when the cached copy is missing or older than MaxAge; MaxAge <= 0 forces a
// download. Download failures fall back to the cached copy, then to
// FallbackPath, and only return ErrNoData when nothing is readable.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]byte, Origin, error) {
	if src.URL == "" || !isURL(src.URL) {
		path := src.URL
		if path == "" {
			path = src.FallbackPath
		}
		if path == "" {
			return nil, "", fmt.Errorf("%w: no source configured", ErrNoData)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrNoData, err)
		}
		return data, OriginLocal, nil
	}

	if src.CachePath == "" {
		data, err := f.downloadBytes(ctx, src.URL)
		if err == nil {
			return data, OriginDownload, nil
		}
		logger.Warn("Dataset download failed", map[string]any{
			"url":   src.URL,
			"error": err.Error(),
		})
		return f.readFallback(src, err)
	}

	var downloadErr error
	if FileIsStale(src.CachePath, src.MaxAge) {
		downloadErr = f.download(ctx, src.URL, src.CachePath)
		if downloadErr == nil {
			data, err := os.ReadFile(src.CachePath)
			if err != nil {
				return nil, "", fmt.Errorf("failed to read downloaded dataset: %w", err)
			}
			return data, OriginDownload, nil
		}
	}

	data, err := os.ReadFile(src.CachePath)
	if err == nil {
		if downloadErr != nil {
			logger.Warn("Failed to refresh dataset, using cached copy", map[string]any{
				"url":   src.URL,
				"cache": src.CachePath,
				"error": downloadErr.Error(),
			})
		}
		return data, OriginCache, nil
	}

	if downloadErr == nil {
		downloadErr = err
	}
	logger.Warn("Dataset download failed and no cached copy exists", map[string]any{
		"url":   src.URL,
		"cache": src.CachePath,
		"error": downloadErr.Error(),
	})
	return f.readFallback(src, downloadErr)
}

func (f *Fetcher) readFallback(src Source, cause error) ([]byte, Origin, error) {
	if src.FallbackPath == "" {
		return nil, "", fmt.Errorf("%w: %v", ErrNoData, cause)
	}
	data, err := os.ReadFile(src.FallbackPath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v (fallback: %v)", ErrNoData, cause, err)
	}
	logger.Warn("Using bundled fallback dataset", map[string]any{
		"path": src.FallbackPath,
	})
	return data, OriginFallback, nil
}

// download fetches url into dest through a temporary file so readers of
// dest never observe a partial download.
func (f *Fetcher) download(ctx context.Context, url, dest string) error {
	_, err := f.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, f.downloadTo(ctx, url, dest)
	})
	return err
}

func (f *Fetcher) downloadTo(ctx context.Context, url, dest string) error {
	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	body, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	logger.Info("Downloading dataset", map[string]any{
		"url":  url,
		"dest": dest,
	})

	tmpPath := dest + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := io.Copy(tmp, io.LimitReader(body, f.maxSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > f.maxSize {
		err = fmt.Errorf("dataset exceeds %d bytes", f.maxSize)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write dataset: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move dataset into place: %w", err)
	}

	logger.Info("Download complete", map[string]any{
		"dest":  dest,
		"bytes": n,
	})
	return nil
}

func (f *Fetcher) downloadBytes(ctx context.Context, url string) ([]byte, error) {
	return f.breakerBytes(func() ([]byte, error) {
		body, err := f.get(ctx, url)
		if err != nil {
			return nil, err
		}
		defer body.Close()

		data, err := io.ReadAll(io.LimitReader(body, f.maxSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if int64(len(data)) > f.maxSize {
			return nil, fmt.Errorf("dataset exceeds %d bytes", f.maxSize)
		}
		return data, nil
	})
}

func (f *Fetcher) breakerBytes(fn func() ([]byte, error)) ([]byte, error) {
	var data []byte
	_, err := f.breaker.Execute(func() (struct{}, error) {
		var err error
		data, err = fn()
		return struct{}{}, err
	})
	return data, err
}

func (f *Fetcher) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// FileIsStale reports whether path is missing or older than maxAge.
func FileIsStale(path string, maxAge time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > maxAge
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
