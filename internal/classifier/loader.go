// Package classifier answers per-request IP questions (country code, VPN
// membership) from range indexes that are loaded lazily, shared by every
// request and replaced wholesale on refresh.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iamgideonidoko/geoshield/internal/metrics"
	"github.com/iamgideonidoko/geoshield/pkg/dataset"
	"github.com/iamgideonidoko/geoshield/pkg/iprange"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

// ErrNotReady is returned by Init when no index could be built.
var ErrNotReady = errors.New("classifier not ready")

// retryBackoff keeps requests from re-attempting a failed lazy load on every call.
const retryBackoff = 30 * time.Second

// Status describes the active index of a classifier.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	V4Ranges  int       `json:"v4_ranges"`
	V6Ranges  int       `json:"v6_ranges"`
	Origin    string    `json:"origin,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type buildFunc[T any] func(data []byte) (*iprange.Index[T], error)

// loader owns one index. Readers load the pointer without locking; a rebuild
// stores a new pointer only after the index is complete.
type loader[T any] struct {
	name    string
	source  dataset.Source
	fetcher *dataset.Fetcher
	build   buildFunc[T]

	index atomic.Pointer[iprange.Index[T]]
	group singleflight.Group

	mu          sync.RWMutex
	status      Status
	lastFailure time.Time
	dataHash    string
}

func newLoader[T any](name string, src dataset.Source, fetcher *dataset.Fetcher, build buildFunc[T]) *loader[T] {
	return &loader[T]{
		name:    name,
		source:  src,
		fetcher: fetcher,
		build:   build,
		status:  Status{Name: name},
	}
}

// current returns the active index, loading it on first use. Concurrent
// first callers share a single load.
func (l *loader[T]) current(ctx context.Context) *iprange.Index[T] {
	if idx := l.index.Load(); idx != nil {
		return idx
	}

	l.mu.RLock()
	backoff := !l.lastFailure.IsZero() && time.Since(l.lastFailure) < retryBackoff
	l.mu.RUnlock()
	if backoff {
		return nil
	}

	idx, _ := l.ensure(ctx)
	return idx
}

func (l *loader[T]) ensure(ctx context.Context) (*iprange.Index[T], error) {
	v, err, _ := l.group.Do("load", func() (any, error) {
		if idx := l.index.Load(); idx != nil {
			return idx, nil
		}
		return l.load(context.WithoutCancel(ctx), false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*iprange.Index[T]), nil
}

func (l *loader[T]) refresh(ctx context.Context, force bool) error {
	_, err, _ := l.group.Do("load", func() (any, error) {
		return l.load(ctx, force)
	})
	return err
}

func (l *loader[T]) load(ctx context.Context, force bool) (*iprange.Index[T], error) {
	src := l.source
	if force {
		src.MaxAge = 0
	}

	data, origin, err := l.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, l.fail(err)
	}
	metrics.DatasetLoads.WithLabelValues(l.name, string(origin)).Inc()

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	l.mu.RLock()
	unchanged := hash == l.dataHash
	l.mu.RUnlock()
	if current := l.index.Load(); current != nil && unchanged {
		logger.Info("IP range dataset unchanged", map[string]any{
			"classifier": l.name,
			"hash":       hash[:16],
		})
		return current, nil
	}

	idx, err := l.build(data)
	if err != nil {
		return nil, l.fail(fmt.Errorf("failed to build %s index: %w", l.name, err))
	}

	l.index.Store(idx)

	now := time.Now()
	v4, v6 := idx.Len(iprange.V4), idx.Len(iprange.V6)
	l.mu.Lock()
	l.status = Status{
		Name:     l.name,
		Ready:    true,
		V4Ranges: v4,
		V6Ranges: v6,
		Origin:   string(origin),
		LoadedAt: now,
	}
	l.lastFailure = time.Time{}
	l.dataHash = hash
	l.mu.Unlock()

	metrics.DatasetRanges.WithLabelValues(l.name, iprange.V4.String()).Set(float64(v4))
	metrics.DatasetRanges.WithLabelValues(l.name, iprange.V6.String()).Set(float64(v6))
	metrics.DatasetLastSuccess.WithLabelValues(l.name).Set(float64(now.Unix()))

	logger.Info("Loaded IP range index", map[string]any{
		"classifier": l.name,
		"origin":     string(origin),
		"ipv4":       v4,
		"ipv6":       v6,
	})
	return idx, nil
}

func (l *loader[T]) fail(err error) error {
	metrics.DatasetLoadErrors.WithLabelValues(l.name).Inc()

	l.mu.Lock()
	l.status.LastError = err.Error()
	l.lastFailure = time.Now()
	l.mu.Unlock()

	logger.Warn("Failed to load IP range index", map[string]any{
		"classifier": l.name,
		"error":      err.Error(),
	})
	return err
}

func (l *loader[T]) init(ctx context.Context) error {
	if _, err := l.ensure(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotReady, l.name, err)
	}
	return nil
}

// run re-downloads and rebuilds the index every interval until ctx is
// cancelled. A failed refresh keeps the previous index in service.
func (l *loader[T]) run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.source.MaxAge
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.refresh(ctx, true); err != nil {
				logger.Warn("Scheduled index refresh failed, serving previous data", map[string]any{
					"classifier": l.name,
					"error":      err.Error(),
				})
			}
		}
	}
}

func (l *loader[T]) getStatus() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}
