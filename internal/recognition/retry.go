package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iamgideonidoko/geoshield/internal/models"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// Backoff bounds how a failing call is retried. The wait doubles after each
// failure up to Max.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

var (
	// DefaultSaveBackoff is short: Save runs with the store lock held.
	DefaultSaveBackoff = Backoff{Attempts: 3, Initial: 50 * time.Millisecond, Max: 200 * time.Millisecond}

	DefaultConnectBackoff = Backoff{Attempts: 5, Initial: 100 * time.Millisecond, Max: 5 * time.Second}
)

// Retry calls op until it succeeds, ctx is done or the attempts run out.
// Context errors returned by op are not retried.
func Retry(ctx context.Context, b Backoff, what string, op func(context.Context) error) error {
	var lastErr error
	wait := b.Initial

	for attempt := 1; attempt <= b.Attempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == b.Attempts {
			break
		}

		logger.Warn("Operation failed, retrying", map[string]any{
			"operation": what,
			"attempt":   attempt,
			"max":       b.Attempts,
			"wait_ms":   wait.Milliseconds(),
			"error":     err.Error(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, b.Max)
	}

	return fmt.Errorf("%w: %s: %v", ErrRetriesExhausted, what, lastErr)
}

// RetryingStorage retries a backend whose failures are usually transient,
// such as a dropped Postgres connection or a Badger transaction conflict.
type RetryingStorage struct {
	next    Storage
	backoff Backoff
}

func WithRetries(next Storage, b Backoff) *RetryingStorage {
	return &RetryingStorage{next: next, backoff: b}
}

func (r *RetryingStorage) Load(ctx context.Context) (map[string]*models.DeviceRecord, error) {
	var records map[string]*models.DeviceRecord
	err := Retry(ctx, r.backoff, "load device history", func(ctx context.Context) error {
		var err error
		records, err = r.next.Load(ctx)
		return err
	})
	return records, err
}

func (r *RetryingStorage) Save(ctx context.Context, records map[string]*models.DeviceRecord) error {
	return Retry(ctx, r.backoff, "save device history", func(ctx context.Context) error {
		return r.next.Save(ctx, records)
	})
}
