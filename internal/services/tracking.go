package services

import (
	"context"
	"sync"
	"time"

	"github.com/iamgideonidoko/geoshield/internal/models"
	"github.com/iamgideonidoko/geoshield/internal/recognition"
	"github.com/iamgideonidoko/geoshield/pkg/cache"
	"github.com/iamgideonidoko/geoshield/pkg/fingerprint"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

const reportTimeout = 15 * time.Second

// Counters shared across instances through Redis.
const (
	counterVisits     = "visits"
	counterNewDevices = "new_devices"
	counterRedirects  = "redirects:"
)

type TrackResult struct {
	Fingerprint string
	Returning   bool
	Info        models.RecognitionInfo
}

type StatisticsResponse struct {
	models.Statistics
	Shared map[string]int64 `json:"shared,omitempty"`
}

// TrackingService fingerprints visitors, records them and forwards
// events to the reporter without blocking the request.
type TrackingService struct {
	store    *recognition.Store
	cache    *cache.Cache
	reporter Reporter
	wg       sync.WaitGroup
}

// NewTrackingService wires the store with an optional cache and reporter.
func NewTrackingService(store *recognition.Store, cache *cache.Cache, reporter Reporter) *TrackingService {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &TrackingService{
		store:    store,
		cache:    cache,
		reporter: reporter,
	}
}

// Track fingerprints the visitor and records the visit under name.
func (s *TrackingService) Track(ctx context.Context, name, ip string, basic models.DeviceSignals, advanced *models.AdvancedSignals) TrackResult {
	fp := fingerprint.Generate(basic, advanced)
	returning, info := s.store.CheckAndRecord(ctx, fp, name, ip, basic, advanced)

	s.incr(ctx, counterVisits)
	if !returning {
		s.incr(ctx, counterNewDevices)
	}

	return TrackResult{
		Fingerprint: fp,
		Returning:   returning,
		Info:        info,
	}
}

// RecordDecision counts a redirect decision in the shared counters.
func (s *TrackingService) RecordDecision(ctx context.Context, d Decision) {
	s.incr(ctx, counterRedirects+string(d.Action))
}

func (s *TrackingService) incr(ctx context.Context, counter string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.IncrementMetric(ctx, counter); err != nil {
		logger.Warn("Failed to increment shared counter", map[string]any{
			"counter": counter,
			"error":   err.Error(),
		})
	}
}

// Notify reports e in the background. With a cache configured, the same
// device under the same name is reported once per cache TTL.
func (s *TrackingService) Notify(ctx context.Context, e Event) {
	if _, nop := s.reporter.(NopReporter); nop {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, reportTimeout)
		defer cancel()

		if s.cache != nil && e.Fingerprint != "" {
			first, err := s.cache.MarkReported(ctx, string(e.Kind)+":"+e.Fingerprint+":"+e.Name)
			if err == nil && !first {
				return
			}
		}

		if err := s.reporter.Report(ctx, e); err != nil {
			logger.Warn("Failed to report event", map[string]any{
				"kind":  string(e.Kind),
				"error": err.Error(),
			})
		}
	}()
}

// Wait blocks until in-flight reports finish.
func (s *TrackingService) Wait() {
	s.wg.Wait()
}

func (s *TrackingService) Statistics(ctx context.Context) StatisticsResponse {
	resp := StatisticsResponse{Statistics: s.store.Statistics()}
	if s.cache == nil {
		return resp
	}

	shared, err := s.cache.GetMetrics(ctx,
		counterVisits,
		counterNewDevices,
		counterRedirects+string(ActionNormal),
		counterRedirects+string(ActionHoneypot),
		counterRedirects+string(ActionVPNBlock),
	)
	if err != nil {
		logger.Warn("Failed to read shared counters", map[string]any{
			"error": err.Error(),
		})
		return resp
	}
	resp.Shared = shared
	return resp
}
