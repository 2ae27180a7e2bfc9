// Package recognition remembers device fingerprints across visits and
// reports how a returning device was seen before.
package recognition

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/iamgideonidoko/geoshield/internal/metrics"
	"github.com/iamgideonidoko/geoshield/internal/models"
	"github.com/iamgideonidoko/geoshield/pkg/fingerprint"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

const (
	maxVisitHistory     = 20
	displayVisitHistory = 5
)

// Storage persists the whole fingerprint map. Save receives the complete
// map and must replace whatever was stored before.
type Storage interface {
	Load(ctx context.Context) (map[string]*models.DeviceRecord, error)
	Save(ctx context.Context, records map[string]*models.DeviceRecord) error
}

type Option func(*Store)

// WithClock overrides the time source used for visit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store holds every known device in memory and writes the full map through
// to its Storage after each change.
type Store struct {
	mu      sync.Mutex
	storage Storage
	records map[string]*models.DeviceRecord
	now     func() time.Time
}

// New loads the stored history. An unreadable history is logged and the
// store starts empty.
func New(ctx context.Context, storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		records: make(map[string]*models.DeviceRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if storage == nil {
		return s
	}

	records, err := storage.Load(ctx)
	if err != nil {
		logger.Warn("Could not load device history, starting empty", map[string]any{
			"error": err.Error(),
		})
		return s
	}
	for fp, rec := range records {
		if rec == nil {
			continue
		}
		if rec.Fingerprint == "" {
			rec.Fingerprint = fp
		}
		s.records[fp] = rec
	}

	metrics.KnownDevices.Set(float64(len(s.records)))
	logger.Info("Loaded device history", map[string]any{
		"devices": len(s.records),
	})
	return s
}

// CheckAndRecord records a visit of fp under name from ip. It reports whether
// the device was already known, together with what was known about it.
func (s *Store) CheckAndRecord(ctx context.Context, fp, name, ip string, basic models.DeviceSignals, _ *models.AdvancedSignals) (bool, models.RecognitionInfo) {
	// name and ip are retained; callers may hand in views of reused buffers.
	name, ip = strings.Clone(name), strings.Clone(ip)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	visit := models.VisitEntry{
		Timestamp: now,
		Name:      name,
		IP:        ip,
		Browser:   strings.Clone(basic.Browser()),
		OS:        strings.Clone(basic.OS()),
	}

	rec, known := s.records[fp]
	if !known {
		s.records[fp] = &models.DeviceRecord{
			Fingerprint:    fp,
			Names:          []string{name},
			IPAddresses:    []string{ip},
			VisitCount:     1,
			FirstSeen:      now,
			LastSeen:       now,
			VisitHistory:   []models.VisitEntry{visit},
			LastDeviceInfo: sanitizeDeviceInfo(basic),
		}
		s.persist(ctx)

		metrics.Recognitions.WithLabelValues("new").Inc()
		metrics.KnownDevices.Set(float64(len(s.records)))

		return false, models.RecognitionInfo{
			IsReturning: false,
			CurrentName: name,
			Fingerprint: fingerprint.Display(fp),
		}
	}

	isNewName := !slices.Contains(rec.Names, name)
	if isNewName {
		rec.Names = append(rec.Names, name)
	}
	if !slices.Contains(rec.IPAddresses, ip) {
		rec.IPAddresses = append(rec.IPAddresses, ip)
	}

	rec.VisitHistory = append(rec.VisitHistory, visit)
	if n := len(rec.VisitHistory); n > maxVisitHistory {
		rec.VisitHistory = slices.Clone(rec.VisitHistory[n-maxVisitHistory:])
	}

	firstSeen := rec.FirstSeen
	lastSeen := rec.LastSeen
	rec.VisitCount++
	rec.LastSeen = now
	rec.LastDeviceInfo = sanitizeDeviceInfo(basic)

	s.persist(ctx)

	outcome := "returning"
	if isNewName {
		outcome = "new_name"
	}
	metrics.Recognitions.WithLabelValues(outcome).Inc()

	previousNames := rec.Names
	if isNewName {
		previousNames = rec.Names[:len(rec.Names)-1]
	}
	history := rec.VisitHistory
	if n := len(history); n > displayVisitHistory {
		history = history[n-displayVisitHistory:]
	}

	return true, models.RecognitionInfo{
		IsReturning:   true,
		IsNewName:     isNewName,
		PreviousNames: slices.Clone(previousNames),
		CurrentName:   name,
		PreviousIPs:   slices.Clone(rec.IPAddresses),
		VisitCount:    rec.VisitCount,
		FirstSeen:     &firstSeen,
		LastSeen:      &lastSeen,
		VisitHistory:  slices.Clone(history),
		Fingerprint:   fingerprint.Display(fp),
	}
}

// persist must be called with s.mu held. A failed save leaves the in-memory
// state authoritative; the next change writes the full map again.
func (s *Store) persist(ctx context.Context) {
	if s.storage == nil {
		return
	}
	if err := s.storage.Save(ctx, s.records); err != nil {
		metrics.StorageSaveErrors.Inc()
		logger.Error("Could not save device history", map[string]any{
			"error":   err.Error(),
			"devices": len(s.records),
		})
	}
}

func (s *Store) Statistics() models.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st models.Statistics
	st.TotalUniqueDevices = len(s.records)
	for _, rec := range s.records {
		st.TotalVisits += rec.VisitCount
		if rec.VisitCount > 1 {
			st.ReturningDevices++
		}
		if len(rec.Names) > 1 {
			st.DevicesWithMultipleNames++
		}
	}
	st.NewDevices = st.TotalUniqueDevices - st.ReturningDevices
	return st
}

// Get returns a copy of the record for fp.
func (s *Store) Get(fp string) (*models.DeviceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fp]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func sanitizeDeviceInfo(s models.DeviceSignals) models.SanitizedDeviceInfo {
	return models.SanitizedDeviceInfo{
		BrowserFamily:  strings.Clone(s.BrowserFamily),
		BrowserVersion: strings.Clone(s.BrowserVersion),
		OSFamily:       strings.Clone(s.OSFamily),
		OSVersion:      strings.Clone(s.OSVersion),
		IsMobile:       s.IsMobile,
		IsTablet:       s.IsTablet,
		IsPC:           s.IsPC,
	}
}
