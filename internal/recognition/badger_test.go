package recognition

import (
	"context"
	"testing"

	"github.com/iamgideonidoko/geoshield/internal/models"
)

func newTestBadger(t *testing.T) *BadgerStorage {
	t.Helper()
	db, err := OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStorage(db)
}

func TestBadgerStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := newTestBadger(t)

	s := New(ctx, storage, WithClock(newFakeClock().Now))
	s.CheckAndRecord(ctx, "fp-a", "alice", "1.1.1.1", signals(), nil)
	s.CheckAndRecord(ctx, "fp-a", "bob", "1.1.1.1", signals(), nil)
	s.CheckAndRecord(ctx, "fp-b", "carol", "2.2.2.2", signals(), nil)

	restored := New(ctx, storage)
	if restored.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", restored.Len())
	}
	rec, _ := restored.Get("fp-a")
	if rec.VisitCount != 2 || len(rec.Names) != 2 {
		t.Errorf("restored record = %+v", rec)
	}
}

func TestBadgerStorageRemovesStaleKeys(t *testing.T) {
	ctx := context.Background()
	storage := newTestBadger(t)

	all := map[string]*models.DeviceRecord{
		"keep": {Fingerprint: "keep", VisitCount: 1},
		"drop": {Fingerprint: "drop", VisitCount: 1},
	}
	if err := storage.Save(ctx, all); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	delete(all, "drop")
	if err := storage.Save(ctx, all); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := storage.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := loaded["drop"]; ok || len(loaded) != 1 {
		t.Errorf("Load() = %v, want only keep", loaded)
	}
}
