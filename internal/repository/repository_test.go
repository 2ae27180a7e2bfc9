package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/iamgideonidoko/geoshield/internal/models"
)

func TestRepositorySaveAndLoad(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	repo, err := NewRepository(dsn, 2, 1)
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	records := map[string]*models.DeviceRecord{
		"test-a": {Fingerprint: "test-a", Names: []string{"alice"}, VisitCount: 2, FirstSeen: now, LastSeen: now},
		"test-b": {Fingerprint: "test-b", Names: []string{"bob"}, VisitCount: 1, FirstSeen: now, LastSeen: now},
	}
	if err := repo.Save(ctx, records); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	delete(records, "test-b")
	records["test-a"].VisitCount = 3
	if err := repo.Save(ctx, records); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := loaded["test-b"]; ok {
		t.Error("Expected test-b to be pruned")
	}
	if rec := loaded["test-a"]; rec == nil || rec.VisitCount != 3 || !rec.LastSeen.Equal(now) {
		t.Errorf("loaded test-a = %+v", rec)
	}

	if err := repo.Save(ctx, map[string]*models.DeviceRecord{}); err != nil {
		t.Fatalf("cleanup Save() error = %v", err)
	}
}
