package recognition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/iamgideonidoko/geoshield/internal/models"
)

// FileStorage keeps the history as one indented JSON object keyed by
// fingerprint.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Load returns an empty map when the file does not exist yet.
func (f *FileStorage) Load(_ context.Context) (map[string]*models.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*models.DeviceRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read device history: %w", err)
	}

	records := make(map[string]*models.DeviceRecord)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode device history %s: %w", f.path, err)
	}
	return records, nil
}

// Save writes to a temporary file and renames it over the history so a
// crash never leaves a truncated file behind.
func (f *FileStorage) Save(_ context.Context, records map[string]*models.DeviceRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode device history: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write device history: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace device history: %w", err)
	}
	return nil
}
