package recognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/iamgideonidoko/geoshield/internal/models"
)

const deviceKeyPrefix = "device:"

// BadgerStorage stores one key per fingerprint in an embedded BadgerDB.
type BadgerStorage struct {
	db *badger.DB
}

func NewBadgerStorage(db *badger.DB) *BadgerStorage {
	return &BadgerStorage{db: db}
}

// OpenBadger opens a database in dir, or an in-memory one when dir is empty.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

func (b *BadgerStorage) Load(_ context.Context) (map[string]*models.DeviceRecord, error) {
	records := make(map[string]*models.DeviceRecord)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(deviceKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			fp := strings.TrimPrefix(string(item.Key()), deviceKeyPrefix)

			var rec models.DeviceRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode device %s: %w", fp, err)
			}
			records[fp] = &rec
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load devices: %w", err)
	}
	return records, nil
}

// Save writes every record in one batch and deletes stored fingerprints
// that are no longer in records.
func (b *BadgerStorage) Save(_ context.Context, records map[string]*models.DeviceRecord) error {
	var stale [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(deviceKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := records[strings.TrimPrefix(string(key), deviceKeyPrefix)]; !ok {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan devices: %w", err)
	}

	wb := b.db.NewWriteBatch()
	if err := fillBatch(wb, records, stale); err != nil {
		wb.Cancel()
		return err
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush devices: %w", err)
	}
	return nil
}

func fillBatch(wb *badger.WriteBatch, records map[string]*models.DeviceRecord, stale [][]byte) error {
	for fp, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal device %s: %w", fp, err)
		}
		if err := wb.Set([]byte(deviceKeyPrefix+fp), data); err != nil {
			return fmt.Errorf("set device %s: %w", fp, err)
		}
	}
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete device: %w", err)
		}
	}
	return nil
}
