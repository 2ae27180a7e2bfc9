package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/iamgideonidoko/geoshield/internal/models"
	"github.com/iamgideonidoko/geoshield/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_records (
	fingerprint TEXT PRIMARY KEY,
	record      JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Repository stores device records in PostgreSQL, one row per fingerprint.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(dsn string, maxConns, maxIdleConns int) (*Repository, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Repository{db: db}, nil
}

// Migrate creates the device table if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create device_records: %w", err)
	}
	return nil
}

type deviceRow struct {
	Fingerprint string    `db:"fingerprint"`
	Record      []byte    `db:"record"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Load reads every stored device. Rows that fail to decode are skipped.
func (r *Repository) Load(ctx context.Context) (map[string]*models.DeviceRecord, error) {
	var rows []deviceRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT fingerprint, record, updated_at FROM device_records`); err != nil {
		return nil, fmt.Errorf("failed to load device records: %w", err)
	}

	records := make(map[string]*models.DeviceRecord, len(rows))
	for _, row := range rows {
		var rec models.DeviceRecord
		if err := json.Unmarshal(row.Record, &rec); err != nil {
			logger.Warn("Skipping undecodable device record", map[string]any{
				"fingerprint": row.Fingerprint,
				"error":       err.Error(),
			})
			continue
		}
		records[row.Fingerprint] = &rec
	}
	return records, nil
}

// Save upserts every record and removes rows missing from records, all in
// one transaction.
func (r *Repository) Save(ctx context.Context, records map[string]*models.DeviceRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logger.Warn("Failed to roll back device save", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO device_records (fingerprint, record, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (fingerprint) DO UPDATE
		SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	keys := make([]string, 0, len(records))
	for fp, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal device %s: %w", fp, err)
		}
		if _, err := stmt.ExecContext(ctx, fp, data); err != nil {
			return fmt.Errorf("failed to upsert device %s: %w", fp, err)
		}
		keys = append(keys, fp)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM device_records WHERE NOT (fingerprint = ANY($1))`, pq.Array(keys),
	); err != nil {
		return fmt.Errorf("failed to prune device records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit device records: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// HealthCheck verifies database connectivity.
func (r *Repository) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.db.PingContext(ctx)
}
