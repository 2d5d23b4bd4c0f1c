package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// SettingsRepository stores JSON documents under a string key.
type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get decodes the document stored under key into dst.
func (r *SettingsRepository) Get(ctx context.Context, key string, dst any) error {
	const query = `SELECT value FROM settings WHERE key = $1`
	var raw []byte
	if err := r.db.QueryRowContext(ctx, query, key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(raw, dst)
}

// Put upserts the JSON encoding of value under key.
func (r *SettingsRepository) Put(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	_, err = r.db.ExecContext(ctx, query, key, raw, time.Now().UTC())
	return err
}
