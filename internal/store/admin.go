package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevenMor/repensare-sub001/internal/domain"
)

// AdminConfig returns the singleton admin settings document, or ErrNotFound
// when nothing has been saved yet.
func (db *DB) AdminConfig(ctx context.Context) (*domain.AdminConfig, error) {
	var raw string
	if err := db.sql.GetContext(ctx, &raw, `SELECT data FROM admin_config WHERE id = 1`); err != nil {
		return nil, notFound(err)
	}
	var cfg domain.AdminConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decoding admin config: %w", err)
	}
	return &cfg, nil
}

// SaveAdminConfig replaces the admin settings document.
func (db *DB) SaveAdminConfig(ctx context.Context, cfg *domain.AdminConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding admin config: %w", err)
	}
	_, err = db.sql.ExecContext(ctx,
		`INSERT INTO admin_config (id, data, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), toMillis(db.now()))
	if err != nil {
		return fmt.Errorf("saving admin config: %w", err)
	}
	db.log.Info().Msg("admin config saved")
	return nil
}
