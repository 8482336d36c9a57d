package schema

import (
	"context"
	"database/sql"
	"errors"
)

// statements is an ordered, idempotent bootstrap. The partial unique index
// uq_open_visit_per_device is the concurrency primitive for open-visit
// creation; everything else is ordinary master data and read-path support.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS devices (
	site_id VARCHAR(50) NOT NULL,
	device_id VARCHAR(100) NOT NULL,
	device_name VARCHAR(255) NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (site_id, device_id)
)`,
	`CREATE TABLE IF NOT EXISTS zones (
	site_id VARCHAR(50) NOT NULL,
	zone_id VARCHAR(100) NOT NULL,
	zone_name VARCHAR(255) NOT NULL,
	x DOUBLE PRECISION,
	y DOUBLE PRECISION,
	z DOUBLE PRECISION,
	audio_id BIGINT,
	PRIMARY KEY (site_id, zone_id)
)`,
	`CREATE TABLE IF NOT EXISTS zone_history (
	id BIGSERIAL PRIMARY KEY,
	site_id VARCHAR(50) NOT NULL,
	device_id VARCHAR(100) NOT NULL,
	zone_id VARCHAR(100) NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_open_visit_per_device
	ON zone_history (site_id, device_id)
	WHERE end_time IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_zone_history_device
	ON zone_history (site_id, device_id, start_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_zone_history_site_start
	ON zone_history (site_id, start_time)`,
	`CREATE TABLE IF NOT EXISTS anchors (
	site_id VARCHAR(50) NOT NULL,
	anchor_id VARCHAR(100) NOT NULL,
	anchor_name VARCHAR(255) NOT NULL,
	x DOUBLE PRECISION,
	y DOUBLE PRECISION,
	z DOUBLE PRECISION,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (site_id, anchor_id)
)`,
	`CREATE TABLE IF NOT EXISTS anchor_history (
	id BIGSERIAL PRIMARY KEY,
	site_id VARCHAR(50) NOT NULL,
	anchor_id VARCHAR(100) NOT NULL,
	x DOUBLE PRECISION,
	y DOUBLE PRECISION,
	z DOUBLE PRECISION,
	source VARCHAR(100),
	observed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE INDEX IF NOT EXISTS idx_anchor_history_anchor
	ON anchor_history (site_id, anchor_id, observed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audio_files (
	id BIGSERIAL PRIMARY KEY,
	site_id VARCHAR(50) NOT NULL,
	filename VARCHAR(255) NOT NULL,
	file_size BIGINT NOT NULL,
	mime_type VARCHAR(100) NOT NULL,
	file_data BYTEA NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	uploaded_by VARCHAR(100),
	description TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_audio_files_site_id ON audio_files (site_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audio_files_uploaded_at ON audio_files (site_id, uploaded_at DESC)`,
}

// EnsureSchema creates tables and indexes if they do not exist. It is a
// lightweight startup migration, safe to run on every boot.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("schema: nil db")
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}
