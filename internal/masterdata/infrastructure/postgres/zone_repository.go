package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	masterdata "zone-tracker/internal/masterdata/domain"
)

const defaultZonesTable = "zones"

// ZoneRepository is a Postgres implementation for zones.
type ZoneRepository struct {
	db    *sql.DB
	table string
}

// NewZoneRepository constructs a repository.
func NewZoneRepository(db *sql.DB, opts ...ZoneOption) *ZoneRepository {
	repo := &ZoneRepository{db: db, table: defaultZonesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ZoneOption configures the repository.
type ZoneOption func(*ZoneRepository)

// WithZonesTable overrides the default table name.
func WithZonesTable(table string) ZoneOption {
	return func(repo *ZoneRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// List returns all zones of a site ordered by zone id.
func (r *ZoneRepository) List(ctx context.Context, siteID string) ([]masterdata.Zone, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("zone repo: nil db")
	}
	if siteID == "" {
		return nil, errors.New("zone repo: empty site id")
	}

	query := fmt.Sprintf(`
SELECT site_id, zone_id, zone_name, x, y, z, audio_id
FROM %s
WHERE site_id = $1
ORDER BY zone_id`, r.table)

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []masterdata.Zone
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, zone)
	}
	return zones, rows.Err()
}

// Save upserts a zone, overwriting name, coordinates and audio binding.
// This is the administrative write path; event ingestion only auto-registers
// placeholder rows and never overwrites what is saved here.
func (r *ZoneRepository) Save(ctx context.Context, zone *masterdata.Zone) error {
	if r == nil || r.db == nil {
		return errors.New("zone repo: nil db")
	}
	if zone == nil {
		return errors.New("zone repo: nil zone")
	}
	if err := zone.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, r.upsertQuery(), zone.SiteID, zone.ZoneID, zone.Name,
		nullFloat(zone.X), nullFloat(zone.Y), nullFloat(zone.Z), nullInt(zone.AudioID))
	return err
}

// SaveBulk upserts zones in one transaction so a failed batch leaves the
// table untouched.
func (r *ZoneRepository) SaveBulk(ctx context.Context, zones []masterdata.Zone) error {
	if r == nil || r.db == nil {
		return errors.New("zone repo: nil db")
	}
	for i := range zones {
		if err := zones[i].Validate(); err != nil {
			return fmt.Errorf("zone %d: %w", i, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query := r.upsertQuery()
	for i := range zones {
		zone := zones[i]
		if _, err := tx.ExecContext(ctx, query, zone.SiteID, zone.ZoneID, zone.Name,
			nullFloat(zone.X), nullFloat(zone.Y), nullFloat(zone.Z), nullInt(zone.AudioID)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *ZoneRepository) upsertQuery() string {
	return fmt.Sprintf(`
INSERT INTO %s (site_id, zone_id, zone_name, x, y, z, audio_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (site_id, zone_id)
DO UPDATE SET
	zone_name = EXCLUDED.zone_name,
	x = EXCLUDED.x,
	y = EXCLUDED.y,
	z = EXCLUDED.z,
	audio_id = EXCLUDED.audio_id`, r.table)
}

func scanZone(rows *sql.Rows) (masterdata.Zone, error) {
	var (
		zone    masterdata.Zone
		x, y, z sql.NullFloat64
		audioID sql.NullInt64
	)
	if err := rows.Scan(&zone.SiteID, &zone.ZoneID, &zone.Name, &x, &y, &z, &audioID); err != nil {
		return masterdata.Zone{}, err
	}
	zone.X = floatPtr(x)
	zone.Y = floatPtr(y)
	zone.Z = floatPtr(z)
	if audioID.Valid {
		zone.AudioID = &audioID.Int64
	}
	return zone, nil
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullInt(value *int64) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *value, Valid: true}
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	f := value.Float64
	return &f
}
