package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "zone-tracker/internal/masterdata/domain"
)

const (
	defaultAnchorsTable       = "anchors"
	defaultAnchorHistoryTable = "anchor_history"
)

// AnchorRepository is a Postgres implementation for anchors and their
// position history.
type AnchorRepository struct {
	db           *sql.DB
	table        string
	historyTable string
}

// NewAnchorRepository constructs a repository.
func NewAnchorRepository(db *sql.DB, opts ...AnchorOption) *AnchorRepository {
	repo := &AnchorRepository{db: db, table: defaultAnchorsTable, historyTable: defaultAnchorHistoryTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// AnchorOption configures the repository.
type AnchorOption func(*AnchorRepository)

// WithAnchorsTable overrides the default table names.
func WithAnchorsTable(table, historyTable string) AnchorOption {
	return func(repo *AnchorRepository) {
		if table != "" {
			repo.table = table
		}
		if historyTable != "" {
			repo.historyTable = historyTable
		}
	}
}

// List returns all anchors of a site ordered by anchor id.
func (r *AnchorRepository) List(ctx context.Context, siteID string) ([]masterdata.Anchor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("anchor repo: nil db")
	}
	if siteID == "" {
		return nil, errors.New("anchor repo: empty site id")
	}

	query := fmt.Sprintf(`
SELECT site_id, anchor_id, anchor_name, x, y, z, updated_at
FROM %s
WHERE site_id = $1
ORDER BY anchor_id`, r.table)

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anchors []masterdata.Anchor
	for rows.Next() {
		var (
			anchor  masterdata.Anchor
			x, y, z sql.NullFloat64
		)
		if err := rows.Scan(&anchor.SiteID, &anchor.AnchorID, &anchor.Name, &x, &y, &z, &anchor.UpdatedAt); err != nil {
			return nil, err
		}
		anchor.X = floatPtr(x)
		anchor.Y = floatPtr(y)
		anchor.Z = floatPtr(z)
		anchor.UpdatedAt = anchor.UpdatedAt.UTC()
		anchors = append(anchors, anchor)
	}
	return anchors, rows.Err()
}

// Save upserts the current anchor position and appends a history row in the
// same transaction, so the current value and the history never diverge.
func (r *AnchorRepository) Save(ctx context.Context, anchor *masterdata.Anchor, source string) error {
	if r == nil || r.db == nil {
		return errors.New("anchor repo: nil db")
	}
	if anchor == nil {
		return errors.New("anchor repo: nil anchor")
	}
	if err := anchor.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	name := anchor.Name
	if name == "" {
		name = anchor.AnchorID
	}

	upsert := fmt.Sprintf(`
INSERT INTO %s (site_id, anchor_id, anchor_name, x, y, z, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (site_id, anchor_id)
DO UPDATE SET
	anchor_name = EXCLUDED.anchor_name,
	x = EXCLUDED.x,
	y = EXCLUDED.y,
	z = EXCLUDED.z,
	updated_at = NOW()`, r.table)
	if _, err := tx.ExecContext(ctx, upsert, anchor.SiteID, anchor.AnchorID, name,
		nullFloat(anchor.X), nullFloat(anchor.Y), nullFloat(anchor.Z)); err != nil {
		return err
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (site_id, anchor_id, x, y, z, source)
VALUES ($1, $2, $3, $4, $5, $6)`, r.historyTable)
	if _, err := tx.ExecContext(ctx, insert, anchor.SiteID, anchor.AnchorID,
		nullFloat(anchor.X), nullFloat(anchor.Y), nullFloat(anchor.Z), nullString(source)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	anchor.UpdatedAt = time.Now().UTC()
	return nil
}

// Exists reports whether the anchor is known.
func (r *AnchorRepository) Exists(ctx context.Context, siteID, anchorID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("anchor repo: nil db")
	}

	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE site_id = $1 AND anchor_id = $2 LIMIT 1`, r.table)
	var one int
	err := r.db.QueryRowContext(ctx, query, siteID, anchorID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// History returns recorded positions for an anchor, newest first.
func (r *AnchorRepository) History(ctx context.Context, siteID, anchorID string, limit int) ([]masterdata.AnchorObservation, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("anchor repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, anchor_id, x, y, z, COALESCE(source, ''), observed_at
FROM %s
WHERE site_id = $1 AND anchor_id = $2
ORDER BY observed_at DESC
LIMIT $3`, r.historyTable)

	rows, err := r.db.QueryContext(ctx, query, siteID, anchorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []masterdata.AnchorObservation
	for rows.Next() {
		var (
			obs     masterdata.AnchorObservation
			x, y, z sql.NullFloat64
		)
		if err := rows.Scan(&obs.ID, &obs.AnchorID, &x, &y, &z, &obs.Source, &obs.ObservedAt); err != nil {
			return nil, err
		}
		obs.X = floatPtr(x)
		obs.Y = floatPtr(y)
		obs.Z = floatPtr(z)
		obs.ObservedAt = obs.ObservedAt.UTC()
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
