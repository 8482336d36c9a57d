package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	occupancy "zone-tracker/internal/occupancy/domain"
)

const (
	defaultDevicesTable = "devices"
	defaultZonesTable   = "zones"
	defaultHistoryTable = "zone_history"

	// Partial unique index on (site_id, device_id) WHERE end_time IS NULL.
	// The database, not application logic, arbitrates concurrent creation of
	// a device's first open visit.
	openVisitConstraint = "uq_open_visit_per_device"
)

// Ledger is the Postgres visit ledger. It owns all persisted occupancy state;
// the pipeline components are stateless transformers over it.
type Ledger struct {
	db           *sql.DB
	devicesTable string
	zonesTable   string
	historyTable string
}

// NewLedger constructs a ledger with default table names.
func NewLedger(db *sql.DB, opts ...LedgerOption) *Ledger {
	ledger := &Ledger{
		db:           db,
		devicesTable: defaultDevicesTable,
		zonesTable:   defaultZonesTable,
		historyTable: defaultHistoryTable,
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

// LedgerOption configures the ledger.
type LedgerOption func(*Ledger)

// WithHistoryTable overrides the default visit history table name.
func WithHistoryTable(table string) LedgerOption {
	return func(ledger *Ledger) {
		if table != "" {
			ledger.historyTable = table
		}
	}
}

// WithinTx runs fn inside one transaction. A unique violation of the
// open-visit constraint — whether raised mid-transaction or at commit — is
// mapped to ErrVisitAlreadyOpen so callers can run the recovery pass.
func (l *Ledger) WithinTx(ctx context.Context, fn func(tx occupancy.LedgerTx) error) error {
	if l == nil || l.db == nil {
		return errors.New("visit ledger: nil db")
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&ledgerTx{tx: tx, ledger: l}); err != nil {
		_ = tx.Rollback()
		return mapConstraintError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func mapConstraintError(err error) error {
	if IsUniqueViolation(err, openVisitConstraint) {
		return fmt.Errorf("%w: %v", occupancy.ErrVisitAlreadyOpen, err)
	}
	return err
}

type ledgerTx struct {
	tx     *sql.Tx
	ledger *Ledger
}

// UpsertDevice creates the device on first sight and always advances
// last_seen to the event's processing time. The name is only seeded on
// creation, never overwritten.
func (t *ledgerTx) UpsertDevice(ctx context.Context, siteID, deviceID string, now time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (site_id, device_id, device_name, last_seen)
VALUES ($1, $2, $2, $3)
ON CONFLICT (site_id, device_id)
DO UPDATE SET last_seen = GREATEST(%s.last_seen, EXCLUDED.last_seen)`,
		t.ledger.devicesTable, t.ledger.devicesTable)

	_, err := t.tx.ExecContext(ctx, query, siteID, deviceID, now)
	return err
}

// EnsureZone creates the zone lazily on first reference. A name set through
// the zone CRUD path is never clobbered from ingestion.
func (t *ledgerTx) EnsureZone(ctx context.Context, siteID, zoneID string) error {
	query := fmt.Sprintf(`
INSERT INTO %s (site_id, zone_id, zone_name)
VALUES ($1, $2, $2)
ON CONFLICT (site_id, zone_id) DO NOTHING`, t.ledger.zonesTable)

	_, err := t.tx.ExecContext(ctx, query, siteID, zoneID)
	return err
}

// GetOpenVisitForUpdate loads the device's open visit, locking the row for
// the rest of the transaction. The lock serializes concurrent zone-change
// attempts; the second transaction blocks here until the first commits, then
// observes the replacement visit.
func (t *ledgerTx) GetOpenVisitForUpdate(ctx context.Context, siteID, deviceID string) (*occupancy.Visit, error) {
	query := fmt.Sprintf(`
SELECT id, site_id, device_id, zone_id, start_time, end_time
FROM %s
WHERE site_id = $1 AND device_id = $2 AND end_time IS NULL
ORDER BY start_time DESC
LIMIT 1
FOR UPDATE`, t.ledger.historyTable)

	var visit occupancy.Visit
	var endTime sql.NullTime
	err := t.tx.QueryRowContext(ctx, query, siteID, deviceID).Scan(
		&visit.ID,
		&visit.SiteID,
		&visit.DeviceID,
		&visit.ZoneID,
		&visit.StartTime,
		&endTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	visit.StartTime = visit.StartTime.UTC()
	if endTime.Valid {
		end := endTime.Time.UTC()
		visit.EndTime = &end
	}
	return &visit, nil
}

// InsertOpenVisit creates a new open visit. The partial unique index rejects
// a second open visit for the same device with a unique violation.
func (t *ledgerTx) InsertOpenVisit(ctx context.Context, siteID, deviceID, zoneID string, now time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (site_id, device_id, zone_id, start_time)
VALUES ($1, $2, $3, $4)`, t.ledger.historyTable)

	_, err := t.tx.ExecContext(ctx, query, siteID, deviceID, zoneID, now)
	return err
}

// CloseVisit stamps the visit's end time.
func (t *ledgerTx) CloseVisit(ctx context.Context, siteID string, visitID int64, now time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET end_time = $3 WHERE site_id = $1 AND id = $2`, t.ledger.historyTable)

	_, err := t.tx.ExecContext(ctx, query, siteID, visitID, now)
	return err
}
