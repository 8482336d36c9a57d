package occupancy

import (
	"context"
	"errors"
	"time"
)

// ErrMalformedEvent marks a location event that is missing a device or zone
// identifier after payload and topic fallbacks were applied.
var ErrMalformedEvent = errors.New("malformed location event")

// ErrVisitAlreadyOpen is returned by the ledger when inserting an open visit
// hits the one-open-visit-per-device constraint: a concurrent worker won the
// creation race. Callers recover by re-reading the winner's visit.
var ErrVisitAlreadyOpen = errors.New("open visit already exists for device")

// ErrOpenVisitMissing marks a creation-race retry that still found no open
// visit. This is a ledger failure, not a business race; the event must be
// surfaced as failed rather than dropped.
var ErrOpenVisitMissing = errors.New("open visit missing after creation retry")

// Device is a tracked device within a site. LastSeen advances to the
// processing time of every accepted event for the device and never moves
// backwards.
type Device struct {
	SiteID   string
	DeviceID string
	Name     string
	LastSeen time.Time
}

// Visit is one contiguous stay of a device in a zone. EndTime is nil while
// the visit is open. For every (site, device) pair at most one visit is open
// at any instant; the ledger enforces this with a partial unique index.
type Visit struct {
	ID        int64
	SiteID    string
	DeviceID  string
	ZoneID    string
	StartTime time.Time
	EndTime   *time.Time
}

// IsOpen reports whether the visit has no recorded end time.
func (v Visit) IsOpen() bool {
	return v.EndTime == nil
}

// LocationEvent is a normalized inbound event. It is never persisted as-is;
// processing consumes it into a device refresh, a new visit, or a
// close-and-open pair.
type LocationEvent struct {
	SiteID   string
	DeviceID string
	ZoneID   string
}

// Validate checks the event carries all identifiers.
func (e LocationEvent) Validate() error {
	if e.SiteID == "" || e.DeviceID == "" || e.ZoneID == "" {
		return ErrMalformedEvent
	}
	return nil
}

// LedgerTx is the set of ledger operations available inside one transaction.
// GetOpenVisitForUpdate takes an exclusive row lock on the open visit, which
// serializes concurrent zone-change attempts for the same device.
type LedgerTx interface {
	UpsertDevice(ctx context.Context, siteID, deviceID string, now time.Time) error
	EnsureZone(ctx context.Context, siteID, zoneID string) error
	GetOpenVisitForUpdate(ctx context.Context, siteID, deviceID string) (*Visit, error)
	InsertOpenVisit(ctx context.Context, siteID, deviceID, zoneID string, now time.Time) error
	CloseVisit(ctx context.Context, siteID string, visitID int64, now time.Time) error
}

// Ledger runs a function inside a single transaction. The function's error
// aborts the transaction; the returned error includes commit failures, so
// callers can inspect it for constraint violations raised at any point.
type Ledger interface {
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
}
