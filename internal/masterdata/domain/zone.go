package masterdata

import (
	"context"
	"errors"
	"time"
)

// Zone represents a named region of a site that devices can occupy.
// Coordinates locate the zone center on the site floor plan; AudioID
// optionally binds an announcement clip played on entry.
type Zone struct {
	SiteID  string
	ZoneID  string
	Name    string
	X       *float64
	Y       *float64
	Z       *float64
	AudioID *int64
}

// Validate checks zone invariants.
func (z Zone) Validate() error {
	if z.SiteID == "" {
		return errors.New("zone: empty site id")
	}
	if z.ZoneID == "" {
		return errors.New("zone: empty zone id")
	}
	if z.Name == "" {
		return errors.New("zone: empty name")
	}
	return nil
}

// Anchor is a fixed positioning beacon. Position updates are kept both as
// the current value on the anchor row and as an append-only history.
type Anchor struct {
	SiteID    string
	AnchorID  string
	Name      string
	X         *float64
	Y         *float64
	Z         *float64
	UpdatedAt time.Time
}

// Validate checks anchor invariants. At least one coordinate must be set so
// a position update always carries information.
func (a Anchor) Validate() error {
	if a.SiteID == "" {
		return errors.New("anchor: empty site id")
	}
	if a.AnchorID == "" {
		return errors.New("anchor: empty anchor id")
	}
	if a.X == nil && a.Y == nil && a.Z == nil {
		return errors.New("anchor: at least one coordinate is required")
	}
	return nil
}

// AnchorObservation is one recorded anchor position.
type AnchorObservation struct {
	ID         int64
	AnchorID   string
	X          *float64
	Y          *float64
	Z          *float64
	Source     string
	ObservedAt time.Time
}

// ZoneRepository manages zone persistence.
type ZoneRepository interface {
	List(ctx context.Context, siteID string) ([]Zone, error)
	Save(ctx context.Context, zone *Zone) error
	SaveBulk(ctx context.Context, zones []Zone) error
}

// AnchorRepository manages anchor persistence.
type AnchorRepository interface {
	List(ctx context.Context, siteID string) ([]Anchor, error)
	Save(ctx context.Context, anchor *Anchor, source string) error
	Exists(ctx context.Context, siteID, anchorID string) (bool, error)
	History(ctx context.Context, siteID, anchorID string, limit int) ([]AnchorObservation, error)
}
