package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zone-tracker/internal/observability/metrics"
	occupancy "zone-tracker/internal/occupancy/domain"
)

// Clock provides the processing time stamped onto visits and device refreshes.
type Clock interface {
	Now() time.Time
}

// TrackerService applies normalized location events to the visit ledger,
// keeping exactly one open visit per device. All coordination lives in the
// ledger: the transaction, the row lock on the open visit and the
// one-open-visit uniqueness constraint. The service itself is stateless.
type TrackerService struct {
	ledger occupancy.Ledger
	clock  Clock
}

// NewTrackerService constructs a tracker service.
func NewTrackerService(ledger occupancy.Ledger, clock Clock) (*TrackerService, error) {
	if ledger == nil {
		return nil, errors.New("tracker service: nil ledger")
	}
	if clock == nil {
		return nil, errors.New("tracker service: nil clock")
	}
	return &TrackerService{ledger: ledger, clock: clock}, nil
}

// ProcessEvent runs one event through the visit state machine inside a single
// transaction. A unique violation on open-visit creation means a concurrent
// worker created the first visit between our read and our insert; the losing
// transaction is rolled back and the whole sequence re-runs exactly once
// against the winner's visit.
func (s *TrackerService) ProcessEvent(ctx context.Context, event occupancy.LocationEvent) error {
	if s == nil || s.ledger == nil {
		return errors.New("tracker service: not initialized")
	}
	if err := event.Validate(); err != nil {
		return err
	}

	now := s.clock.Now().UTC()

	err := s.apply(ctx, event, now, false)
	if err == nil || !errors.Is(err, occupancy.ErrVisitAlreadyOpen) {
		return err
	}

	metrics.IncCreationConflict()
	if retryErr := s.apply(ctx, event, now, true); retryErr != nil {
		if errors.Is(retryErr, occupancy.ErrOpenVisitMissing) {
			return fmt.Errorf("%w (after %v)", retryErr, err)
		}
		return retryErr
	}
	return nil
}

// apply executes steps of the state machine in one transaction. On the retry
// pass the open visit must already exist (inserted by the race winner); its
// absence is a ledger failure, never grounds for another insert attempt.
func (s *TrackerService) apply(ctx context.Context, event occupancy.LocationEvent, now time.Time, retry bool) error {
	return s.ledger.WithinTx(ctx, func(tx occupancy.LedgerTx) error {
		if err := tx.UpsertDevice(ctx, event.SiteID, event.DeviceID, now); err != nil {
			return err
		}
		if err := tx.EnsureZone(ctx, event.SiteID, event.ZoneID); err != nil {
			return err
		}

		open, err := tx.GetOpenVisitForUpdate(ctx, event.SiteID, event.DeviceID)
		if err != nil {
			return err
		}

		if open == nil {
			if retry {
				return occupancy.ErrOpenVisitMissing
			}
			return tx.InsertOpenVisit(ctx, event.SiteID, event.DeviceID, event.ZoneID, now)
		}

		if open.ZoneID == event.ZoneID {
			// Same zone: the device upsert already refreshed last_seen.
			return nil
		}

		if err := tx.CloseVisit(ctx, event.SiteID, open.ID, now); err != nil {
			return err
		}
		return tx.InsertOpenVisit(ctx, event.SiteID, event.DeviceID, event.ZoneID, now)
	})
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
