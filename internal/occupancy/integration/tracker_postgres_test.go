package integration_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"zone-tracker/internal/occupancy/application"
	occupancy "zone-tracker/internal/occupancy/domain"
	occupancyrepo "zone-tracker/internal/occupancy/infrastructure/postgres"
	"zone-tracker/internal/schema"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const testSite = "site-it-tracker"

type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := schema.EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

func cleanSite(t *testing.T, db *sql.DB, siteID string) {
	t.Helper()
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM zone_history WHERE site_id = $1", siteID)
	_, _ = db.ExecContext(ctx, "DELETE FROM devices WHERE site_id = $1", siteID)
	_, _ = db.ExecContext(ctx, "DELETE FROM zones WHERE site_id = $1", siteID)
}

func newTracker(t *testing.T, db *sql.DB, clock application.Clock) *application.TrackerService {
	t.Helper()
	tracker, err := application.NewTrackerService(occupancyrepo.NewLedger(db), clock)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	return tracker
}

func event(deviceID, zoneID string) occupancy.LocationEvent {
	return occupancy.LocationEvent{SiteID: testSite, DeviceID: deviceID, ZoneID: zoneID}
}

func countVisits(t *testing.T, db *sql.DB, deviceID string, openOnly bool) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM zone_history WHERE site_id = $1 AND device_id = $2"
	if openOnly {
		query += " AND end_time IS NULL"
	}
	var count int
	if err := db.QueryRow(query, testSite, deviceID).Scan(&count); err != nil {
		t.Fatalf("count visits: %v", err)
	}
	return count
}

func TestVisitLifecycle_Postgres(t *testing.T) {
	db := openTestDB(t)
	cleanSite(t, db, testSite)
	ctx := context.Background()

	clock := &mutableClock{now: time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC)}
	tracker := newTracker(t, db, clock)
	deviceID := "tag-lifecycle"

	if err := tracker.ProcessEvent(ctx, event(deviceID, "zone-a")); err != nil {
		t.Fatalf("first event: %v", err)
	}
	if got := countVisits(t, db, deviceID, true); got != 1 {
		t.Fatalf("open visits after first event: got %d, want 1", got)
	}

	// Same zone: no new visit, last_seen advances.
	clock.Advance(5 * time.Minute)
	if err := tracker.ProcessEvent(ctx, event(deviceID, "zone-a")); err != nil {
		t.Fatalf("same-zone event: %v", err)
	}
	if got := countVisits(t, db, deviceID, false); got != 1 {
		t.Fatalf("total visits after same-zone event: got %d, want 1", got)
	}
	var lastSeen time.Time
	if err := db.QueryRow("SELECT last_seen FROM devices WHERE site_id = $1 AND device_id = $2",
		testSite, deviceID).Scan(&lastSeen); err != nil {
		t.Fatalf("read last_seen: %v", err)
	}
	if !lastSeen.UTC().Equal(clock.Now()) {
		t.Fatalf("last_seen = %v, want %v", lastSeen.UTC(), clock.Now())
	}

	// Zone change: old visit closed and new one opened atomically.
	clock.Advance(10 * time.Minute)
	changeTime := clock.Now()
	if err := tracker.ProcessEvent(ctx, event(deviceID, "zone-b")); err != nil {
		t.Fatalf("zone-change event: %v", err)
	}
	if got := countVisits(t, db, deviceID, true); got != 1 {
		t.Fatalf("open visits after zone change: got %d, want 1", got)
	}
	if got := countVisits(t, db, deviceID, false); got != 2 {
		t.Fatalf("total visits after zone change: got %d, want 2", got)
	}

	var closedZone string
	var endTime time.Time
	err := db.QueryRow(`
SELECT zone_id, end_time FROM zone_history
WHERE site_id = $1 AND device_id = $2 AND end_time IS NOT NULL`,
		testSite, deviceID).Scan(&closedZone, &endTime)
	if err != nil {
		t.Fatalf("read closed visit: %v", err)
	}
	if closedZone != "zone-a" {
		t.Fatalf("closed zone = %s, want zone-a", closedZone)
	}
	if !endTime.UTC().Equal(changeTime) {
		t.Fatalf("end_time = %v, want %v", endTime.UTC(), changeTime)
	}

	var openZone string
	err = db.QueryRow(`
SELECT zone_id FROM zone_history
WHERE site_id = $1 AND device_id = $2 AND end_time IS NULL`,
		testSite, deviceID).Scan(&openZone)
	if err != nil {
		t.Fatalf("read open visit: %v", err)
	}
	if openZone != "zone-b" {
		t.Fatalf("open zone = %s, want zone-b", openZone)
	}
}

func TestConcurrentCreation_Postgres(t *testing.T) {
	db := openTestDB(t)
	cleanSite(t, db, testSite)
	ctx := context.Background()

	clock := &mutableClock{now: time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC)}
	deviceID := "tag-race-create"

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker := newTracker(t, db, clock)
			errs <- tracker.ProcessEvent(ctx, event(deviceID, "zone-a"))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent event: %v", err)
		}
	}
	if got := countVisits(t, db, deviceID, true); got != 1 {
		t.Fatalf("open visits: got %d, want 1", got)
	}
	if got := countVisits(t, db, deviceID, false); got != 1 {
		t.Fatalf("total visits: got %d, want 1", got)
	}
}

func TestConcurrentZoneChanges_Postgres(t *testing.T) {
	db := openTestDB(t)
	cleanSite(t, db, testSite)
	ctx := context.Background()

	clock := &mutableClock{now: time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC)}
	deviceID := "tag-race-change"
	zones := []string{"zone-a", "zone-b", "zone-c", "zone-d"}

	tracker := newTracker(t, db, clock)
	if err := tracker.ProcessEvent(ctx, event(deviceID, "zone-seed")); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(zone string) {
			defer wg.Done()
			worker := newTracker(t, db, clock)
			errs <- worker.ProcessEvent(ctx, event(deviceID, zone))
		}(zones[i%len(zones)])
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent event: %v", err)
		}
	}

	// The row lock serializes changes: however the events interleave, the
	// device must end with exactly one open visit and fully closed history.
	if got := countVisits(t, db, deviceID, true); got != 1 {
		t.Fatalf("open visits: got %d, want 1", got)
	}
	var inverted int
	err := db.QueryRow(`
SELECT COUNT(*) FROM zone_history
WHERE site_id = $1 AND device_id = $2 AND end_time < start_time`,
		testSite, deviceID).Scan(&inverted)
	if err != nil {
		t.Fatalf("count inverted visits: %v", err)
	}
	if inverted != 0 {
		t.Fatalf("found %d visits closed before they started", inverted)
	}
}

func TestRedeliveryIsIdempotent_Postgres(t *testing.T) {
	db := openTestDB(t)
	cleanSite(t, db, testSite)
	ctx := context.Background()

	clock := &mutableClock{now: time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC)}
	tracker := newTracker(t, db, clock)
	deviceID := "tag-redelivery"

	for i := 0; i < 3; i++ {
		if err := tracker.ProcessEvent(ctx, event(deviceID, "zone-a")); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if got := countVisits(t, db, deviceID, false); got != 1 {
		t.Fatalf("total visits after redelivery: got %d, want 1", got)
	}
}
