package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ZoneDwell is a windowed dwell-time total for one zone.
type ZoneDwell struct {
	ZoneID       string
	ZoneName     string
	TotalSeconds int64
}

// Transition is a zone-to-zone movement count across all devices of a site.
type Transition struct {
	CurrentZone string
	NextZone    string
	Frequency   int64
}

// DeviceRecord is the device master row exposed by the history API.
type DeviceRecord struct {
	SiteID   string
	DeviceID string
	Name     string
	LastSeen time.Time
}

// VisitRow is one visit joined with its zone name, newest first.
type VisitRow struct {
	ID        int64
	ZoneID    string
	ZoneName  string
	StartTime time.Time
	EndTime   *time.Time
}

// OpenVisitRow is a device's current open visit, used by the occupancy report.
type OpenVisitRow struct {
	DeviceID   string
	DeviceName string
	ZoneID     string
	ZoneName   string
	StartTime  time.Time
	LastSeen   time.Time
}

// Query serves read-only visit history aggregations. It takes no locks and
// may run concurrently with ingestion.
type Query struct {
	db *sql.DB
}

// NewQuery constructs a query reader.
func NewQuery(db *sql.DB) *Query {
	return &Query{db: db}
}

// MostVisited sums dwell seconds per zone over closed visits started inside
// the trailing window. Open visits are excluded; ongoing dwell is not counted
// until the visit closes.
func (q *Query) MostVisited(ctx context.Context, siteID string, window time.Duration) ([]ZoneDwell, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("analytics query: nil db")
	}

	since := time.Now().UTC().Add(-window)
	rows, err := q.db.QueryContext(ctx, `
SELECT zh.zone_id,
	z.zone_name,
	COALESCE(SUM(EXTRACT(EPOCH FROM zh.end_time - zh.start_time)), 0)::bigint AS total_seconds
FROM zone_history zh
JOIN zones z ON z.site_id = zh.site_id AND z.zone_id = zh.zone_id
WHERE zh.site_id = $1
	AND zh.start_time > $2
	AND zh.end_time IS NOT NULL
GROUP BY zh.zone_id, z.zone_name
ORDER BY total_seconds DESC`, siteID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ZoneDwell
	for rows.Next() {
		var row ZoneDwell
		if err := rows.Scan(&row.ZoneID, &row.ZoneName, &row.TotalSeconds); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Transitions counts ordered (currentZone, nextZone) pairs over each device's
// visit sequence, most frequent first.
func (q *Query) Transitions(ctx context.Context, siteID string, limit int) ([]Transition, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("analytics query: nil db")
	}

	rows, err := q.db.QueryContext(ctx, `
WITH ordered AS (
	SELECT device_id,
		zone_id AS current_zone,
		LEAD(zone_id) OVER (PARTITION BY device_id ORDER BY start_time) AS next_zone
	FROM zone_history
	WHERE site_id = $1
)
SELECT current_zone, next_zone, COUNT(*)::bigint AS frequency
FROM ordered
WHERE next_zone IS NOT NULL
GROUP BY current_zone, next_zone
ORDER BY frequency DESC
LIMIT $2`, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Transition
	for rows.Next() {
		var row Transition
		if err := rows.Scan(&row.CurrentZone, &row.NextZone, &row.Frequency); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetDevice loads a device master row. Returns nil when unknown.
func (q *Query) GetDevice(ctx context.Context, siteID, deviceID string) (*DeviceRecord, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("analytics query: nil db")
	}

	var device DeviceRecord
	err := q.db.QueryRowContext(ctx, `
SELECT site_id, device_id, device_name, last_seen
FROM devices
WHERE site_id = $1 AND device_id = $2`, siteID, deviceID).Scan(
		&device.SiteID,
		&device.DeviceID,
		&device.Name,
		&device.LastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	device.LastSeen = device.LastSeen.UTC()
	return &device, nil
}

// DeviceHistory lists a device's visits newest first.
func (q *Query) DeviceHistory(ctx context.Context, siteID, deviceID string, limit int) ([]VisitRow, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("analytics query: nil db")
	}

	rows, err := q.db.QueryContext(ctx, `
SELECT zh.id, zh.zone_id, z.zone_name, zh.start_time, zh.end_time
FROM zone_history zh
JOIN zones z ON z.site_id = zh.site_id AND z.zone_id = zh.zone_id
WHERE zh.site_id = $1 AND zh.device_id = $2
ORDER BY zh.start_time DESC
LIMIT $3`, siteID, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []VisitRow
	for rows.Next() {
		var row VisitRow
		var endTime sql.NullTime
		if err := rows.Scan(&row.ID, &row.ZoneID, &row.ZoneName, &row.StartTime, &endTime); err != nil {
			return nil, err
		}
		row.StartTime = row.StartTime.UTC()
		if endTime.Valid {
			end := endTime.Time.UTC()
			row.EndTime = &end
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// OpenVisits lists every device's current open visit with its owner's
// last-seen timestamp, ordered by device id.
func (q *Query) OpenVisits(ctx context.Context, siteID string) ([]OpenVisitRow, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("analytics query: nil db")
	}

	rows, err := q.db.QueryContext(ctx, `
SELECT zh.device_id, d.device_name, zh.zone_id, z.zone_name, zh.start_time, d.last_seen
FROM zone_history zh
JOIN devices d ON d.site_id = zh.site_id AND d.device_id = zh.device_id
JOIN zones z ON z.site_id = zh.site_id AND z.zone_id = zh.zone_id
WHERE zh.site_id = $1 AND zh.end_time IS NULL
ORDER BY zh.device_id ASC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []OpenVisitRow
	for rows.Next() {
		var row OpenVisitRow
		if err := rows.Scan(&row.DeviceID, &row.DeviceName, &row.ZoneID, &row.ZoneName, &row.StartTime, &row.LastSeen); err != nil {
			return nil, err
		}
		row.StartTime = row.StartTime.UTC()
		row.LastSeen = row.LastSeen.UTC()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
