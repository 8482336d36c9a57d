package occupancy

import "time"

// Occupancy is the query-time interpretation of a visit. Staleness is never
// written back to the ledger; an open visit of a silent device is presented
// as implicitly ended at the device's last heartbeat.
type Occupancy struct {
	IsOpen          bool
	IsActive        bool
	EffectiveEnd    *time.Time
	DurationSeconds *int64
}

// EvaluateOccupancy projects a visit plus the owning device's last-seen
// timestamp into effective end, duration and activity. It is pure and
// read-only.
//
// Open visit, device heard from within threshold: still accumulating, no
// effective end and no duration. Open visit, device silent beyond threshold:
// treated as ended at lastSeen. Closed visit: the recorded end wins.
func EvaluateOccupancy(visit Visit, lastSeen time.Time, threshold time.Duration, now time.Time) Occupancy {
	result := Occupancy{IsOpen: visit.IsOpen()}

	if !result.IsOpen {
		end := visit.EndTime.UTC()
		result.EffectiveEnd = &end
		result.DurationSeconds = durationSeconds(visit.StartTime, end)
		return result
	}

	if lastSeen.IsZero() {
		return result
	}

	if now.Sub(lastSeen) <= threshold {
		result.IsActive = true
		return result
	}

	end := lastSeen.UTC()
	result.EffectiveEnd = &end
	result.DurationSeconds = durationSeconds(visit.StartTime, end)
	return result
}

func durationSeconds(start, end time.Time) *int64 {
	seconds := int64(end.Sub(start) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return &seconds
}
