package hospitalization

import "time"

// CostProjection is a display-time snapshot of a stay's accumulated cost.
// Authoritative numbers are produced only when a segment is finalized by
// transfer or discharge.
type CostProjection struct {
	CurrentSegmentHours int       `json:"current_segment_hours"`
	CurrentSegmentCost  int64     `json:"current_segment_cost"`
	CumulativeHours     int       `json:"cumulative_hours"`
	CumulativeAmount    int64     `json:"cumulative_amount"`
	AsOf                time.Time `json:"as_of"`
}

// ProjectCost computes the live cost of a stay at the caller-supplied now:
// frozen sums over finalized segments plus a ceiling-hour projection of the
// open segment. Pure; never mutates stored state, so callers may recompute it
// at any cadence for display refresh.
func ProjectCost(rec *Record, now time.Time) CostProjection {
	p := CostProjection{AsOf: now}
	for i := range rec.RoomHistory {
		seg := &rec.RoomHistory[i]
		if seg.Finalized() {
			p.CumulativeHours += seg.Hours
			p.CumulativeAmount += seg.Amount
			continue
		}
		p.CurrentSegmentHours = CeilHours(now.Sub(seg.CheckInTime))
		p.CurrentSegmentCost = int64(p.CurrentSegmentHours) * seg.HourlyRate
	}
	p.CumulativeHours += p.CurrentSegmentHours
	p.CumulativeAmount += p.CurrentSegmentCost
	return p
}
