// Package hospitalization implements the room-stay state machine and the
// elapsed-time cost metering for hospitalized encounters.
package hospitalization

import (
	"context"
	"time"

	"github.com/caresuite/go-ebe/internal/domain/errs"
)

// Status is the lifecycle status of a hospitalization stay.
type Status string

const (
	StatusActive     Status = "active"
	StatusDischarged Status = "discharged"
)

// ErrRoomUnavailable is returned when a room's occupancy has reached capacity.
// Inventory implementations wrap it so callers can test with errors.Is.
var ErrRoomUnavailable = &errs.Error{Kind: errs.KindConflict, Msg: "room at capacity"}

// Segment is one contiguous room-occupancy interval. A segment with
// CheckOutTime set is finalized: its hours and amount are frozen and the
// segment is immutable thereafter.
type Segment struct {
	RoomID       string     `json:"room_id"`
	RoomNumber   string     `json:"room_number"`
	RoomType     string     `json:"room_type"`
	HourlyRate   int64      `json:"hourly_rate"`
	Reason       string     `json:"reason,omitempty"`
	CheckInTime  time.Time  `json:"check_in_time"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty"`
	Hours        int        `json:"hours,omitempty"`
	Amount       int64      `json:"amount,omitempty"`
}

// Finalized reports whether the segment's cost has been frozen.
func (s *Segment) Finalized() bool { return s.CheckOutTime != nil }

// finalize freezes the segment at checkout time. Billed hours round up to the
// next whole hour, never down, and never to zero for a positive elapsed
// duration.
func (s *Segment) finalize(checkout time.Time) {
	hours := CeilHours(checkout.Sub(s.CheckInTime))
	s.CheckOutTime = &checkout
	s.Hours = hours
	s.Amount = int64(hours) * s.HourlyRate
}

// CeilHours converts an elapsed duration to billed hours, rounding up.
func CeilHours(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Hour - 1) / time.Hour)
}

// Record is the hospitalization record for one encounter. It is created by
// room assignment, transitions to discharged exactly once, and is retained
// indefinitely for audit. TotalHours and TotalAmount are meaningful only once
// discharged.
type Record struct {
	ID                string     `json:"id"`
	AppointmentID     string     `json:"appointment_id"`
	PatientID         string     `json:"patient_id"`
	AdmissionDate     time.Time  `json:"admission_date"`
	DischargeDate     *time.Time `json:"discharge_date,omitempty"`
	DischargeReason   string     `json:"discharge_reason,omitempty"`
	Status            Status     `json:"status"`
	CurrentRoomID     string     `json:"current_room_id,omitempty"`
	CurrentHourlyRate int64      `json:"current_hourly_rate,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	TotalHours        int        `json:"total_hours,omitempty"`
	TotalAmount       int64      `json:"total_amount,omitempty"`
	RoomHistory       []Segment  `json:"room_history"`
}

// OpenSegment returns the single unfinalized segment of an active stay, or nil
// for a discharged stay.
func (r *Record) OpenSegment() *Segment {
	for i := range r.RoomHistory {
		if !r.RoomHistory[i].Finalized() {
			return &r.RoomHistory[i]
		}
	}
	return nil
}

// Room is the read-only projection of an externally-owned room.
type Room struct {
	ID               string `json:"id"`
	RoomNumber       string `json:"room_number"`
	RoomType         string `json:"room_type"`
	HourlyRate       int64  `json:"hourly_rate"`
	Capacity         int    `json:"capacity"`
	CurrentOccupancy int    `json:"current_occupancy"`
	Status           string `json:"status"`
}

// RoomInventory is the external Room Inventory collaborator. Occupy must be an
// atomic compare-and-set against currentOccupancy < capacity so concurrent
// assignments cannot overbook; it returns the occupied room's details or an
// error wrapping ErrRoomUnavailable when the room is full.
type RoomInventory interface {
	Get(ctx context.Context, roomID string) (*Room, error)
	Occupy(ctx context.Context, roomID string) (*Room, error)
	Release(ctx context.Context, roomID string) error
}

// StayStore persists hospitalization records keyed by appointment, with the
// embedded time-ordered room history.
type StayStore interface {
	Create(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
	Get(ctx context.Context, stayID string) (*Record, error)
	GetByAppointment(ctx context.Context, appointmentID string) (*Record, error)
	GetActiveByAppointment(ctx context.Context, appointmentID string) (*Record, error)
}
