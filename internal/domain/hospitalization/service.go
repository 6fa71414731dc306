package hospitalization

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caresuite/go-ebe/internal/domain/errs"
)

// ChargeSink receives the frozen stay total at discharge. The billing
// aggregator implements it; the stay service never writes bills directly.
type ChargeSink interface {
	ApplyHospitalizationCharge(ctx context.Context, appointmentID string, amount int64) error
}

// EventSink receives domain events for publication. May be nil.
type EventSink interface {
	Record(ctx context.Context, eventType, key string, payload interface{}) error
}

// Event types emitted by the stay service.
const (
	EventRoomAssigned      = "hospitalization.room.assigned"
	EventRoomTransferred   = "hospitalization.room.transferred"
	EventPatientDischarged = "hospitalization.patient.discharged"
)

// Service drives the stay state machine:
// unassigned -> admitted -> admitted(transferred)* -> discharged.
// Per-appointment mutations are serialized; room occupancy changes are atomic
// compare-and-set operations owned by the Room Inventory collaborator.
type Service struct {
	stays  StayStore
	rooms  RoomInventory
	charge ChargeSink
	events EventSink
	logger *zap.Logger
	now    func() time.Time

	locks sync.Map // appointmentID -> *sync.Mutex
}

// NewService wires the stay service. charge and events may be nil.
func NewService(stays StayStore, rooms RoomInventory, charge ChargeSink, events EventSink, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		stays:  stays,
		rooms:  rooms,
		charge: charge,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) lock(appointmentID string) func() {
	v, _ := s.locks.LoadOrStore(appointmentID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// AssignInput carries the parameters of an initial room assignment.
type AssignInput struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	RoomID        string `json:"room_id"`
	Reason        string `json:"reason,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// AssignRoom admits the patient into their first room. Fails with a conflict
// when an active stay already exists for the appointment, and with
// ErrRoomUnavailable when the room is at capacity.
func (s *Service) AssignRoom(ctx context.Context, in AssignInput) (*Record, error) {
	if in.AppointmentID == "" || in.RoomID == "" {
		return nil, errs.Validation("appointment id and room id are required")
	}

	unlock := s.lock(in.AppointmentID)
	defer unlock()

	if existing, err := s.stays.GetActiveByAppointment(ctx, in.AppointmentID); err == nil && existing != nil {
		return nil, errs.Conflict("active stay %s already exists for appointment %s", existing.ID, in.AppointmentID)
	} else if err != nil && !errs.IsNotFound(err) {
		return nil, err
	}

	room, err := s.rooms.Occupy(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &Record{
		ID:                uuid.New().String(),
		AppointmentID:     in.AppointmentID,
		PatientID:         in.PatientID,
		AdmissionDate:     now,
		Status:            StatusActive,
		CurrentRoomID:     room.ID,
		CurrentHourlyRate: room.HourlyRate,
		Notes:             in.Notes,
		RoomHistory: []Segment{{
			RoomID:      room.ID,
			RoomNumber:  room.RoomNumber,
			RoomType:    room.RoomType,
			HourlyRate:  room.HourlyRate,
			Reason:      in.Reason,
			CheckInTime: now,
		}},
	}

	if err := s.stays.Create(ctx, rec); err != nil {
		if relErr := s.rooms.Release(ctx, room.ID); relErr != nil {
			s.logger.Error("occupancy rollback failed",
				zap.String("room_id", room.ID), zap.Error(relErr))
		}
		return nil, err
	}

	s.emit(ctx, EventRoomAssigned, rec.AppointmentID, rec)
	s.logger.Info("room assigned",
		zap.String("stay_id", rec.ID),
		zap.String("appointment_id", rec.AppointmentID),
		zap.String("room_id", room.ID),
		zap.Int64("hourly_rate", room.HourlyRate))
	return rec, nil
}

// TransferRoom moves an active stay into a new room: the open segment is
// finalized at ceiling hours and a new segment opens at the target room's
// current rate.
func (s *Service) TransferRoom(ctx context.Context, stayID, newRoomID, reason string) (*Record, error) {
	rec, err := s.stays.Get(ctx, stayID)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(rec.AppointmentID)
	defer unlock()

	// Reload under the lock.
	rec, err = s.stays.Get(ctx, stayID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusActive {
		return nil, errs.Conflict("stay %s is discharged", stayID)
	}
	if newRoomID == rec.CurrentRoomID {
		return nil, errs.Validation("stay %s is already in room %s", stayID, newRoomID)
	}

	newRoom, err := s.rooms.Occupy(ctx, newRoomID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	oldRoomID := rec.CurrentRoomID
	open := rec.OpenSegment()
	open.finalize(now)

	rec.RoomHistory = append(rec.RoomHistory, Segment{
		RoomID:      newRoom.ID,
		RoomNumber:  newRoom.RoomNumber,
		RoomType:    newRoom.RoomType,
		HourlyRate:  newRoom.HourlyRate,
		Reason:      reason,
		CheckInTime: now,
	})
	rec.CurrentRoomID = newRoom.ID
	rec.CurrentHourlyRate = newRoom.HourlyRate

	if err := s.stays.Update(ctx, rec); err != nil {
		if relErr := s.rooms.Release(ctx, newRoom.ID); relErr != nil {
			s.logger.Error("occupancy rollback failed",
				zap.String("room_id", newRoom.ID), zap.Error(relErr))
		}
		return nil, err
	}
	if err := s.rooms.Release(ctx, oldRoomID); err != nil {
		s.logger.Error("old room release failed",
			zap.String("room_id", oldRoomID), zap.Error(err))
	}

	s.emit(ctx, EventRoomTransferred, rec.AppointmentID, rec)
	s.logger.Info("room transferred",
		zap.String("stay_id", rec.ID),
		zap.String("from_room", oldRoomID),
		zap.String("to_room", newRoom.ID),
		zap.String("reason", reason))
	return rec, nil
}

// Discharge finalizes the open segment, freezes the stay totals, releases the
// room and feeds the frozen total into the bill's hospitalization part.
// A second discharge of the same stay fails with a conflict.
func (s *Service) Discharge(ctx context.Context, stayID, reason string) (*Record, error) {
	rec, err := s.stays.Get(ctx, stayID)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(rec.AppointmentID)
	defer unlock()

	rec, err = s.stays.Get(ctx, stayID)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusActive {
		return nil, errs.Conflict("stay %s already discharged", stayID)
	}
	open := rec.OpenSegment()
	if open == nil {
		return nil, errs.Conflict("stay %s has no open segment", stayID)
	}

	now := s.now()
	roomID := rec.CurrentRoomID
	open.finalize(now)

	var totalHours int
	var totalAmount int64
	for _, seg := range rec.RoomHistory {
		totalHours += seg.Hours
		totalAmount += seg.Amount
	}
	rec.TotalHours = totalHours
	rec.TotalAmount = totalAmount
	rec.DischargeDate = &now
	rec.DischargeReason = reason
	rec.Status = StatusDischarged
	rec.CurrentRoomID = ""
	rec.CurrentHourlyRate = 0

	if err := s.stays.Update(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.rooms.Release(ctx, roomID); err != nil {
		s.logger.Error("room release failed",
			zap.String("room_id", roomID), zap.Error(err))
	}

	if s.charge != nil {
		if err := s.charge.ApplyHospitalizationCharge(ctx, rec.AppointmentID, rec.TotalAmount); err != nil {
			// The stay is already frozen; the charge can be replayed from the
			// discharge event once the bill exists.
			s.logger.Error("hospitalization charge propagation failed",
				zap.String("appointment_id", rec.AppointmentID),
				zap.Int64("amount", rec.TotalAmount),
				zap.Error(err))
		}
	}

	s.emit(ctx, EventPatientDischarged, rec.AppointmentID, rec)
	s.logger.Info("patient discharged",
		zap.String("stay_id", rec.ID),
		zap.String("appointment_id", rec.AppointmentID),
		zap.Int("total_hours", rec.TotalHours),
		zap.Int64("total_amount", rec.TotalAmount))
	return rec, nil
}

// GetStay returns the stay by id.
func (s *Service) GetStay(ctx context.Context, stayID string) (*Record, error) {
	return s.stays.Get(ctx, stayID)
}

// GetStayByAppointment returns the appointment's stay, discharged or not.
func (s *Service) GetStayByAppointment(ctx context.Context, appointmentID string) (*Record, error) {
	return s.stays.GetByAppointment(ctx, appointmentID)
}

// LiveCost returns the display-time cost projection for a stay. Lock-free
// snapshot read; never blocks payment application.
func (s *Service) LiveCost(ctx context.Context, stayID string) (CostProjection, error) {
	rec, err := s.stays.Get(ctx, stayID)
	if err != nil {
		return CostProjection{}, err
	}
	return ProjectCost(rec, s.now()), nil
}

func (s *Service) emit(ctx context.Context, eventType, key string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, eventType, key, payload); err != nil {
		s.logger.Error("event record failed",
			zap.String("event_type", eventType),
			zap.String("key", key),
			zap.Error(err))
	}
}
