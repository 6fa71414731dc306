package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/internal/domain/hospitalization"
)

// StayStore persists hospitalization records with the room history embedded as
// a time-ordered JSONB array.
type StayStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStayStore creates a stay store.
func NewStayStore(pool *pgxpool.Pool, logger *zap.Logger) *StayStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StayStore{pool: pool, logger: logger}
}

const stayColumns = `
	id, appointment_id, patient_id, admission_date, discharge_date,
	COALESCE(discharge_reason, ''), status, COALESCE(current_room_id, ''),
	current_hourly_rate, COALESCE(notes, ''), total_hours, total_amount, room_history
`

func (s *StayStore) Create(ctx context.Context, rec *hospitalization.Record) error {
	history, err := json.Marshal(rec.RoomHistory)
	if err != nil {
		return fmt.Errorf("encode room history: %w", err)
	}

	query := `
		INSERT INTO hospitalization_stays
		(id, appointment_id, patient_id, admission_date, discharge_date, discharge_reason,
		 status, current_room_id, current_hourly_rate, notes, total_hours, total_amount, room_history)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, NULLIF($10, ''), $11, $12, $13)
	`
	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.AppointmentID, rec.PatientID, rec.AdmissionDate, rec.DischargeDate,
		rec.DischargeReason, rec.Status, rec.CurrentRoomID, rec.CurrentHourlyRate,
		rec.Notes, rec.TotalHours, rec.TotalAmount, history,
	)
	if isUniqueViolation(err) {
		return errs.Conflict("stay %s already exists", rec.ID)
	}
	return err
}

func (s *StayStore) Update(ctx context.Context, rec *hospitalization.Record) error {
	history, err := json.Marshal(rec.RoomHistory)
	if err != nil {
		return fmt.Errorf("encode room history: %w", err)
	}

	query := `
		UPDATE hospitalization_stays
		SET discharge_date = $2, discharge_reason = NULLIF($3, ''), status = $4,
		    current_room_id = NULLIF($5, ''), current_hourly_rate = $6,
		    total_hours = $7, total_amount = $8, room_history = $9
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		rec.ID, rec.DischargeDate, rec.DischargeReason, rec.Status,
		rec.CurrentRoomID, rec.CurrentHourlyRate,
		rec.TotalHours, rec.TotalAmount, history,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("no stay %s", rec.ID)
	}
	return nil
}

func (s *StayStore) Get(ctx context.Context, stayID string) (*hospitalization.Record, error) {
	query := `SELECT ` + stayColumns + ` FROM hospitalization_stays WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, stayID), stayID)
}

func (s *StayStore) GetByAppointment(ctx context.Context, appointmentID string) (*hospitalization.Record, error) {
	query := `
		SELECT ` + stayColumns + `
		FROM hospitalization_stays
		WHERE appointment_id = $1
		ORDER BY admission_date DESC
		LIMIT 1
	`
	return s.scanOne(s.pool.QueryRow(ctx, query, appointmentID), appointmentID)
}

func (s *StayStore) GetActiveByAppointment(ctx context.Context, appointmentID string) (*hospitalization.Record, error) {
	query := `
		SELECT ` + stayColumns + `
		FROM hospitalization_stays
		WHERE appointment_id = $1 AND status = 'active'
		ORDER BY admission_date DESC
		LIMIT 1
	`
	rec, err := s.scanOne(s.pool.QueryRow(ctx, query, appointmentID), appointmentID)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.NotFound("no active stay for appointment %s", appointmentID)
		}
		return nil, err
	}
	return rec, nil
}

func (s *StayStore) scanOne(row pgx.Row, key string) (*hospitalization.Record, error) {
	rec := &hospitalization.Record{}
	var history []byte
	err := row.Scan(
		&rec.ID, &rec.AppointmentID, &rec.PatientID, &rec.AdmissionDate, &rec.DischargeDate,
		&rec.DischargeReason, &rec.Status, &rec.CurrentRoomID,
		&rec.CurrentHourlyRate, &rec.Notes, &rec.TotalHours, &rec.TotalAmount, &history,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("no stay for %s", key)
		}
		return nil, err
	}
	if err := json.Unmarshal(history, &rec.RoomHistory); err != nil {
		return nil, fmt.Errorf("decode room history: %w", err)
	}
	return rec, nil
}
