// Package postgres provides PostgreSQL persistence for the billing engine:
// bill records, the append-only payment ledger, hospitalization stays and the
// transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
)

const uniqueViolation = "23505"

// BillStore persists bill records keyed by appointment_id. The three bill-parts
// are stored as JSONB documents; derived totals are denormalized columns so
// reporting queries never re-derive them.
type BillStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewBillStore creates a bill store.
func NewBillStore(pool *pgxpool.Pool, logger *zap.Logger) *BillStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillStore{pool: pool, logger: logger}
}

func (s *BillStore) Get(ctx context.Context, appointmentID string) (*billing.BillRecord, error) {
	query := `
		SELECT appointment_id, bill_number, consultation, medication, hospitalization,
		       total_amount, paid_amount, remaining_amount, overall_status,
		       created_at, updated_at
		FROM bills
		WHERE appointment_id = $1
	`
	return s.scanOne(s.pool.QueryRow(ctx, query, appointmentID), appointmentID)
}

func (s *BillStore) Create(ctx context.Context, bill *billing.BillRecord) error {
	consultation, medication, hospitalization, err := marshalParts(bill)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bills
		(appointment_id, bill_number, consultation, medication, hospitalization,
		 total_amount, paid_amount, remaining_amount, overall_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.pool.Exec(ctx, query,
		bill.AppointmentID, bill.BillNumber, consultation, medication, hospitalization,
		bill.TotalAmount, bill.PaidAmount, bill.RemainingAmount, bill.OverallStatus,
		bill.CreatedAt, bill.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return errs.Conflict("bill already exists for appointment %s", bill.AppointmentID)
	}
	return err
}

func (s *BillStore) Update(ctx context.Context, bill *billing.BillRecord) error {
	consultation, medication, hospitalization, err := marshalParts(bill)
	if err != nil {
		return err
	}

	query := `
		UPDATE bills
		SET consultation = $2, medication = $3, hospitalization = $4,
		    total_amount = $5, paid_amount = $6, remaining_amount = $7,
		    overall_status = $8, updated_at = $9
		WHERE appointment_id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		bill.AppointmentID, consultation, medication, hospitalization,
		bill.TotalAmount, bill.PaidAmount, bill.RemainingAmount,
		bill.OverallStatus, bill.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("no bill for appointment %s", bill.AppointmentID)
	}
	return nil
}

func (s *BillStore) FindByPrescription(ctx context.Context, prescriptionID string) (*billing.BillRecord, error) {
	query := `
		SELECT appointment_id, bill_number, consultation, medication, hospitalization,
		       total_amount, paid_amount, remaining_amount, overall_status,
		       created_at, updated_at
		FROM bills
		WHERE medication->'prescription_ids' @> to_jsonb($1::text)
	`
	return s.scanOne(s.pool.QueryRow(ctx, query, prescriptionID), prescriptionID)
}

func (s *BillStore) scanOne(row pgx.Row, key string) (*billing.BillRecord, error) {
	var (
		bill            billing.BillRecord
		consultation    []byte
		medication      []byte
		hospitalization []byte
	)
	err := row.Scan(
		&bill.AppointmentID, &bill.BillNumber, &consultation, &medication, &hospitalization,
		&bill.TotalAmount, &bill.PaidAmount, &bill.RemainingAmount, &bill.OverallStatus,
		&bill.CreatedAt, &bill.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("no bill for %s", key)
		}
		return nil, err
	}
	if err := json.Unmarshal(consultation, &bill.Consultation); err != nil {
		return nil, fmt.Errorf("decode consultation part: %w", err)
	}
	if err := json.Unmarshal(medication, &bill.Medication); err != nil {
		return nil, fmt.Errorf("decode medication part: %w", err)
	}
	if err := json.Unmarshal(hospitalization, &bill.Hospitalization); err != nil {
		return nil, fmt.Errorf("decode hospitalization part: %w", err)
	}
	return &bill, nil
}

func marshalParts(bill *billing.BillRecord) (consultation, medication, hospitalization []byte, err error) {
	if consultation, err = json.Marshal(bill.Consultation); err != nil {
		return nil, nil, nil, fmt.Errorf("encode consultation part: %w", err)
	}
	if medication, err = json.Marshal(bill.Medication); err != nil {
		return nil, nil, nil, fmt.Errorf("encode medication part: %w", err)
	}
	if hospitalization, err = json.Marshal(bill.Hospitalization); err != nil {
		return nil, nil, nil, fmt.Errorf("encode hospitalization part: %w", err)
	}
	return consultation, medication, hospitalization, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
