package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
)

// LedgerStore persists the append-only payment log. The one-completed-payment
// invariants are enforced by partial unique indexes:
//
//	CREATE UNIQUE INDEX payments_one_completed_per_part
//	  ON payment_transactions (appointment_id, bill_type)
//	  WHERE payment_status = 'completed' AND prescription_id IS NULL;
//	CREATE UNIQUE INDEX payments_one_completed_per_prescription
//	  ON payment_transactions (prescription_id)
//	  WHERE payment_status = 'completed' AND prescription_id IS NOT NULL;
//
// so a conflicting append fails inside the insert itself.
type LedgerStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewLedgerStore creates a ledger store.
func NewLedgerStore(pool *pgxpool.Pool, logger *zap.Logger) *LedgerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerStore{pool: pool, logger: logger}
}

func (s *LedgerStore) Append(ctx context.Context, tx *billing.PaymentTransaction) (*billing.PaymentTransaction, error) {
	query := `
		INSERT INTO payment_transactions
		(id, appointment_id, bill_type, prescription_id, amount,
		 payment_method, payment_status, transaction_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9)
	`
	_, err := s.pool.Exec(ctx, query,
		tx.ID, tx.AppointmentID, tx.BillType, tx.PrescriptionID, tx.Amount,
		tx.PaymentMethod, tx.PaymentStatus, tx.TransactionID, tx.CreatedAt,
	)
	if isUniqueViolation(err) {
		return nil, errs.Conflict("completed payment already recorded for appointment %s bill type %s prescription %q",
			tx.AppointmentID, tx.BillType, tx.PrescriptionID)
	}
	if err != nil {
		return nil, err
	}
	cp := *tx
	return &cp, nil
}

func (s *LedgerStore) ListByAppointment(ctx context.Context, appointmentID string, page, pageSize int) ([]*billing.PaymentTransaction, error) {
	query := `
		SELECT id, appointment_id, bill_type, COALESCE(prescription_id, ''), amount,
		       payment_method, payment_status, COALESCE(transaction_id, ''), created_at
		FROM payment_transactions
		WHERE appointment_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`
	return s.list(ctx, query, appointmentID, page, pageSize)
}

func (s *LedgerStore) ListByPrescription(ctx context.Context, prescriptionID string, page, pageSize int) ([]*billing.PaymentTransaction, error) {
	query := `
		SELECT id, appointment_id, bill_type, COALESCE(prescription_id, ''), amount,
		       payment_method, payment_status, COALESCE(transaction_id, ''), created_at
		FROM payment_transactions
		WHERE prescription_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`
	return s.list(ctx, query, prescriptionID, page, pageSize)
}

func (s *LedgerStore) FindByGatewayTx(ctx context.Context, transactionID string) (*billing.PaymentTransaction, error) {
	query := `
		SELECT id, appointment_id, bill_type, COALESCE(prescription_id, ''), amount,
		       payment_method, payment_status, COALESCE(transaction_id, ''), created_at
		FROM payment_transactions
		WHERE transaction_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	tx := &billing.PaymentTransaction{}
	err := s.pool.QueryRow(ctx, query, transactionID).Scan(
		&tx.ID, &tx.AppointmentID, &tx.BillType, &tx.PrescriptionID, &tx.Amount,
		&tx.PaymentMethod, &tx.PaymentStatus, &tx.TransactionID, &tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFound("no transaction %s", transactionID)
		}
		return nil, err
	}
	return tx, nil
}

func (s *LedgerStore) list(ctx context.Context, query, key string, page, pageSize int) ([]*billing.PaymentTransaction, error) {
	offset := (page - 1) * pageSize
	rows, err := s.pool.Query(ctx, query, key, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*billing.PaymentTransaction
	for rows.Next() {
		tx := &billing.PaymentTransaction{}
		err := rows.Scan(
			&tx.ID, &tx.AppointmentID, &tx.BillType, &tx.PrescriptionID, &tx.Amount,
			&tx.PaymentMethod, &tx.PaymentStatus, &tx.TransactionID, &tx.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
