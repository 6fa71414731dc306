package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/caresuite/go-ebe/internal/domain/errs"
)

// PaymentMethod identifies how a payment was confirmed.
const (
	MethodCash          = "cash"
	methodGatewayPrefix = "gateway:"
)

// GatewayMethod builds the payment method string for a gateway provider.
func GatewayMethod(provider string) string {
	if provider == "" {
		provider = "unknown"
	}
	return methodGatewayPrefix + provider
}

// PaymentStatus is the lifecycle status of a ledger transaction.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentTransaction is one entry of the append-only payment log. Entries are
// never mutated, only superseded by new entries.
type PaymentTransaction struct {
	ID             string        `json:"id"`
	AppointmentID  string        `json:"appointment_id"`
	BillType       BillType      `json:"bill_type"`
	PrescriptionID string        `json:"prescription_id,omitempty"`
	Amount         int64         `json:"amount"`
	PaymentMethod  string        `json:"payment_method"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// LedgerStore persists payment transactions. Append must enforce the
// one-completed-transaction invariants atomically with the insert:
// for non-prescription bill types at most one completed transaction per
// (appointmentID, billType), for prescriptions at most one per prescriptionID.
// Violations fail with a conflict error.
type LedgerStore interface {
	Append(ctx context.Context, tx *PaymentTransaction) (*PaymentTransaction, error)
	ListByAppointment(ctx context.Context, appointmentID string, page, pageSize int) ([]*PaymentTransaction, error)
	ListByPrescription(ctx context.Context, prescriptionID string, page, pageSize int) ([]*PaymentTransaction, error)
	FindByGatewayTx(ctx context.Context, transactionID string) (*PaymentTransaction, error)
}

// BillStore persists bill records keyed by appointment.
type BillStore interface {
	Get(ctx context.Context, appointmentID string) (*BillRecord, error)
	Create(ctx context.Context, bill *BillRecord) error
	Update(ctx context.Context, bill *BillRecord) error
	// FindByPrescription resolves the bill whose medication part contains the
	// prescription.
	FindByPrescription(ctx context.Context, prescriptionID string) (*BillRecord, error)
}

// Ledger validates and appends payment transactions on top of a LedgerStore.
type Ledger struct {
	store LedgerStore
	bills BillStore
	now   func() time.Time
}

// NewLedger creates a ledger over the given stores.
func NewLedger(store LedgerStore, bills BillStore) *Ledger {
	return &Ledger{store: store, bills: bills, now: func() time.Time { return time.Now().UTC() }}
}

// Append validates tx and appends it to the log. The referenced appointment
// must already have a bill. Returns the stored transaction with its assigned id.
func (l *Ledger) Append(ctx context.Context, tx *PaymentTransaction) (*PaymentTransaction, error) {
	if !ValidBillType(tx.BillType) {
		return nil, errs.Validation("unknown bill type %q", tx.BillType)
	}
	if tx.Amount <= 0 {
		return nil, errs.Validation("payment amount must be positive, got %d", tx.Amount)
	}
	if tx.BillType == BillTypeMedication && tx.PrescriptionID == "" {
		return nil, errs.Validation("medication payment requires a prescription id")
	}
	if _, err := l.bills.Get(ctx, tx.AppointmentID); err != nil {
		return nil, err
	}

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = l.now()
	}
	return l.store.Append(ctx, tx)
}

// ListByAppointment returns the appointment's transactions, oldest first.
func (l *Ledger) ListByAppointment(ctx context.Context, appointmentID string, page, pageSize int) ([]*PaymentTransaction, error) {
	page, pageSize = normalizePage(page, pageSize)
	return l.store.ListByAppointment(ctx, appointmentID, page, pageSize)
}

// ListByPrescription returns the prescription's transactions, oldest first.
func (l *Ledger) ListByPrescription(ctx context.Context, prescriptionID string, page, pageSize int) ([]*PaymentTransaction, error) {
	page, pageSize = normalizePage(page, pageSize)
	return l.store.ListByPrescription(ctx, prescriptionID, page, pageSize)
}

// CompletedByGatewayTx returns the completed transaction recorded for an
// external gateway transaction id, or nil when none exists.
func (l *Ledger) CompletedByGatewayTx(ctx context.Context, transactionID string) (*PaymentTransaction, error) {
	tx, err := l.store.FindByGatewayTx(ctx, transactionID)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if tx != nil && tx.PaymentStatus == PaymentCompleted {
		return tx, nil
	}
	return nil, nil
}

// HasCompletedForPrescription reports whether a completed transaction exists
// for the prescription.
func (l *Ledger) HasCompletedForPrescription(ctx context.Context, prescriptionID string) (bool, error) {
	txs, err := l.store.ListByPrescription(ctx, prescriptionID, 1, 50)
	if err != nil {
		return false, err
	}
	for _, tx := range txs {
		if tx.PaymentStatus == PaymentCompleted {
			return true, nil
		}
	}
	return false, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	return page, pageSize
}
