package billing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caresuite/go-ebe/internal/domain/errs"
)

// AppointmentService is the external Appointment Service collaborator,
// consulted only for encounter identity.
type AppointmentService interface {
	Exists(ctx context.Context, appointmentID string) (bool, error)
}

// EventSink receives domain events for publication (transactional outbox).
// Implementations must not block payment application; failures are logged by
// the caller, never surfaced.
type EventSink interface {
	Record(ctx context.Context, eventType, key string, payload interface{}) error
}

// Event types emitted by the aggregator.
const (
	EventBillOpened             = "billing.bill.opened"
	EventPaymentRecorded        = "billing.payment.recorded"
	EventMedicationRefreshed    = "billing.medication.refreshed"
	EventHospitalizationCharged = "billing.hospitalization.charged"
)

// Aggregator composes consultation, medication and hospitalization charges into
// one bill per encounter and is the only component that mutates bills and the
// payment ledger. Mutations for a given appointment are serialized on a
// per-appointment lock so concurrent confirmations cannot double-credit.
type Aggregator struct {
	bills        BillStore
	ledger       *Ledger
	link         *PrescriptionLink
	appointments AppointmentService
	events       EventSink
	logger       *zap.Logger
	now          func() time.Time

	locks sync.Map // appointmentID -> *sync.Mutex
}

// NewAggregator wires the aggregator. events may be nil.
func NewAggregator(bills BillStore, ledger *Ledger, link *PrescriptionLink, appointments AppointmentService, events EventSink, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		bills:        bills,
		ledger:       ledger,
		link:         link,
		appointments: appointments,
		events:       events,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

func (a *Aggregator) lock(appointmentID string) func() {
	v, _ := a.locks.LoadOrStore(appointmentID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// GetBill returns the bill for the appointment. Read-only projection.
func (a *Aggregator) GetBill(ctx context.Context, appointmentID string) (*BillRecord, error) {
	return a.bills.Get(ctx, appointmentID)
}

// OpenBill creates the bill when the encounter first acquires a chargeable
// item (the consultation fee). The medication part is synthesized immediately
// when the prescription service is reachable; otherwise it stays empty until
// the next refresh.
func (a *Aggregator) OpenBill(ctx context.Context, appointmentID string, consultationFee int64) (*BillRecord, error) {
	if consultationFee < 0 {
		return nil, errs.Validation("consultation fee must not be negative, got %d", consultationFee)
	}
	ok, err := a.appointments.Exists(ctx, appointmentID)
	if err != nil {
		return nil, errs.Unavailable(err, "appointment service: lookup %s", appointmentID)
	}
	if !ok {
		return nil, errs.NotFound("appointment %s not found", appointmentID)
	}

	unlock := a.lock(appointmentID)
	defer unlock()

	if existing, err := a.bills.Get(ctx, appointmentID); err == nil && existing != nil {
		return nil, errs.Conflict("bill already open for appointment %s", appointmentID)
	} else if err != nil && !errs.IsNotFound(err) {
		return nil, err
	}

	bill := NewBillRecord(appointmentID, consultationFee, a.now())
	if err := a.link.Refresh(ctx, bill); err != nil {
		if !errs.IsUnavailable(err) {
			return nil, err
		}
		a.logger.Warn("medication refresh deferred, prescription service unavailable",
			zap.String("appointment_id", appointmentID), zap.Error(err))
	}
	if err := a.bills.Create(ctx, bill); err != nil {
		return nil, err
	}

	a.emit(ctx, EventBillOpened, appointmentID, bill)
	a.logger.Info("bill opened",
		zap.String("appointment_id", appointmentID),
		zap.String("bill_number", bill.BillNumber),
		zap.Int64("consultation_fee", consultationFee))
	return bill, nil
}

// RefreshMedication resynthesizes the medication bill-part from the
// Prescription Service and the ledger.
func (a *Aggregator) RefreshMedication(ctx context.Context, appointmentID string) (*BillRecord, error) {
	unlock := a.lock(appointmentID)
	defer unlock()

	bill, err := a.bills.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := a.link.Refresh(ctx, bill); err != nil {
		return nil, err
	}
	bill.UpdatedAt = a.now()
	if err := a.bills.Update(ctx, bill); err != nil {
		return nil, err
	}
	a.emit(ctx, EventMedicationRefreshed, appointmentID, bill)
	return bill, nil
}

// ConfirmCashPayment marks the consultation or hospitalization part as paid in
// cash. The part must exist with a positive amount and pending status.
func (a *Aggregator) ConfirmCashPayment(ctx context.Context, appointmentID string, billType BillType) (*BillRecord, error) {
	if billType != BillTypeConsultation && billType != BillTypeHospitalization {
		return nil, errs.Validation("cash confirmation not supported for bill type %q", billType)
	}

	unlock := a.lock(appointmentID)
	defer unlock()

	bill, err := a.bills.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	return a.applyPartPayment(ctx, bill, billType, MethodCash, "")
}

// PayPrescriptionCash marks a single prescription as paid in cash and
// recomputes the medication and encounter totals.
func (a *Aggregator) PayPrescriptionCash(ctx context.Context, prescriptionID string) (*BillRecord, error) {
	bill, err := a.bills.FindByPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}

	unlock := a.lock(bill.AppointmentID)
	defer unlock()

	// Reload under the lock; another actor may have advanced the bill.
	bill, err = a.bills.Get(ctx, bill.AppointmentID)
	if err != nil {
		return nil, err
	}
	return a.applyPrescriptionPayment(ctx, bill, prescriptionID, MethodCash, "")
}

// GatewayPayment is a confirmation callback from the external payment gateway.
type GatewayPayment struct {
	TransactionID  string   `json:"transaction_id"`
	AppointmentID  string   `json:"appointment_id"`
	BillType       BillType `json:"bill_type"`
	Amount         int64    `json:"amount"`
	PrescriptionID string   `json:"prescription_id,omitempty"`
	Provider       string   `json:"provider,omitempty"`
}

// ApplyGatewayPayment applies an asynchronous gateway confirmation. Idempotent:
// a replayed transactionID whose payment already completed returns the current
// bill unchanged. Webhook retries therefore resolve to a successful no-op.
func (a *Aggregator) ApplyGatewayPayment(ctx context.Context, p GatewayPayment) (*BillRecord, error) {
	if p.TransactionID == "" {
		return nil, errs.Validation("gateway payment requires a transaction id")
	}
	if !ValidBillType(p.BillType) {
		return nil, errs.Validation("unknown bill type %q", p.BillType)
	}

	unlock := a.lock(p.AppointmentID)
	defer unlock()

	if prior, err := a.ledger.CompletedByGatewayTx(ctx, p.TransactionID); err != nil {
		return nil, err
	} else if prior != nil {
		a.logger.Info("gateway payment replayed, no-op",
			zap.String("transaction_id", p.TransactionID),
			zap.String("appointment_id", p.AppointmentID))
		return a.bills.Get(ctx, p.AppointmentID)
	}

	bill, err := a.bills.Get(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}

	method := GatewayMethod(p.Provider)
	if p.BillType == BillTypeMedication {
		if p.PrescriptionID == "" {
			return nil, errs.Validation("gateway medication payment requires a prescription id")
		}
		if entry := bill.Prescription(p.PrescriptionID); entry != nil && p.Amount != entry.Amount {
			return nil, errs.Validation("gateway amount %d does not match prescription charge %d", p.Amount, entry.Amount)
		}
		return a.applyPrescriptionPayment(ctx, bill, p.PrescriptionID, method, p.TransactionID)
	}

	if part := bill.Part(p.BillType); part != nil && p.Amount != part.Amount {
		return nil, errs.Validation("gateway amount %d does not match %s charge %d", p.Amount, p.BillType, part.Amount)
	}
	return a.applyPartPayment(ctx, bill, p.BillType, method, p.TransactionID)
}

// ApplyHospitalizationCharge sets the hospitalization part amount from a
// discharged stay's frozen total. Called by the hospitalization service through
// its charge-sink port.
func (a *Aggregator) ApplyHospitalizationCharge(ctx context.Context, appointmentID string, amount int64) error {
	if amount < 0 {
		return errs.Validation("hospitalization charge must not be negative, got %d", amount)
	}

	unlock := a.lock(appointmentID)
	defer unlock()

	bill, err := a.bills.Get(ctx, appointmentID)
	if err != nil {
		return err
	}
	if bill.Hospitalization.Status == PartPaid {
		return errs.Conflict("hospitalization part already paid for appointment %s", appointmentID)
	}
	bill.Hospitalization.Amount = amount
	bill.Recompute()
	bill.UpdatedAt = a.now()
	if err := a.bills.Update(ctx, bill); err != nil {
		return err
	}

	a.emit(ctx, EventHospitalizationCharged, appointmentID, bill)
	a.logger.Info("hospitalization charge applied",
		zap.String("appointment_id", appointmentID),
		zap.Int64("amount", amount))
	return nil
}

// ListPayments returns the appointment's transactions, oldest first.
func (a *Aggregator) ListPayments(ctx context.Context, appointmentID string, page, pageSize int) ([]*PaymentTransaction, error) {
	return a.ledger.ListByAppointment(ctx, appointmentID, page, pageSize)
}

// ListPrescriptionPayments returns the prescription's transactions, oldest first.
func (a *Aggregator) ListPrescriptionPayments(ctx context.Context, prescriptionID string, page, pageSize int) ([]*PaymentTransaction, error) {
	return a.ledger.ListByPrescription(ctx, prescriptionID, page, pageSize)
}

// applyPartPayment completes payment of a whole bill-part. Callers hold the
// appointment lock. The ledger append runs first: its uniqueness invariant is
// the backstop against double-crediting, so a conflicting append leaves the
// bill untouched.
func (a *Aggregator) applyPartPayment(ctx context.Context, bill *BillRecord, billType BillType, method, gatewayTxID string) (*BillRecord, error) {
	part := bill.Part(billType)
	if part == nil {
		return nil, errs.Validation("bill type %q is not payable as a whole part", billType)
	}
	if part.Amount <= 0 {
		return nil, errs.Validation("%s part has no chargeable amount", billType)
	}
	switch part.Status {
	case PartPaid:
		return nil, errs.Conflict("%s part already paid for appointment %s", billType, bill.AppointmentID)
	case PartCancelled:
		return nil, errs.Conflict("%s part is cancelled for appointment %s", billType, bill.AppointmentID)
	}

	tx := &PaymentTransaction{
		AppointmentID: bill.AppointmentID,
		BillType:      billType,
		Amount:        part.Amount,
		PaymentMethod: method,
		PaymentStatus: PaymentCompleted,
		TransactionID: gatewayTxID,
	}
	stored, err := a.ledger.Append(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := a.now()
	part.Status = PartPaid
	part.PaymentMethod = method
	part.PaymentDate = &now
	bill.Recompute()
	bill.UpdatedAt = now
	if err := a.bills.Update(ctx, bill); err != nil {
		return nil, err
	}

	a.emit(ctx, EventPaymentRecorded, bill.AppointmentID, stored)
	a.logger.Info("payment recorded",
		zap.String("appointment_id", bill.AppointmentID),
		zap.String("bill_type", string(billType)),
		zap.String("method", method),
		zap.Int64("amount", stored.Amount),
		zap.String("overall_status", string(bill.OverallStatus)))
	return bill, nil
}

// applyPrescriptionPayment completes payment of one prescription entry.
// Callers hold the appointment lock.
func (a *Aggregator) applyPrescriptionPayment(ctx context.Context, bill *BillRecord, prescriptionID, method, gatewayTxID string) (*BillRecord, error) {
	entry := bill.Prescription(prescriptionID)
	if entry == nil {
		return nil, errs.NotFound("prescription %s not on bill for appointment %s", prescriptionID, bill.AppointmentID)
	}
	if entry.Amount <= 0 {
		return nil, errs.Validation("prescription %s has no chargeable amount", prescriptionID)
	}
	switch entry.Status {
	case PartPaid:
		return nil, errs.Conflict("prescription %s already paid", prescriptionID)
	case PartCancelled:
		return nil, errs.Conflict("prescription %s is cancelled", prescriptionID)
	}

	tx := &PaymentTransaction{
		AppointmentID:  bill.AppointmentID,
		BillType:       BillTypeMedication,
		PrescriptionID: prescriptionID,
		Amount:         entry.Amount,
		PaymentMethod:  method,
		PaymentStatus:  PaymentCompleted,
		TransactionID:  gatewayTxID,
	}
	stored, err := a.ledger.Append(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := a.now()
	entry.Status = PartPaid
	entry.PaymentMethod = method
	entry.PaymentDate = &now
	bill.Recompute()
	bill.UpdatedAt = now
	if err := a.bills.Update(ctx, bill); err != nil {
		return nil, err
	}

	a.emit(ctx, EventPaymentRecorded, bill.AppointmentID, stored)
	a.logger.Info("prescription payment recorded",
		zap.String("appointment_id", bill.AppointmentID),
		zap.String("prescription_id", prescriptionID),
		zap.String("method", method),
		zap.Int64("amount", stored.Amount),
		zap.String("medication_status", string(bill.Medication.Status)))
	return bill, nil
}

func (a *Aggregator) emit(ctx context.Context, eventType, key string, payload interface{}) {
	if a.events == nil {
		return
	}
	if err := a.events.Record(ctx, eventType, key, payload); err != nil {
		a.logger.Error("event record failed",
			zap.String("event_type", eventType),
			zap.String("key", key),
			zap.Error(err))
	}
}
