package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/internal/infrastructure/memory"
)

type rxServiceStub struct {
	rxs []*billing.Prescription
	err error
}

func (s *rxServiceStub) ListByAppointment(ctx context.Context, appointmentID string) ([]*billing.Prescription, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*billing.Prescription
	for _, rx := range s.rxs {
		if rx.AppointmentID == appointmentID {
			cp := *rx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *rxServiceStub) Get(ctx context.Context, prescriptionID string) (*billing.Prescription, error) {
	for _, rx := range s.rxs {
		if rx.ID == prescriptionID {
			cp := *rx
			return &cp, nil
		}
	}
	return nil, errs.NotFound("no prescription %s", prescriptionID)
}

type apptServiceStub struct {
	known map[string]bool
	err   error
}

func (s *apptServiceStub) Exists(ctx context.Context, appointmentID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.known[appointmentID], nil
}

type fixture struct {
	agg    *billing.Aggregator
	bills  *memory.BillStore
	ledger *memory.LedgerStore
	events *memory.EventLog
	rxs    *rxServiceStub
}

func newFixture(rxs ...*billing.Prescription) *fixture {
	bills := memory.NewBillStore()
	ledgerStore := memory.NewLedgerStore()
	events := memory.NewEventLog()
	rxStub := &rxServiceStub{rxs: rxs}
	appts := &apptServiceStub{known: map[string]bool{"APT-1": true, "APT-2": true}}

	ledger := billing.NewLedger(ledgerStore, bills)
	link := billing.NewPrescriptionLink(rxStub, ledger)
	agg := billing.NewAggregator(bills, ledger, link, appts, events, nil)

	return &fixture{agg: agg, bills: bills, ledger: ledgerStore, events: events, rxs: rxStub}
}

func TestOpenBillSynthesizesMedicationPart(t *testing.T) {
	f := newFixture(
		&billing.Prescription{ID: "P1", AppointmentID: "APT-1", TotalAmount: 50000, Status: "pending", PrescriptionOrder: 1},
		&billing.Prescription{ID: "P2", AppointmentID: "APT-1", TotalAmount: 30000, Status: billing.PrescriptionStatusDispensed, PrescriptionOrder: 2},
	)

	bill, err := f.agg.OpenBill(context.Background(), "APT-1", 200000)
	if err != nil {
		t.Fatalf("OpenBill: %v", err)
	}

	if bill.TotalAmount != 280000 {
		t.Fatalf("total = %d, want 280000", bill.TotalAmount)
	}
	// The dispensed prescription counts as paid at synthesis time.
	if bill.PaidAmount != 30000 {
		t.Fatalf("paid = %d, want 30000", bill.PaidAmount)
	}
	if bill.OverallStatus != billing.OverallPartial {
		t.Fatalf("overall = %s, want partial", bill.OverallStatus)
	}
	if got := bill.Medication.PrescriptionIDs; len(got) != 2 || got[0] != "P1" || got[1] != "P2" {
		t.Fatalf("prescription ids = %v", got)
	}
	if bill.Medication.Status != billing.PartPending {
		t.Fatalf("medication status = %s, want pending while P1 is unpaid", bill.Medication.Status)
	}
}

func TestOpenBillUnknownAppointment(t *testing.T) {
	f := newFixture()
	_, err := f.agg.OpenBill(context.Background(), "APT-MISSING", 100)
	if !errs.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestOpenBillTwiceConflicts(t *testing.T) {
	f := newFixture()
	if _, err := f.agg.OpenBill(context.Background(), "APT-1", 100); err != nil {
		t.Fatalf("first OpenBill: %v", err)
	}
	_, err := f.agg.OpenBill(context.Background(), "APT-1", 100)
	if !errs.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestOpenBillToleratesPrescriptionOutage(t *testing.T) {
	f := newFixture()
	f.rxs.err = errors.New("connection refused")

	bill, err := f.agg.OpenBill(context.Background(), "APT-1", 200000)
	if err != nil {
		t.Fatalf("OpenBill during outage: %v", err)
	}
	if len(bill.Medication.PrescriptionPayments) != 0 {
		t.Fatalf("medication part should stay empty until the next refresh, got %v", bill.Medication.PrescriptionPayments)
	}

	// Once the service recovers, a refresh fills the part in.
	f.rxs.err = nil
	f.rxs.rxs = []*billing.Prescription{
		{ID: "P1", AppointmentID: "APT-1", TotalAmount: 50000, Status: "pending", PrescriptionOrder: 1},
	}
	bill, err = f.agg.RefreshMedication(context.Background(), "APT-1")
	if err != nil {
		t.Fatalf("RefreshMedication: %v", err)
	}
	if bill.Medication.Amount != 50000 {
		t.Fatalf("medication amount = %d after refresh", bill.Medication.Amount)
	}
}

func TestConfirmCashPayment(t *testing.T) {
	f := newFixture()
	if _, err := f.agg.OpenBill(context.Background(), "APT-1", 200000); err != nil {
		t.Fatalf("OpenBill: %v", err)
	}

	bill, err := f.agg.ConfirmCashPayment(context.Background(), "APT-1", billing.BillTypeConsultation)
	if err != nil {
		t.Fatalf("ConfirmCashPayment: %v", err)
	}
	if bill.Consultation.Status != billing.PartPaid || bill.Consultation.PaymentMethod != billing.MethodCash {
		t.Fatalf("consultation = %+v", bill.Consultation)
	}
	if bill.OverallStatus != billing.OverallPaid {
		t.Fatalf("overall = %s, want paid (consultation was the only charge)", bill.OverallStatus)
	}

	// Confirming twice is a conflict, not a double credit.
	if _, err := f.agg.ConfirmCashPayment(context.Background(), "APT-1", billing.BillTypeConsultation); !errs.IsConflict(err) {
		t.Fatalf("second confirm err = %v, want conflict", err)
	}
	txs, _ := f.agg.ListPayments(context.Background(), "APT-1", 1, 50)
	if len(txs) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(txs))
	}
}

func TestConfirmCashRejectsMedication(t *testing.T) {
	f := newFixture()
	if _, err := f.agg.OpenBill(context.Background(), "APT-1", 100); err != nil {
		t.Fatalf("OpenBill: %v", err)
	}
	_, err := f.agg.ConfirmCashPayment(context.Background(), "APT-1", billing.BillTypeMedication)
	if !errs.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestGatewayPaymentReplayIsNoOp(t *testing.T) {
	f := newFixture()
	if _, err := f.agg.OpenBill(context.Background(), "APT-1", 200000); err != nil {
		t.Fatalf("OpenBill: %v", err)
	}

	p := billing.GatewayPayment{
		TransactionID: "TX-100",
		AppointmentID: "APT-1",
		BillType:      billing.BillTypeConsultation,
		Amount:        200000,
		Provider:      "midtrans",
	}
	bill, err := f.agg.ApplyGatewayPayment(context.Background(), p)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if bill.Consultation.PaymentMethod != billing.GatewayMethod("midtrans") {
		t.Fatalf("method = %s", bill.Consultation.PaymentMethod)
	}

	// The provider retries the callback. Same transaction id, same result, no
	// second ledger entry.
	replay, err := f.agg.ApplyGatewayPayment(context.Background(), p)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.PaidAmount != bill.PaidAmount {
		t.Fatalf("replay changed paid amount: %d != %d", replay.PaidAmount, bill.PaidAmount)
	}
	txs, _ := f.agg.ListPayments(context.Background(), "APT-1", 1, 50)
	if len(txs) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(txs))
	}
}

func TestGatewayPaymentAmountMismatch(t *testing.T) {
	f := newFixture()
	if _, err := f.agg.OpenBill(context.Background(), "APT-1", 200000); err != nil {
		t.Fatalf("OpenBill: %v", err)
	}
	_, err := f.agg.ApplyGatewayPayment(context.Background(), billing.GatewayPayment{
		TransactionID: "TX-1",
		AppointmentID: "APT-1",
		BillType:      billing.BillTypeConsultation,
		Amount:        100000,
	})
	if !errs.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestGatewayPaymentRequiresTransactionID(t *testing.T) {
	f := newFixture()
	_, err := f.agg.ApplyGatewayPayment(context.Background(), billing.GatewayPayment{
		AppointmentID: "APT-1",
		BillType:      billing.BillTypeConsultation,
		Amount:        100,
	})
	if !errs.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestPayPrescriptionCashCompletesEncounter(t *testing.T) {
	f := newFixture(
		&billing.Prescription{ID: "P1", AppointmentID: "APT-1", TotalAmount: 50000, Status: "pending", PrescriptionOrder: 1},
		&billing.Prescription{ID: "P2", AppointmentID: "APT-1", TotalAmount: 30000, Status: billing.PrescriptionStatusDispensed, PrescriptionOrder: 2},
	)
	if _, err := f.agg.OpenBill(context.Background(), "APT-1", 200000); err != nil {
		t.Fatalf("OpenBill: %v", err)
	}
	if _, err := f.agg.ConfirmCashPayment(context.Background(), "APT-1", billing.BillTypeConsultation); err != nil {
		t.Fatalf("consultation cash: %v", err)
	}

	bill, err := f.agg.PayPrescriptionCash(context.Background(), "P1")
	if err != nil {
		t.Fatalf("PayPrescriptionCash: %v", err)
	}
	if bill.Medication.Status != billing.PartPaid {
		t.Fatalf("medication status = %s, want paid", bill.Medication.Status)
	}
	if bill.OverallStatus != billing.OverallPaid {
		t.Fatalf("overall = %s, want paid; remaining %d", bill.OverallStatus, bill.RemainingAmount)
	}

	// Paying the same prescription again conflicts.
	if _, err := f.agg.PayPrescriptionCash(context.Background(), "P1"); !errs.IsConflict(err) {
		t.Fatalf("second pay err = %v, want conflict", err)
	}
}

func TestHospitalizationChargeLifecycle(t *testing.T) {
	f := newFixture()
	if _, err := f.agg.OpenBill(context.Background(), "APT-1", 200000); err != nil {
		t.Fatalf("OpenBill: %v", err)
	}

	if err := f.agg.ApplyHospitalizationCharge(context.Background(), "APT-1", 400000); err != nil {
		t.Fatalf("ApplyHospitalizationCharge: %v", err)
	}
	bill, _ := f.agg.GetBill(context.Background(), "APT-1")
	if bill.Hospitalization.Amount != 400000 || bill.Hospitalization.Status != billing.PartPending {
		t.Fatalf("hospitalization = %+v", bill.Hospitalization)
	}
	if bill.TotalAmount != 600000 {
		t.Fatalf("total = %d, want 600000", bill.TotalAmount)
	}

	// Re-applying before payment is allowed; the stay is the source of truth.
	if err := f.agg.ApplyHospitalizationCharge(context.Background(), "APT-1", 400000); err != nil {
		t.Fatalf("reapply: %v", err)
	}

	if _, err := f.agg.ConfirmCashPayment(context.Background(), "APT-1", billing.BillTypeHospitalization); err != nil {
		t.Fatalf("hospitalization cash: %v", err)
	}
	// Once paid, the amount is immutable.
	if err := f.agg.ApplyHospitalizationCharge(context.Background(), "APT-1", 999); !errs.IsConflict(err) {
		t.Fatalf("charge after payment err = %v, want conflict", err)
	}
}

func TestEventsEmittedOnPayment(t *testing.T) {
	f := newFixture()
	if _, err := f.agg.OpenBill(context.Background(), "APT-1", 200000); err != nil {
		t.Fatalf("OpenBill: %v", err)
	}
	if _, err := f.agg.ConfirmCashPayment(context.Background(), "APT-1", billing.BillTypeConsultation); err != nil {
		t.Fatalf("ConfirmCashPayment: %v", err)
	}

	var types []string
	for _, ev := range f.events.Events() {
		types = append(types, ev.EventType)
	}
	if len(types) != 2 || types[0] != billing.EventBillOpened || types[1] != billing.EventPaymentRecorded {
		t.Fatalf("events = %v", types)
	}
}

func TestLedgerListPagination(t *testing.T) {
	f := newFixture(
		&billing.Prescription{ID: "P1", AppointmentID: "APT-1", TotalAmount: 100, Status: "pending", PrescriptionOrder: 1},
		&billing.Prescription{ID: "P2", AppointmentID: "APT-1", TotalAmount: 200, Status: "pending", PrescriptionOrder: 2},
	)
	if _, err := f.agg.OpenBill(context.Background(), "APT-1", 300); err != nil {
		t.Fatalf("OpenBill: %v", err)
	}
	if _, err := f.agg.ConfirmCashPayment(context.Background(), "APT-1", billing.BillTypeConsultation); err != nil {
		t.Fatalf("cash: %v", err)
	}
	if _, err := f.agg.PayPrescriptionCash(context.Background(), "P1"); err != nil {
		t.Fatalf("P1: %v", err)
	}
	if _, err := f.agg.PayPrescriptionCash(context.Background(), "P2"); err != nil {
		t.Fatalf("P2: %v", err)
	}

	page1, err := f.agg.ListPayments(context.Background(), "APT-1", 1, 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	page2, err := f.agg.ListPayments(context.Background(), "APT-1", 2, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page1) != 2 || len(page2) != 1 {
		t.Fatalf("pages = %d/%d, want 2/1", len(page1), len(page2))
	}
}

// withClockHelper keeps the clock deterministic where payment dates matter.
func TestPaymentDateUsesInjectedClock(t *testing.T) {
	f := newFixture()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.agg.WithClock(func() time.Time { return fixed })

	if _, err := f.agg.OpenBill(context.Background(), "APT-1", 100); err != nil {
		t.Fatalf("OpenBill: %v", err)
	}
	bill, err := f.agg.ConfirmCashPayment(context.Background(), "APT-1", billing.BillTypeConsultation)
	if err != nil {
		t.Fatalf("ConfirmCashPayment: %v", err)
	}
	if bill.Consultation.PaymentDate == nil || !bill.Consultation.PaymentDate.Equal(fixed) {
		t.Fatalf("payment date = %v, want %v", bill.Consultation.PaymentDate, fixed)
	}
}
