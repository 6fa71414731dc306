// Package integration exercises the full encounter flow over the in-memory
// infrastructure: admit, transfer, discharge, charge propagation and payment of
// every bill-part.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/internal/domain/hospitalization"
	"github.com/caresuite/go-ebe/internal/infrastructure/memory"
)

type rxService struct {
	rxs []*billing.Prescription
}

func (s *rxService) ListByAppointment(ctx context.Context, appointmentID string) ([]*billing.Prescription, error) {
	var out []*billing.Prescription
	for _, rx := range s.rxs {
		if rx.AppointmentID == appointmentID {
			cp := *rx
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *rxService) Get(ctx context.Context, prescriptionID string) (*billing.Prescription, error) {
	for _, rx := range s.rxs {
		if rx.ID == prescriptionID {
			cp := *rx
			return &cp, nil
		}
	}
	return nil, errs.NotFound("no prescription %s", prescriptionID)
}

type apptRegistry struct{}

func (apptRegistry) Exists(ctx context.Context, appointmentID string) (bool, error) {
	return appointmentID == "APT-1", nil
}

func TestEncounterLifecycle(t *testing.T) {
	ctx := context.Background()

	bills := memory.NewBillStore()
	ledgerStore := memory.NewLedgerStore()
	events := memory.NewEventLog()
	rxs := &rxService{rxs: []*billing.Prescription{
		{ID: "P1", AppointmentID: "APT-1", TotalAmount: 50000, Status: "pending", PrescriptionOrder: 1},
	}}

	ledger := billing.NewLedger(ledgerStore, bills)
	link := billing.NewPrescriptionLink(rxs, ledger)
	agg := billing.NewAggregator(bills, ledger, link, apptRegistry{}, events, nil)

	stays := memory.NewStayStore()
	rooms := memory.NewRoomInventory(
		&hospitalization.Room{ID: "R-A", RoomNumber: "101", RoomType: "vip", HourlyRate: 100000, Capacity: 1},
		&hospitalization.Room{ID: "R-B", RoomNumber: "201", RoomType: "standard", HourlyRate: 50000, Capacity: 2},
	)
	svc := hospitalization.NewService(stays, rooms, agg, events, nil)

	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	agg.WithClock(clock)
	svc.WithClock(clock)

	// The encounter opens with the consultation fee and one unpaid prescription.
	bill, err := agg.OpenBill(ctx, "APT-1", 200000)
	if err != nil {
		t.Fatalf("OpenBill: %v", err)
	}
	if bill.TotalAmount != 250000 || bill.OverallStatus != billing.OverallUnpaid {
		t.Fatalf("opened bill = %d %s", bill.TotalAmount, bill.OverallStatus)
	}

	// Admission, a transfer at 3h10m and discharge 61 minutes later.
	stay, err := svc.AssignRoom(ctx, hospitalization.AssignInput{
		AppointmentID: "APT-1", PatientID: "PAT-1", RoomID: "R-A", Reason: "observation",
	})
	if err != nil {
		t.Fatalf("AssignRoom: %v", err)
	}

	now = now.Add(3*time.Hour + 10*time.Minute)
	if _, err := svc.TransferRoom(ctx, stay.ID, "R-B", "step down"); err != nil {
		t.Fatalf("TransferRoom: %v", err)
	}

	now = now.Add(61 * time.Minute)
	stay, err = svc.Discharge(ctx, stay.ID, "recovered")
	if err != nil {
		t.Fatalf("Discharge: %v", err)
	}
	// 4 ceiling hours at 100000 plus 2 ceiling hours at 50000.
	if stay.TotalHours != 6 || stay.TotalAmount != 500000 {
		t.Fatalf("stay totals = %dh/%d", stay.TotalHours, stay.TotalAmount)
	}

	// The frozen total landed on the bill through the charge sink.
	bill, err = agg.GetBill(ctx, "APT-1")
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if bill.Hospitalization.Amount != 500000 {
		t.Fatalf("hospitalization part = %d, want 500000", bill.Hospitalization.Amount)
	}
	if bill.TotalAmount != 750000 {
		t.Fatalf("total = %d, want 750000", bill.TotalAmount)
	}

	// Pay everything: consultation in cash, hospitalization through the gateway,
	// the prescription in cash at the pharmacy desk.
	if _, err := agg.ConfirmCashPayment(ctx, "APT-1", billing.BillTypeConsultation); err != nil {
		t.Fatalf("consultation cash: %v", err)
	}
	gw := billing.GatewayPayment{
		TransactionID: "TX-1",
		AppointmentID: "APT-1",
		BillType:      billing.BillTypeHospitalization,
		Amount:        500000,
		Provider:      "midtrans",
	}
	if _, err := agg.ApplyGatewayPayment(ctx, gw); err != nil {
		t.Fatalf("gateway payment: %v", err)
	}
	bill, err = agg.PayPrescriptionCash(ctx, "P1")
	if err != nil {
		t.Fatalf("prescription cash: %v", err)
	}

	if bill.OverallStatus != billing.OverallPaid || bill.RemainingAmount != 0 {
		t.Fatalf("final bill = %s remaining %d", bill.OverallStatus, bill.RemainingAmount)
	}
	if len(bill.UnpaidItems()) != 0 {
		t.Fatalf("unpaid items = %v", bill.UnpaidItems())
	}

	// A webhook retry of the gateway transaction changes nothing.
	replay, err := agg.ApplyGatewayPayment(ctx, gw)
	if err != nil {
		t.Fatalf("gateway replay: %v", err)
	}
	if replay.PaidAmount != bill.PaidAmount {
		t.Fatalf("replay changed paid amount: %d != %d", replay.PaidAmount, bill.PaidAmount)
	}
	txs, err := agg.ListPayments(ctx, "APT-1", 1, 50)
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("ledger entries = %d, want 3", len(txs))
	}

	// Rooms are free again once the patient leaves.
	b, _ := rooms.Get(ctx, "R-B")
	if b.CurrentOccupancy != 0 {
		t.Fatalf("room B occupancy = %d, want 0", b.CurrentOccupancy)
	}
}
