package memory

import (
	"context"
	"testing"
	"time"

	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
)

func TestLedgerRejectsSecondCompletedPartPayment(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()

	tx := &billing.PaymentTransaction{
		AppointmentID: "APT-1",
		BillType:      billing.BillTypeConsultation,
		Amount:        200000,
		PaymentStatus: billing.PaymentCompleted,
	}
	if _, err := s.Append(ctx, tx); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if _, err := s.Append(ctx, tx); !errs.IsConflict(err) {
		t.Fatalf("second append err = %v, want conflict", err)
	}

	// A different bill type on the same appointment is fine.
	other := &billing.PaymentTransaction{
		AppointmentID: "APT-1",
		BillType:      billing.BillTypeHospitalization,
		Amount:        400000,
		PaymentStatus: billing.PaymentCompleted,
	}
	if _, err := s.Append(ctx, other); err != nil {
		t.Fatalf("other bill type: %v", err)
	}
}

func TestLedgerRejectsSecondCompletedPrescriptionPayment(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()

	tx := &billing.PaymentTransaction{
		AppointmentID:  "APT-1",
		BillType:       billing.BillTypeMedication,
		PrescriptionID: "P1",
		Amount:         50000,
		PaymentStatus:  billing.PaymentCompleted,
	}
	if _, err := s.Append(ctx, tx); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if _, err := s.Append(ctx, tx); !errs.IsConflict(err) {
		t.Fatalf("duplicate prescription err = %v, want conflict", err)
	}

	sibling := &billing.PaymentTransaction{
		AppointmentID:  "APT-1",
		BillType:       billing.BillTypeMedication,
		PrescriptionID: "P2",
		Amount:         30000,
		PaymentStatus:  billing.PaymentCompleted,
	}
	if _, err := s.Append(ctx, sibling); err != nil {
		t.Fatalf("sibling prescription: %v", err)
	}
}

func TestLedgerAllowsFailedDuplicates(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()

	failed := &billing.PaymentTransaction{
		AppointmentID: "APT-1",
		BillType:      billing.BillTypeConsultation,
		Amount:        200000,
		PaymentStatus: billing.PaymentFailed,
	}
	if _, err := s.Append(ctx, failed); err != nil {
		t.Fatalf("failed tx: %v", err)
	}
	// Failures never consume the uniqueness slot; the retry can still complete.
	completed := &billing.PaymentTransaction{
		AppointmentID: "APT-1",
		BillType:      billing.BillTypeConsultation,
		Amount:        200000,
		PaymentStatus: billing.PaymentCompleted,
	}
	if _, err := s.Append(ctx, completed); err != nil {
		t.Fatalf("completed after failed: %v", err)
	}
}

func TestLedgerPaginationOrdersByCreatedAt(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, rx := range []string{"P3", "P1", "P2"} {
		tx := &billing.PaymentTransaction{
			AppointmentID:  "APT-1",
			BillType:       billing.BillTypeMedication,
			PrescriptionID: rx,
			Amount:         1000,
			PaymentStatus:  billing.PaymentCompleted,
			CreatedAt:      base.Add(time.Duration(3-i) * time.Minute),
		}
		if _, err := s.Append(ctx, tx); err != nil {
			t.Fatalf("append %s: %v", rx, err)
		}
	}

	page1, err := s.ListByAppointment(ctx, "APT-1", 1, 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	page2, err := s.ListByAppointment(ctx, "APT-1", 2, 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page1) != 2 || len(page2) != 1 {
		t.Fatalf("pages = %d/%d", len(page1), len(page2))
	}
	// P2 has the earliest CreatedAt, P3 the latest.
	if page1[0].PrescriptionID != "P2" || page2[0].PrescriptionID != "P3" {
		t.Fatalf("order = %s..%s", page1[0].PrescriptionID, page2[0].PrescriptionID)
	}

	if got, _ := s.ListByAppointment(ctx, "APT-1", 3, 2); got != nil {
		t.Fatalf("past-the-end page = %v, want empty", got)
	}
}

func TestBillStoreCloneIsolation(t *testing.T) {
	s := NewBillStore()
	ctx := context.Background()

	bill := billing.NewBillRecord("APT-1", 200000, time.Now())
	bill.Medication.PrescriptionIDs = []string{"P1"}
	bill.Medication.PrescriptionPayments = []billing.PrescriptionPayment{
		{PrescriptionID: "P1", Amount: 50000, Status: billing.PartPending},
	}
	if err := s.Create(ctx, bill); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	bill.Medication.PrescriptionPayments[0].Status = billing.PartPaid
	stored, err := s.Get(ctx, "APT-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Medication.PrescriptionPayments[0].Status != billing.PartPending {
		t.Fatal("store shares slice memory with callers")
	}
}

func TestBillStoreFindByPrescription(t *testing.T) {
	s := NewBillStore()
	ctx := context.Background()

	bill := billing.NewBillRecord("APT-1", 100, time.Now())
	bill.Medication.PrescriptionIDs = []string{"P1", "P2"}
	if err := s.Create(ctx, bill); err != nil {
		t.Fatalf("Create: %v", err)
	}

	found, err := s.FindByPrescription(ctx, "P2")
	if err != nil {
		t.Fatalf("FindByPrescription: %v", err)
	}
	if found.AppointmentID != "APT-1" {
		t.Fatalf("found = %s", found.AppointmentID)
	}
	if _, err := s.FindByPrescription(ctx, "P9"); !errs.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}
