// Package billing implements the encounter bill aggregate: three bill-parts with
// independent payment lifecycles, an append-only payment ledger, and one derived
// overall status per encounter.
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BillType identifies one of the three billing categories of an encounter.
type BillType string

const (
	BillTypeConsultation    BillType = "consultation"
	BillTypeMedication      BillType = "medication"
	BillTypeHospitalization BillType = "hospitalization"
)

// ValidBillType reports whether t is one of the three known categories.
func ValidBillType(t BillType) bool {
	switch t {
	case BillTypeConsultation, BillTypeMedication, BillTypeHospitalization:
		return true
	}
	return false
}

// PartStatus is the lifecycle status of a single bill-part or prescription entry.
type PartStatus string

const (
	PartPending   PartStatus = "pending"
	PartPaid      PartStatus = "paid"
	PartCancelled PartStatus = "cancelled"
)

// OverallStatus is the coarse aggregate derived from the three bill-parts.
type OverallStatus string

const (
	OverallUnpaid  OverallStatus = "unpaid"
	OverallPartial OverallStatus = "partial"
	OverallPaid    OverallStatus = "paid"
)

// BillPart is one billing category within a BillRecord. Amounts are minor
// currency units.
type BillPart struct {
	Amount         int64      `json:"amount"`
	OriginalAmount int64      `json:"original_amount,omitempty"`
	Discount       int64      `json:"discount,omitempty"`
	CouponID       string     `json:"coupon_id,omitempty"`
	Status         PartStatus `json:"status"`
	PaymentMethod  string     `json:"payment_method,omitempty"`
	PaymentDate    *time.Time `json:"payment_date,omitempty"`
}

// PrescriptionPayment tracks the payment state of one prescription inside the
// medication bill-part.
type PrescriptionPayment struct {
	PrescriptionID string     `json:"prescription_id"`
	Amount         int64      `json:"amount"`
	Status         PartStatus `json:"status"`
	PaymentMethod  string     `json:"payment_method,omitempty"`
	PaymentDate    *time.Time `json:"payment_date,omitempty"`
}

// MedicationBill is the medication bill-part plus its per-prescription breakdown.
// PrescriptionIDs is a snapshot of the prescriptions included at the last refresh.
type MedicationBill struct {
	BillPart
	PrescriptionIDs      []string              `json:"prescription_ids"`
	PrescriptionPayments []PrescriptionPayment `json:"prescription_payments"`
}

// BillRecord is the bill aggregate for one encounter. Created when the encounter
// first acquires a chargeable item and mutated in place for the life of the
// encounter; never deleted.
type BillRecord struct {
	AppointmentID   string         `json:"appointment_id"`
	BillNumber      string         `json:"bill_number"`
	Consultation    BillPart       `json:"consultation"`
	Medication      MedicationBill `json:"medication"`
	Hospitalization BillPart       `json:"hospitalization"`
	TotalAmount     int64          `json:"total_amount"`
	PaidAmount      int64          `json:"paid_amount"`
	RemainingAmount int64          `json:"remaining_amount"`
	OverallStatus   OverallStatus  `json:"overall_status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewBillRecord opens a bill with the consultation fee as its first chargeable item.
func NewBillRecord(appointmentID string, consultationFee int64, now time.Time) *BillRecord {
	b := &BillRecord{
		AppointmentID: appointmentID,
		BillNumber:    newBillNumber(now),
		Consultation: BillPart{
			Amount: consultationFee,
			Status: PartPending,
		},
		Medication: MedicationBill{
			BillPart: BillPart{Status: PartPending},
		},
		Hospitalization: BillPart{Status: PartPending},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	b.Recompute()
	return b
}

func newBillNumber(now time.Time) string {
	short := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("BILL-%s-%s", now.Format("20060102"), strings.ToUpper(short))
}

// Part returns the addressed bill-part. The medication part is only addressable
// through its prescriptions.
func (b *BillRecord) Part(t BillType) *BillPart {
	switch t {
	case BillTypeConsultation:
		return &b.Consultation
	case BillTypeHospitalization:
		return &b.Hospitalization
	}
	return nil
}

// Prescription returns the payment entry for prescriptionID, or nil.
func (b *BillRecord) Prescription(prescriptionID string) *PrescriptionPayment {
	for i := range b.Medication.PrescriptionPayments {
		if b.Medication.PrescriptionPayments[i].PrescriptionID == prescriptionID {
			return &b.Medication.PrescriptionPayments[i]
		}
	}
	return nil
}

// Recompute is the single canonical derivation of all aggregate fields:
// medication status, total, paid, remaining and overall status. Every mutation
// of a bill-part must be followed by a Recompute before the record is stored.
func (b *BillRecord) Recompute() {
	var medAmount, medPaid int64
	allPrescriptionsPaid := len(b.Medication.PrescriptionPayments) > 0
	for _, p := range b.Medication.PrescriptionPayments {
		medAmount += p.Amount
		if p.Status == PartPaid {
			medPaid += p.Amount
		} else {
			allPrescriptionsPaid = false
		}
	}
	b.Medication.Amount = medAmount
	if allPrescriptionsPaid {
		b.Medication.Status = PartPaid
	} else if b.Medication.Status != PartCancelled {
		b.Medication.Status = PartPending
	}

	b.TotalAmount = b.Consultation.Amount + b.Medication.Amount + b.Hospitalization.Amount

	var paid int64
	if b.Consultation.Status == PartPaid {
		paid += b.Consultation.Amount
	}
	if b.Hospitalization.Status == PartPaid {
		paid += b.Hospitalization.Amount
	}
	paid += medPaid

	b.PaidAmount = paid
	b.RemainingAmount = b.TotalAmount - b.PaidAmount

	switch {
	case b.RemainingAmount == 0 && b.TotalAmount > 0:
		b.OverallStatus = OverallPaid
	case b.PaidAmount > 0 && b.PaidAmount < b.TotalAmount:
		b.OverallStatus = OverallPartial
	default:
		b.OverallStatus = OverallUnpaid
	}
}

// UnpaidItem names a bill-part or prescription that still blocks full payment.
type UnpaidItem struct {
	BillType       BillType `json:"bill_type"`
	PrescriptionID string   `json:"prescription_id,omitempty"`
	Amount         int64    `json:"amount"`
}

// UnpaidItems enumerates the parts and prescriptions whose effective status is
// not paid, so callers can explain why an encounter cannot be completed.
func (b *BillRecord) UnpaidItems() []UnpaidItem {
	var items []UnpaidItem
	if b.Consultation.Amount > 0 && b.Consultation.Status == PartPending {
		items = append(items, UnpaidItem{BillType: BillTypeConsultation, Amount: b.Consultation.Amount})
	}
	for _, p := range b.Medication.PrescriptionPayments {
		if p.Status == PartPending {
			items = append(items, UnpaidItem{
				BillType:       BillTypeMedication,
				PrescriptionID: p.PrescriptionID,
				Amount:         p.Amount,
			})
		}
	}
	if b.Hospitalization.Amount > 0 && b.Hospitalization.Status == PartPending {
		items = append(items, UnpaidItem{BillType: BillTypeHospitalization, Amount: b.Hospitalization.Amount})
	}
	return items
}
