package billing

import (
	"context"
	"sort"

	"github.com/caresuite/go-ebe/internal/domain/errs"
)

// PrescriptionStatusDispensed is the external lifecycle status the source
// system treats as implying payment.
const PrescriptionStatusDispensed = "dispensed"

// Prescription is the read-only projection of an externally-owned prescription.
// The engine never authors prescriptions.
type Prescription struct {
	ID                string `json:"id"`
	AppointmentID     string `json:"appointment_id"`
	TotalAmount       int64  `json:"total_amount"`
	Status            string `json:"status"`
	IsHospitalization bool   `json:"is_hospitalization"`
	PrescriptionOrder int    `json:"prescription_order"`
}

// PrescriptionService is the external Prescription Service collaborator.
type PrescriptionService interface {
	ListByAppointment(ctx context.Context, appointmentID string) ([]*Prescription, error)
	Get(ctx context.Context, prescriptionID string) (*Prescription, error)
}

// PrescriptionLink reconciles the medication bill-part against externally-owned
// prescription records and the payment ledger.
type PrescriptionLink struct {
	prescriptions PrescriptionService
	ledger        *Ledger
}

// NewPrescriptionLink creates the link over its two collaborators.
func NewPrescriptionLink(prescriptions PrescriptionService, ledger *Ledger) *PrescriptionLink {
	return &PrescriptionLink{prescriptions: prescriptions, ledger: ledger}
}

// Refresh resynthesizes bill's medication part from the encounter's current
// prescriptions, preserving payment marks already held by the bill. A
// prescription counts as paid when the ledger holds a completed transaction for
// it, or when its external status is dispensed.
//
// NOTE: dispensed-implies-paid conflates fulfillment with payment; kept to
// match the source behavior, tracked as an open question in DESIGN.md.
func (p *PrescriptionLink) Refresh(ctx context.Context, bill *BillRecord) error {
	rxs, err := p.prescriptions.ListByAppointment(ctx, bill.AppointmentID)
	if err != nil {
		return errs.Unavailable(err, "prescription service: list for appointment %s", bill.AppointmentID)
	}

	sort.Slice(rxs, func(i, j int) bool { return rxs[i].PrescriptionOrder < rxs[j].PrescriptionOrder })

	prev := make(map[string]PrescriptionPayment, len(bill.Medication.PrescriptionPayments))
	for _, pp := range bill.Medication.PrescriptionPayments {
		prev[pp.PrescriptionID] = pp
	}

	ids := make([]string, 0, len(rxs))
	payments := make([]PrescriptionPayment, 0, len(rxs))
	for _, rx := range rxs {
		ids = append(ids, rx.ID)

		entry := PrescriptionPayment{
			PrescriptionID: rx.ID,
			Amount:         rx.TotalAmount,
			Status:         PartPending,
		}
		if old, ok := prev[rx.ID]; ok && old.Status == PartPaid {
			entry.Status = PartPaid
			entry.PaymentMethod = old.PaymentMethod
			entry.PaymentDate = old.PaymentDate
			entry.Amount = old.Amount
		} else if paid, perr := p.isPaid(ctx, rx); perr != nil {
			return perr
		} else if paid {
			entry.Status = PartPaid
		}
		payments = append(payments, entry)
	}

	bill.Medication.PrescriptionIDs = ids
	bill.Medication.PrescriptionPayments = payments
	bill.Recompute()
	return nil
}

func (p *PrescriptionLink) isPaid(ctx context.Context, rx *Prescription) (bool, error) {
	if rx.Status == PrescriptionStatusDispensed {
		return true, nil
	}
	return p.ledger.HasCompletedForPrescription(ctx, rx.ID)
}
