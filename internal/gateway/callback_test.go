package gateway

import (
	"testing"

	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
)

func TestParseCallbackCanonicalFields(t *testing.T) {
	body := []byte(`{
		"transaction_id": "TX-1",
		"appointment_id": "APT-1",
		"bill_type": "consultation",
		"amount": 200000,
		"provider": "midtrans",
		"status": "settlement"
	}`)
	p, final, err := ParseCallback(body)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if !final {
		t.Fatal("settlement must be final")
	}
	if p.TransactionID != "TX-1" || p.AppointmentID != "APT-1" || p.Amount != 200000 {
		t.Fatalf("payment = %+v", p)
	}
	if p.BillType != billing.BillTypeConsultation || p.Provider != "midtrans" {
		t.Fatalf("payment = %+v", p)
	}
}

func TestParseCallbackAlternateSpellings(t *testing.T) {
	// Midtrans-style payload: order_id, gross_amount as a decimal major-unit
	// string, transaction_status.
	body := []byte(`{
		"txn_id": "TX-2",
		"order_id": "APT-2",
		"payment_kind": "hospitalization",
		"gross_amount": "2000.50",
		"channel": "gopay",
		"transaction_status": "capture"
	}`)
	p, final, err := ParseCallback(body)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if !final {
		t.Fatal("capture must be final")
	}
	if p.TransactionID != "TX-2" || p.AppointmentID != "APT-2" {
		t.Fatalf("payment = %+v", p)
	}
	if p.Amount != 200050 {
		t.Fatalf("amount = %d, want 200050 minor units", p.Amount)
	}
	if p.Provider != "gopay" || p.BillType != billing.BillTypeHospitalization {
		t.Fatalf("payment = %+v", p)
	}
}

func TestParseCallbackPendingIsNotFinal(t *testing.T) {
	body := []byte(`{
		"transaction_id": "TX-3",
		"appointment_id": "APT-1",
		"bill_type": "consultation",
		"amount": 200000,
		"status": "pending"
	}`)
	p, final, err := ParseCallback(body)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if final {
		t.Fatal("pending must not be final")
	}
	if p.TransactionID != "TX-3" {
		t.Fatalf("payment = %+v", p)
	}
}

func TestParseCallbackStatusCaseInsensitive(t *testing.T) {
	body := []byte(`{
		"transaction_id": "TX-4",
		"appointment_id": "APT-1",
		"bill_type": "consultation",
		"amount": 1,
		"status": "SETTLEMENT"
	}`)
	_, final, err := ParseCallback(body)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if !final {
		t.Fatal("status matching must ignore case")
	}
}

func TestParseCallbackMedicationRequiresPrescription(t *testing.T) {
	body := []byte(`{
		"transaction_id": "TX-5",
		"appointment_id": "APT-1",
		"bill_type": "medication",
		"amount": 50000,
		"status": "settlement"
	}`)
	_, _, err := ParseCallback(body)
	if !errs.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestParseCallbackRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"transaction_id":`},
		{"missing transaction id", `{"appointment_id":"APT-1","bill_type":"consultation","amount":1,"status":"paid"}`},
		{"missing appointment id", `{"transaction_id":"TX","bill_type":"consultation","amount":1,"status":"paid"}`},
		{"unknown bill type", `{"transaction_id":"TX","appointment_id":"APT-1","bill_type":"parking","amount":1,"status":"paid"}`},
		{"missing amount", `{"transaction_id":"TX","appointment_id":"APT-1","bill_type":"consultation","status":"paid"}`},
		{"non-numeric amount", `{"transaction_id":"TX","appointment_id":"APT-1","bill_type":"consultation","amount":"abc","status":"paid"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, _, err := ParseCallback([]byte(c.body)); !errs.IsValidation(err) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
}
