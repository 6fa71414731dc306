// Package gateway normalizes payment provider callbacks. Providers disagree on
// field names and types, so the webhook and the broker consumer both funnel raw
// payloads through ParseCallback before anything touches the ledger.
package gateway

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
)

// rawCallback collects every field spelling seen across providers. Exactly one
// spelling per concept is expected; the first non-empty wins in source order.
type rawCallback struct {
	TransactionID string `json:"transaction_id"`
	TxnID         string `json:"txn_id"`
	ReferenceID   string `json:"reference_id"`

	AppointmentID string `json:"appointment_id"`
	OrderID       string `json:"order_id"`

	BillType    string `json:"bill_type"`
	PaymentKind string `json:"payment_kind"`

	PrescriptionID string `json:"prescription_id"`

	Amount      json.Number `json:"amount"`
	GrossAmount json.Number `json:"gross_amount"`

	Provider string `json:"provider"`
	Channel  string `json:"channel"`

	Status            string `json:"status"`
	TransactionStatus string `json:"transaction_status"`
}

// Completed statuses across the supported providers. Anything else is treated
// as a non-final notification and skipped.
var completedStatuses = map[string]bool{
	"settlement": true,
	"capture":    true,
	"completed":  true,
	"success":    true,
	"paid":       true,
}

// ParseCallback decodes a provider callback body into the canonical payment
// shape. It returns (payment, false, nil) for non-final statuses such as
// "pending", which callers acknowledge without applying.
func ParseCallback(body []byte) (billing.GatewayPayment, bool, error) {
	var raw rawCallback
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return billing.GatewayPayment{}, false, errs.Validation("malformed callback payload: %v", err)
	}

	p := billing.GatewayPayment{
		TransactionID:  firstOf(raw.TransactionID, raw.TxnID, raw.ReferenceID),
		AppointmentID:  firstOf(raw.AppointmentID, raw.OrderID),
		BillType:       billing.BillType(firstOf(raw.BillType, raw.PaymentKind)),
		PrescriptionID: raw.PrescriptionID,
		Provider:       firstOf(raw.Provider, raw.Channel),
	}

	amount, err := parseAmount(firstNumber(raw.Amount, raw.GrossAmount))
	if err != nil {
		return billing.GatewayPayment{}, false, err
	}
	p.Amount = amount

	if p.TransactionID == "" {
		return billing.GatewayPayment{}, false, errs.Validation("callback carries no transaction id")
	}
	if p.AppointmentID == "" {
		return billing.GatewayPayment{}, false, errs.Validation("callback carries no appointment id")
	}
	if !billing.ValidBillType(p.BillType) {
		return billing.GatewayPayment{}, false, errs.Validation("callback carries unknown bill type %q", p.BillType)
	}
	if p.BillType == billing.BillTypeMedication && p.PrescriptionID == "" {
		return billing.GatewayPayment{}, false, errs.Validation("medication callback carries no prescription id")
	}

	status := strings.ToLower(firstOf(raw.Status, raw.TransactionStatus))
	return p, completedStatuses[status], nil
}

// parseAmount accepts integer minor units or a decimal major-unit string and
// returns minor units. "2000.50" becomes 200050.
func parseAmount(n json.Number) (int64, error) {
	s := n.String()
	if s == "" {
		return 0, errs.Validation("callback carries no amount")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errs.Validation("callback amount %q is not numeric", s)
	}
	minor := math.Round(f * 100)
	if minor < 0 || minor > math.MaxInt64 {
		return 0, errs.Validation("callback amount %q out of range", s)
	}
	return int64(minor), nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNumber(values ...json.Number) json.Number {
	for _, v := range values {
		if v.String() != "" {
			return v
		}
	}
	return ""
}
