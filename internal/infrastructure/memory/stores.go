// Package memory provides in-memory store implementations used by unit tests
// and local development. Invariants mirror the Postgres implementations: the
// ledger enforces its uniqueness rules under the store mutex, room occupancy
// changes are compare-and-set.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/caresuite/go-ebe/internal/domain/billing"
	"github.com/caresuite/go-ebe/internal/domain/errs"
)

// BillStore is an in-memory billing.BillStore.
type BillStore struct {
	mu    sync.RWMutex
	bills map[string]*billing.BillRecord
}

// NewBillStore creates an empty bill store.
func NewBillStore() *BillStore {
	return &BillStore{bills: make(map[string]*billing.BillRecord)}
}

func (s *BillStore) Get(ctx context.Context, appointmentID string) (*billing.BillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bills[appointmentID]
	if !ok {
		return nil, errs.NotFound("no bill for appointment %s", appointmentID)
	}
	cp := cloneBill(b)
	return cp, nil
}

func (s *BillStore) Create(ctx context.Context, bill *billing.BillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[bill.AppointmentID]; ok {
		return errs.Conflict("bill already exists for appointment %s", bill.AppointmentID)
	}
	s.bills[bill.AppointmentID] = cloneBill(bill)
	return nil
}

func (s *BillStore) Update(ctx context.Context, bill *billing.BillRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[bill.AppointmentID]; !ok {
		return errs.NotFound("no bill for appointment %s", bill.AppointmentID)
	}
	s.bills[bill.AppointmentID] = cloneBill(bill)
	return nil
}

func (s *BillStore) FindByPrescription(ctx context.Context, prescriptionID string) (*billing.BillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bills {
		for _, id := range b.Medication.PrescriptionIDs {
			if id == prescriptionID {
				return cloneBill(b), nil
			}
		}
	}
	return nil, errs.NotFound("no bill holds prescription %s", prescriptionID)
}

func cloneBill(b *billing.BillRecord) *billing.BillRecord {
	cp := *b
	cp.Medication.PrescriptionIDs = append([]string(nil), b.Medication.PrescriptionIDs...)
	cp.Medication.PrescriptionPayments = append([]billing.PrescriptionPayment(nil), b.Medication.PrescriptionPayments...)
	return &cp
}

// LedgerStore is an in-memory billing.LedgerStore. Append-only.
type LedgerStore struct {
	mu  sync.RWMutex
	txs []*billing.PaymentTransaction
}

// NewLedgerStore creates an empty ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

func (s *LedgerStore) Append(ctx context.Context, tx *billing.PaymentTransaction) (*billing.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.PaymentStatus == billing.PaymentCompleted {
		for _, existing := range s.txs {
			if existing.PaymentStatus != billing.PaymentCompleted {
				continue
			}
			if tx.PrescriptionID != "" {
				if existing.PrescriptionID == tx.PrescriptionID {
					return nil, errs.Conflict("completed payment already exists for prescription %s", tx.PrescriptionID)
				}
				continue
			}
			if existing.PrescriptionID == "" &&
				existing.AppointmentID == tx.AppointmentID &&
				existing.BillType == tx.BillType {
				return nil, errs.Conflict("completed payment already exists for appointment %s bill type %s", tx.AppointmentID, tx.BillType)
			}
		}
	}

	cp := *tx
	s.txs = append(s.txs, &cp)
	out := cp
	return &out, nil
}

func (s *LedgerStore) ListByAppointment(ctx context.Context, appointmentID string, page, pageSize int) ([]*billing.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(tx *billing.PaymentTransaction) bool {
		return tx.AppointmentID == appointmentID
	}, page, pageSize), nil
}

func (s *LedgerStore) ListByPrescription(ctx context.Context, prescriptionID string, page, pageSize int) ([]*billing.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(tx *billing.PaymentTransaction) bool {
		return tx.PrescriptionID == prescriptionID
	}, page, pageSize), nil
}

func (s *LedgerStore) FindByGatewayTx(ctx context.Context, transactionID string) (*billing.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.txs {
		if tx.TransactionID == transactionID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, errs.NotFound("no transaction %s", transactionID)
}

func (s *LedgerStore) filter(keep func(*billing.PaymentTransaction) bool, page, pageSize int) []*billing.PaymentTransaction {
	var matched []*billing.PaymentTransaction
	for _, tx := range s.txs {
		if keep(tx) {
			cp := *tx
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end]
}
