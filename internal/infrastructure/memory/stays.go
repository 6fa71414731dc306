package memory

import (
	"context"
	"sync"

	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/internal/domain/hospitalization"
)

// StayStore is an in-memory hospitalization.StayStore.
type StayStore struct {
	mu    sync.RWMutex
	byID  map[string]*hospitalization.Record
	byApp map[string]string // appointmentID -> stayID
}

// NewStayStore creates an empty stay store.
func NewStayStore() *StayStore {
	return &StayStore{
		byID:  make(map[string]*hospitalization.Record),
		byApp: make(map[string]string),
	}
}

func (s *StayStore) Create(ctx context.Context, rec *hospitalization.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.ID]; ok {
		return errs.Conflict("stay %s already exists", rec.ID)
	}
	s.byID[rec.ID] = cloneStay(rec)
	s.byApp[rec.AppointmentID] = rec.ID
	return nil
}

func (s *StayStore) Update(ctx context.Context, rec *hospitalization.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.ID]; !ok {
		return errs.NotFound("no stay %s", rec.ID)
	}
	s.byID[rec.ID] = cloneStay(rec)
	return nil
}

func (s *StayStore) Get(ctx context.Context, stayID string) (*hospitalization.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[stayID]
	if !ok {
		return nil, errs.NotFound("no stay %s", stayID)
	}
	return cloneStay(rec), nil
}

func (s *StayStore) GetByAppointment(ctx context.Context, appointmentID string) (*hospitalization.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byApp[appointmentID]
	if !ok {
		return nil, errs.NotFound("no stay for appointment %s", appointmentID)
	}
	return cloneStay(s.byID[id]), nil
}

func (s *StayStore) GetActiveByAppointment(ctx context.Context, appointmentID string) (*hospitalization.Record, error) {
	rec, err := s.GetByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if rec.Status != hospitalization.StatusActive {
		return nil, errs.NotFound("no active stay for appointment %s", appointmentID)
	}
	return rec, nil
}

func cloneStay(rec *hospitalization.Record) *hospitalization.Record {
	cp := *rec
	cp.RoomHistory = append([]hospitalization.Segment(nil), rec.RoomHistory...)
	return &cp
}
