package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/internal/domain/hospitalization"
)

// RoomInventory is an in-memory hospitalization.RoomInventory with atomic
// occupancy adjustment.
type RoomInventory struct {
	mu    sync.Mutex
	rooms map[string]*hospitalization.Room
}

// NewRoomInventory creates an inventory seeded with the given rooms.
func NewRoomInventory(rooms ...*hospitalization.Room) *RoomInventory {
	inv := &RoomInventory{rooms: make(map[string]*hospitalization.Room)}
	for _, r := range rooms {
		cp := *r
		inv.rooms[r.ID] = &cp
	}
	return inv
}

func (inv *RoomInventory) Get(ctx context.Context, roomID string) (*hospitalization.Room, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	room, ok := inv.rooms[roomID]
	if !ok {
		return nil, errs.NotFound("no room %s", roomID)
	}
	cp := *room
	return &cp, nil
}

// Occupy increments occupancy iff currentOccupancy < capacity, atomically
// under the inventory mutex.
func (inv *RoomInventory) Occupy(ctx context.Context, roomID string) (*hospitalization.Room, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	room, ok := inv.rooms[roomID]
	if !ok {
		return nil, errs.NotFound("no room %s", roomID)
	}
	if room.CurrentOccupancy >= room.Capacity {
		return nil, fmt.Errorf("room %s: %w", roomID, hospitalization.ErrRoomUnavailable)
	}
	room.CurrentOccupancy++
	cp := *room
	return &cp, nil
}

func (inv *RoomInventory) Release(ctx context.Context, roomID string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	room, ok := inv.rooms[roomID]
	if !ok {
		return errs.NotFound("no room %s", roomID)
	}
	if room.CurrentOccupancy > 0 {
		room.CurrentOccupancy--
	}
	return nil
}

// EventLog is an in-memory event sink that records emitted domain events.
type EventLog struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// RecordedEvent is one captured domain event.
type RecordedEvent struct {
	EventType string
	Key       string
	Payload   interface{}
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) Record(ctx context.Context, eventType, key string, payload interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, RecordedEvent{EventType: eventType, Key: key, Payload: payload})
	return nil
}

// Events returns a snapshot of the captured events.
func (l *EventLog) Events() []RecordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RecordedEvent(nil), l.events...)
}
