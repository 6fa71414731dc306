package hospitalization_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caresuite/go-ebe/internal/domain/errs"
	"github.com/caresuite/go-ebe/internal/domain/hospitalization"
	"github.com/caresuite/go-ebe/internal/infrastructure/memory"
)

type chargeSinkStub struct {
	appointmentID string
	amount        int64
	calls         int
	err           error
}

func (c *chargeSinkStub) ApplyHospitalizationCharge(ctx context.Context, appointmentID string, amount int64) error {
	c.calls++
	c.appointmentID = appointmentID
	c.amount = amount
	return c.err
}

type stayFixture struct {
	svc    *hospitalization.Service
	stays  *memory.StayStore
	rooms  *memory.RoomInventory
	charge *chargeSinkStub
	events *memory.EventLog
	now    time.Time
}

func newStayFixture(rooms ...*hospitalization.Room) *stayFixture {
	f := &stayFixture{
		stays:  memory.NewStayStore(),
		rooms:  memory.NewRoomInventory(rooms...),
		charge: &chargeSinkStub{},
		events: memory.NewEventLog(),
		now:    time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = hospitalization.NewService(f.stays, f.rooms, f.charge, f.events, nil)
	f.svc.WithClock(func() time.Time { return f.now })
	return f
}

func (f *stayFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func roomA() *hospitalization.Room {
	return &hospitalization.Room{ID: "R-A", RoomNumber: "101", RoomType: "vip", HourlyRate: 100000, Capacity: 2}
}

func roomB() *hospitalization.Room {
	return &hospitalization.Room{ID: "R-B", RoomNumber: "201", RoomType: "standard", HourlyRate: 50000, Capacity: 2}
}

func TestAssignAndDischarge(t *testing.T) {
	f := newStayFixture(roomA())
	ctx := context.Background()

	rec, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{
		AppointmentID: "APT-1", PatientID: "PAT-1", RoomID: "R-A", Reason: "observation",
	})
	if err != nil {
		t.Fatalf("AssignRoom: %v", err)
	}
	if rec.Status != hospitalization.StatusActive || rec.CurrentRoomID != "R-A" {
		t.Fatalf("record = %+v", rec)
	}
	room, _ := f.rooms.Get(ctx, "R-A")
	if room.CurrentOccupancy != 1 {
		t.Fatalf("occupancy = %d, want 1", room.CurrentOccupancy)
	}

	// 61 minutes bills as 2 ceiling hours.
	f.advance(61 * time.Minute)
	rec, err = f.svc.Discharge(ctx, rec.ID, "recovered")
	if err != nil {
		t.Fatalf("Discharge: %v", err)
	}
	if rec.TotalHours != 2 || rec.TotalAmount != 200000 {
		t.Fatalf("totals = %dh/%d, want 2h/200000", rec.TotalHours, rec.TotalAmount)
	}
	if rec.Status != hospitalization.StatusDischarged || rec.CurrentRoomID != "" {
		t.Fatalf("record after discharge = %+v", rec)
	}
	if rec.DischargeDate == nil || rec.DischargeReason != "recovered" {
		t.Fatalf("discharge fields = %v %q", rec.DischargeDate, rec.DischargeReason)
	}

	if f.charge.calls != 1 || f.charge.appointmentID != "APT-1" || f.charge.amount != 200000 {
		t.Fatalf("charge sink = %+v", f.charge)
	}
	room, _ = f.rooms.Get(ctx, "R-A")
	if room.CurrentOccupancy != 0 {
		t.Fatalf("occupancy after discharge = %d, want 0", room.CurrentOccupancy)
	}
}

func TestTransferFreezesSegmentAtNewRate(t *testing.T) {
	f := newStayFixture(roomA(), roomB())
	ctx := context.Background()

	rec, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{
		AppointmentID: "APT-1", PatientID: "PAT-1", RoomID: "R-A",
	})
	if err != nil {
		t.Fatalf("AssignRoom: %v", err)
	}

	// 3h10m in room A at 100000/h bills as 4 hours.
	f.advance(3*time.Hour + 10*time.Minute)
	rec, err = f.svc.TransferRoom(ctx, rec.ID, "R-B", "step down")
	if err != nil {
		t.Fatalf("TransferRoom: %v", err)
	}
	if len(rec.RoomHistory) != 2 {
		t.Fatalf("segments = %d, want 2", len(rec.RoomHistory))
	}
	first := rec.RoomHistory[0]
	if !first.Finalized() || first.Hours != 4 || first.Amount != 400000 {
		t.Fatalf("first segment = %+v", first)
	}
	if rec.CurrentRoomID != "R-B" || rec.CurrentHourlyRate != 50000 {
		t.Fatalf("current room = %s at %d", rec.CurrentRoomID, rec.CurrentHourlyRate)
	}

	a, _ := f.rooms.Get(ctx, "R-A")
	b, _ := f.rooms.Get(ctx, "R-B")
	if a.CurrentOccupancy != 0 || b.CurrentOccupancy != 1 {
		t.Fatalf("occupancy = A:%d B:%d", a.CurrentOccupancy, b.CurrentOccupancy)
	}

	// 1h1m in room B at 50000/h bills as 2 hours; stay total is 6h/500000.
	f.advance(61 * time.Minute)
	rec, err = f.svc.Discharge(ctx, rec.ID, "recovered")
	if err != nil {
		t.Fatalf("Discharge: %v", err)
	}
	if rec.TotalHours != 6 || rec.TotalAmount != 500000 {
		t.Fatalf("totals = %dh/%d, want 6h/500000", rec.TotalHours, rec.TotalAmount)
	}
}

func TestTransferToSameRoomRejected(t *testing.T) {
	f := newStayFixture(roomA())
	ctx := context.Background()
	rec, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{AppointmentID: "APT-1", RoomID: "R-A"})
	if err != nil {
		t.Fatalf("AssignRoom: %v", err)
	}
	if _, err := f.svc.TransferRoom(ctx, rec.ID, "R-A", "noop"); !errs.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestDoubleDischargeConflicts(t *testing.T) {
	f := newStayFixture(roomA())
	ctx := context.Background()
	rec, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{AppointmentID: "APT-1", RoomID: "R-A"})
	if err != nil {
		t.Fatalf("AssignRoom: %v", err)
	}
	f.advance(time.Hour)
	if _, err := f.svc.Discharge(ctx, rec.ID, "recovered"); err != nil {
		t.Fatalf("first discharge: %v", err)
	}
	if _, err := f.svc.Discharge(ctx, rec.ID, "again"); !errs.IsConflict(err) {
		t.Fatalf("second discharge err = %v, want conflict", err)
	}
	// The frozen total was fed to billing exactly once.
	if f.charge.calls != 1 {
		t.Fatalf("charge calls = %d, want 1", f.charge.calls)
	}
}

func TestTransferAfterDischargeConflicts(t *testing.T) {
	f := newStayFixture(roomA(), roomB())
	ctx := context.Background()
	rec, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{AppointmentID: "APT-1", RoomID: "R-A"})
	if err != nil {
		t.Fatalf("AssignRoom: %v", err)
	}
	f.advance(time.Hour)
	if _, err := f.svc.Discharge(ctx, rec.ID, "recovered"); err != nil {
		t.Fatalf("Discharge: %v", err)
	}
	if _, err := f.svc.TransferRoom(ctx, rec.ID, "R-B", "late"); !errs.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestRoomAtCapacity(t *testing.T) {
	single := &hospitalization.Room{ID: "R-S", RoomNumber: "301", RoomType: "isolation", HourlyRate: 150000, Capacity: 1}
	f := newStayFixture(single)
	ctx := context.Background()

	if _, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{AppointmentID: "APT-1", RoomID: "R-S"}); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	_, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{AppointmentID: "APT-2", RoomID: "R-S"})
	if !errors.Is(err, hospitalization.ErrRoomUnavailable) {
		t.Fatalf("err = %v, want ErrRoomUnavailable", err)
	}
	if !errs.IsConflict(err) {
		t.Fatalf("capacity error must map to conflict, got %v", err)
	}
}

func TestSecondActiveStayConflicts(t *testing.T) {
	f := newStayFixture(roomA(), roomB())
	ctx := context.Background()
	if _, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{AppointmentID: "APT-1", RoomID: "R-A"}); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if _, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{AppointmentID: "APT-1", RoomID: "R-B"}); !errs.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestDischargeSurvivesChargeSinkFailure(t *testing.T) {
	f := newStayFixture(roomA())
	f.charge.err = errors.New("bill not open yet")
	ctx := context.Background()

	rec, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{AppointmentID: "APT-1", RoomID: "R-A"})
	if err != nil {
		t.Fatalf("AssignRoom: %v", err)
	}
	f.advance(time.Hour)
	rec, err = f.svc.Discharge(ctx, rec.ID, "recovered")
	if err != nil {
		t.Fatalf("Discharge must not fail on charge propagation: %v", err)
	}
	if rec.Status != hospitalization.StatusDischarged {
		t.Fatalf("status = %s", rec.Status)
	}
	// The frozen totals stay readable for the replay path.
	stored, err := f.svc.GetStay(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetStay: %v", err)
	}
	if stored.TotalAmount != 100000 {
		t.Fatalf("stored total = %d", stored.TotalAmount)
	}
}

func TestLiveCost(t *testing.T) {
	f := newStayFixture(roomA())
	ctx := context.Background()
	rec, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{AppointmentID: "APT-1", RoomID: "R-A"})
	if err != nil {
		t.Fatalf("AssignRoom: %v", err)
	}

	f.advance(90 * time.Minute)
	p, err := f.svc.LiveCost(ctx, rec.ID)
	if err != nil {
		t.Fatalf("LiveCost: %v", err)
	}
	if p.CurrentSegmentHours != 2 || p.CurrentSegmentCost != 200000 {
		t.Fatalf("projection = %dh/%d, want 2h/200000", p.CurrentSegmentHours, p.CurrentSegmentCost)
	}

	// Projections never mutate the stay.
	stored, _ := f.svc.GetStay(ctx, rec.ID)
	if stored.TotalAmount != 0 || stored.TotalHours != 0 {
		t.Fatalf("stay mutated by projection: %+v", stored)
	}
}

func TestDischargeEventsEmitted(t *testing.T) {
	f := newStayFixture(roomA(), roomB())
	ctx := context.Background()
	rec, err := f.svc.AssignRoom(ctx, hospitalization.AssignInput{AppointmentID: "APT-1", RoomID: "R-A"})
	if err != nil {
		t.Fatalf("AssignRoom: %v", err)
	}
	f.advance(time.Hour)
	if _, err := f.svc.TransferRoom(ctx, rec.ID, "R-B", "step down"); err != nil {
		t.Fatalf("TransferRoom: %v", err)
	}
	f.advance(time.Hour)
	if _, err := f.svc.Discharge(ctx, rec.ID, "recovered"); err != nil {
		t.Fatalf("Discharge: %v", err)
	}

	var types []string
	for _, ev := range f.events.Events() {
		types = append(types, ev.EventType)
	}
	want := []string{
		hospitalization.EventRoomAssigned,
		hospitalization.EventRoomTransferred,
		hospitalization.EventPatientDischarged,
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}
