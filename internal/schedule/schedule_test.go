package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeBackend struct {
	busy     []Interval
	busyErr  error
	inserted []Appointment
	failNext error
}

func (f *fakeBackend) Busy(ctx context.Context, from, to time.Time) ([]Interval, error) {
	return f.busy, f.busyErr
}

func (f *fakeBackend) Insert(ctx context.Context, appt Appointment) (string, error) {
	if f.failNext != nil {
		return "", f.failNext
	}
	f.inserted = append(f.inserted, appt)
	return "https://calendar.example/event/1", nil
}

func newTestScheduler(backend Backend, now time.Time) *Scheduler {
	s := NewScheduler(backend, Config{
		Location:      time.UTC,
		SlotDuration:  30 * time.Minute,
		StartHour:     9,
		EndHour:       17,
		LookaheadDays: 2,
		MaxSlots:      4,
	})
	s.now = func() time.Time { return now }
	return s
}

func at(day, hour, min int) time.Time {
	return time.Date(2025, time.May, day, hour, min, 0, 0, time.UTC)
}

func TestParseProposedTime(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	got, err := ParseProposedTime("2024-05-15T14:30:00", ist)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if got.Location() != ist || got.Hour() != 14 || got.Minute() != 30 {
		t.Errorf("Expected 14:30 IST, got %v", got)
	}

	got, err = ParseProposedTime("2024-05-15T14:30:00Z", ist)
	if err != nil || !got.Equal(time.Date(2024, 5, 15, 14, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected explicit zone to be kept, got %v (%v)", got, err)
	}

	if _, err := ParseProposedTime("tomorrow at noon", ist); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("Expected ErrInvalidTime, got %v", err)
	}
}

func TestIsAvailable(t *testing.T) {
	backend := &fakeBackend{busy: []Interval{{Start: at(15, 10, 0), End: at(15, 11, 0)}}}
	s := newTestScheduler(backend, at(15, 8, 0))
	ctx := context.Background()

	if ok, _ := s.IsAvailable(ctx, at(15, 10, 30)); ok {
		t.Errorf("Expected 10:30 to be busy")
	}
	if ok, _ := s.IsAvailable(ctx, at(15, 9, 45)); ok {
		t.Errorf("Expected 09:45 to overlap the 10:00 meeting")
	}
	if ok, _ := s.IsAvailable(ctx, at(15, 11, 0)); !ok {
		t.Errorf("Expected 11:00 to be free")
	}
	if ok, _ := s.IsAvailable(ctx, at(15, 7, 0)); ok {
		t.Errorf("Expected past time to be unavailable")
	}

	backend.busyErr = errors.New("rate limited")
	if _, err := s.IsAvailable(ctx, at(15, 12, 0)); err == nil {
		t.Errorf("Expected backend error")
	}
}

func TestFreeSlots(t *testing.T) {
	busy := []Interval{
		{Start: at(15, 16, 0), End: at(15, 16, 30)},
		{Start: at(15, 15, 0), End: at(15, 15, 30)},
	}

	slots := FreeSlots(busy, at(15, 14, 40), at(17, 0, 0), Config{
		Location:     time.UTC,
		SlotDuration: 30 * time.Minute,
		StartHour:    9,
		EndHour:      17,
		MaxSlots:     4,
	})

	want := []time.Time{at(15, 15, 30), at(15, 16, 30), at(16, 9, 0), at(16, 9, 30)}
	if len(slots) != len(want) {
		t.Fatalf("Expected %d slots, got %v", len(want), slots)
	}
	for i := range want {
		if !slots[i].Equal(want[i]) {
			t.Errorf("Slot %d: expected %v, got %v", i, want[i], slots[i])
		}
	}
}

func TestAvailableSlotsUsesLookahead(t *testing.T) {
	s := newTestScheduler(&fakeBackend{}, at(15, 16, 45))

	slots, err := s.AvailableSlots(context.Background())
	if err != nil {
		t.Fatalf("AvailableSlots failed: %v", err)
	}
	if len(slots) != 4 || !slots[0].Equal(at(16, 9, 0)) {
		t.Errorf("Expected four slots starting next morning, got %v", slots)
	}
}

func TestBook(t *testing.T) {
	backend := &fakeBackend{}
	s := newTestScheduler(backend, at(15, 8, 0))

	booking, err := s.Book(context.Background(), at(15, 11, 0), "a@b.com")
	if err != nil || !booking.Booked || booking.Link == "" {
		t.Fatalf("Expected booked appointment, got %+v (%v)", booking, err)
	}
	if len(backend.inserted) != 1 || !backend.inserted[0].End.Equal(at(15, 11, 30)) {
		t.Errorf("Expected one 30 minute event, got %+v", backend.inserted)
	}
	if booking.ProposedTime != "2025-05-15T11:00:00" {
		t.Errorf("Expected ISO proposed time, got %s", booking.ProposedTime)
	}

	backend.failNext = errors.New("forbidden")
	booking, err = s.Book(context.Background(), at(15, 12, 0), "a@b.com")
	if err == nil || booking.Booked || booking.Error != "forbidden" {
		t.Errorf("Expected failed booking, got %+v (%v)", booking, err)
	}

	if _, err := s.Book(context.Background(), at(14, 12, 0), "a@b.com"); !errors.Is(err, ErrPastTime) {
		t.Errorf("Expected ErrPastTime, got %v", err)
	}
}
