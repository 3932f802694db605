package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInvalidTime is returned when a proposed time cannot be parsed
	ErrInvalidTime = errors.New("invalid proposed time")
	// ErrPastTime is returned for proposals that already started
	ErrPastTime = errors.New("proposed time is in the past")
)

// proposal layouts accepted from the engine; zone-less values use the
// calendar's location
var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Interval is a busy period on the calendar
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the interval intersects [start, end)
func (i Interval) Overlaps(start, end time.Time) bool {
	return i.Start.Before(end) && start.Before(i.End)
}

// Appointment is an event to create
type Appointment struct {
	Start   time.Time
	End     time.Time
	Email   string
	Summary string
}

// Booking is the outcome of a booking attempt
type Booking struct {
	ProposedTime string    `json:"proposed_time"`
	Start        time.Time `json:"start"`
	Email        string    `json:"email"`
	Booked       bool      `json:"booked"`
	Link         string    `json:"link,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Availability is the outcome of a slot check
type Availability struct {
	ProposedTime string   `json:"proposed_time"`
	Available    bool     `json:"is_available"`
	Booking      *Booking `json:"booking_result,omitempty"`
}

// Backend is the calendar provider
type Backend interface {
	Busy(ctx context.Context, from, to time.Time) ([]Interval, error)
	Insert(ctx context.Context, appt Appointment) (string, error)
}

// Config holds scheduling policy
type Config struct {
	Location      *time.Location
	SlotDuration  time.Duration
	StartHour     int
	EndHour       int
	LookaheadDays int
	MaxSlots      int
	Summary       string
}

// Scheduler checks and books appointment slots
type Scheduler struct {
	backend Backend
	config  Config
	now     func() time.Time
}

// NewScheduler creates a scheduler, applying defaults for unset policy
func NewScheduler(backend Backend, config Config) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.SlotDuration <= 0 {
		config.SlotDuration = 30 * time.Minute
	}
	if config.StartHour == 0 && config.EndHour == 0 {
		config.StartHour, config.EndHour = 9, 17
	}
	if config.LookaheadDays <= 0 {
		config.LookaheadDays = 7
	}
	if config.MaxSlots <= 0 {
		config.MaxSlots = 5
	}
	if config.Summary == "" {
		config.Summary = "Appointment"
	}

	return &Scheduler{backend: backend, config: config, now: time.Now}
}

// ParseProposedTime parses an ISO time. Values without a zone are read in loc.
func ParseProposedTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidTime
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
}

// Location returns the calendar time zone
func (s *Scheduler) Location() *time.Location {
	return s.config.Location
}

// IsAvailable reports whether a slot starting at start is free
func (s *Scheduler) IsAvailable(ctx context.Context, start time.Time) (bool, error) {
	if start.Before(s.now()) {
		return false, nil
	}

	end := start.Add(s.config.SlotDuration)
	busy, err := s.backend.Busy(ctx, start, end)
	if err != nil {
		return false, fmt.Errorf("failed to query free/busy: %w", err)
	}

	for _, b := range busy {
		if b.Overlaps(start, end) {
			return false, nil
		}
	}
	return true, nil
}

// AvailableSlots lists free slots inside business hours over the lookahead
// window
func (s *Scheduler) AvailableSlots(ctx context.Context) ([]time.Time, error) {
	from := s.now().In(s.config.Location)
	to := from.AddDate(0, 0, s.config.LookaheadDays)

	busy, err := s.backend.Busy(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query free/busy: %w", err)
	}

	return FreeSlots(busy, from, to, s.config), nil
}

// Book creates the appointment. A provider failure is reported in the
// returned Booking as well as the error.
func (s *Scheduler) Book(ctx context.Context, start time.Time, email string) (Booking, error) {
	booking := Booking{
		ProposedTime: start.Format("2006-01-02T15:04:05"),
		Start:        start,
		Email:        email,
	}

	if start.Before(s.now()) {
		booking.Error = ErrPastTime.Error()
		return booking, ErrPastTime
	}

	link, err := s.backend.Insert(ctx, Appointment{
		Start:   start,
		End:     start.Add(s.config.SlotDuration),
		Email:   email,
		Summary: s.config.Summary,
	})
	if err != nil {
		booking.Error = err.Error()
		return booking, fmt.Errorf("failed to book appointment: %w", err)
	}

	booking.Booked = true
	booking.Link = link
	return booking, nil
}

// FreeSlots walks slot-aligned times between from and to that fall inside
// business hours and do not overlap busy, returning at most cfg.MaxSlots.
func FreeSlots(busy []Interval, from, to time.Time, cfg Config) []time.Time {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	step := cfg.SlotDuration
	if step <= 0 {
		step = 30 * time.Minute
	}

	sorted := append([]Interval(nil), busy...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	from = from.In(loc)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)

	var slots []time.Time
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		open := day.Add(time.Duration(cfg.StartHour) * time.Hour)
		closing := day.Add(time.Duration(cfg.EndHour) * time.Hour)

		for start := open; !start.Add(step).After(closing); start = start.Add(step) {
			if start.Before(from) || !start.Before(to) {
				continue
			}
			if overlapsAny(sorted, start, start.Add(step)) {
				continue
			}
			slots = append(slots, start)
			if cfg.MaxSlots > 0 && len(slots) >= cfg.MaxSlots {
				return slots
			}
		}
	}
	return slots
}

func overlapsAny(busy []Interval, start, end time.Time) bool {
	for _, b := range busy {
		if !b.Start.Before(end) {
			return false
		}
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}
