package recorder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/schedule"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/tools"
)

// Appointment is a booking that succeeded during the call
type Appointment struct {
	Time string `json:"time"`
	Link string `json:"link,omitempty"`
}

// Transcript renders the log as the plain-text call transcript used as
// summary input
func (s Snapshot) Transcript() string {
	var b strings.Builder
	b.WriteString("CALL TRANSCRIPT & CONVERSATION\n")
	b.WriteString("============================\n\n")

	var booked []Appointment

	for _, e := range s.Entries {
		switch {
		case e.Turn != nil:
			writeTurn(&b, *e.Turn)
		case e.Invocation != nil:
			if appt, ok := writeInvocation(&b, *e.Invocation); ok {
				booked = append(booked, appt)
			}
		}
	}

	if len(booked) > 0 {
		b.WriteString("\n===== APPOINTMENT SUMMARY =====\n")
		for i, appt := range booked {
			fmt.Fprintf(&b, "Appointment #%d: %s\n", i+1, appt.Time)
			fmt.Fprintf(&b, "Link: %s\n", appt.Link)
		}
		b.WriteString("==============================\n\n")
	}

	return b.String()
}

// Appointments returns the successful bookings in log order
func (s Snapshot) Appointments() []Appointment {
	var discard strings.Builder
	var booked []Appointment
	for _, e := range s.Entries {
		if e.Invocation == nil {
			continue
		}
		if appt, ok := writeInvocation(&discard, *e.Invocation); ok {
			booked = append(booked, appt)
		}
	}
	return booked
}

func writeTurn(b *strings.Builder, t Turn) {
	switch t.Speaker {
	case SpeakerCaller:
		fmt.Fprintf(b, "User: %s\n\n", t.Text)
	case SpeakerAssistant:
		fmt.Fprintf(b, "Assistant: %s\n\n", t.Text)
	default:
		fmt.Fprintf(b, "System: %s\n\n", t.Text)
	}
}

func writeInvocation(b *strings.Builder, inv tools.Invocation) (Appointment, bool) {
	switch args := inv.Args.(type) {
	case tools.SearchArgs:
		fmt.Fprintf(b, "\nDATABASE QUERY: %s\n", args.Query)
		fmt.Fprintf(b, "RESULT: %s\n\n", resultText(inv))

	case tools.AvailableSlotsArgs:
		fmt.Fprintf(b, "\nCALENDAR QUERY: %s\n", inv.Name)
		if slots, ok := inv.Result.(tools.SlotsResult); ok && len(slots.AvailableSlots) > 0 {
			fmt.Fprintf(b, "SLOTS: %s\n", strings.Join(slots.AvailableSlots, "; "))
		}
		b.WriteString("\n")

	case tools.CheckSlotArgs:
		fmt.Fprintf(b, "\nCALENDAR QUERY: %s\n", inv.Name)
		fmt.Fprintf(b, "PROPOSED TIME: %s\n", args.ProposedTime)
		availability, ok := inv.Result.(schedule.Availability)
		if inv.Status != tools.StatusCompleted || !ok {
			fmt.Fprintf(b, "AVAILABLE: unknown (%s)\n\n", resultText(inv))
			return Appointment{}, false
		}
		fmt.Fprintf(b, "AVAILABLE: %s\n\n", strconv.FormatBool(availability.Available))
		if availability.Booking != nil {
			return writeBooking(b, args.ProposedTime, *availability.Booking)
		}

	case tools.BookArgs:
		booking, ok := inv.Result.(schedule.Booking)
		if !ok {
			booking = schedule.Booking{Error: resultText(inv)}
		}
		return writeBooking(b, args.ProposedTime, booking)
	}

	return Appointment{}, false
}

func writeBooking(b *strings.Builder, proposed string, booking schedule.Booking) (Appointment, bool) {
	b.WriteString("\n===== APPOINTMENT BOOKING =====\n")
	fmt.Fprintf(b, "Time: %s\n", proposed)

	if !booking.Booked {
		fmt.Fprintf(b, "Status: Failed - %s\n\n", booking.Error)
		return Appointment{}, false
	}

	b.WriteString("Status: Successfully booked\n")
	fmt.Fprintf(b, "Calendar Link: %s\n\n", booking.Link)
	return Appointment{Time: proposed, Link: booking.Link}, true
}

func resultText(inv tools.Invocation) string {
	if inv.Status == tools.StatusFailed {
		if inv.Err != nil {
			return "Failed - " + inv.Err.Error()
		}
		return "Failed"
	}
	switch r := inv.Result.(type) {
	case string:
		return r
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", r)
	}
}
