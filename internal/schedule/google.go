package schedule

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleConfig holds Google Calendar access settings
type GoogleConfig struct {
	CredentialsFile string
	CalendarID      string
	Location        *time.Location
}

// GoogleCalendar implements Backend with the Calendar v3 API
type GoogleCalendar struct {
	service    *calendar.Service
	calendarID string
	location   *time.Location
}

// NewGoogleCalendar creates a calendar backend from a service account file
func NewGoogleCalendar(ctx context.Context, cfg GoogleConfig) (*GoogleCalendar, error) {
	if cfg.CredentialsFile == "" {
		return nil, fmt.Errorf("calendar credentials file is required")
	}
	if cfg.CalendarID == "" {
		return nil, fmt.Errorf("calendar id is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	service, err := calendar.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(calendar.CalendarScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &GoogleCalendar{
		service:    service,
		calendarID: cfg.CalendarID,
		location:   cfg.Location,
	}, nil
}

// Busy returns busy periods between from and to
func (g *GoogleCalendar) Busy(ctx context.Context, from, to time.Time) ([]Interval, error) {
	resp, err := g.service.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  from.Format(time.RFC3339),
		TimeMax:  to.Format(time.RFC3339),
		TimeZone: g.location.String(),
		Items:    []*calendar.FreeBusyRequestItem{{Id: g.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}

	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar %s missing from free/busy response", g.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("free/busy error: %s", cal.Errors[0].Reason)
	}

	intervals := make([]Interval, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("invalid busy start %q: %w", period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("invalid busy end %q: %w", period.End, err)
		}
		intervals = append(intervals, Interval{Start: start, End: end})
	}

	return intervals, nil
}

// Insert creates the event and returns its calendar link
func (g *GoogleCalendar) Insert(ctx context.Context, appt Appointment) (string, error) {
	event := &calendar.Event{
		Summary:     appt.Summary,
		Description: fmt.Sprintf("Booked by phone for %s", appt.Email),
		Start: &calendar.EventDateTime{
			DateTime: appt.Start.Format(time.RFC3339),
			TimeZone: g.location.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: appt.End.Format(time.RFC3339),
			TimeZone: g.location.String(),
		},
	}

	created, err := g.service.Events.Insert(g.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.HtmlLink, nil
}
