package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/schedule"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/search"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

const slotLayout = "Monday, 02 January 2006 at 03:04 PM"

// ProductSearcher answers product questions
type ProductSearcher interface {
	Search(ctx context.Context, query string) (search.Result, error)
}

// Scheduler checks and books appointments
type Scheduler interface {
	IsAvailable(ctx context.Context, start time.Time) (bool, error)
	AvailableSlots(ctx context.Context) ([]time.Time, error)
	Book(ctx context.Context, start time.Time, email string) (schedule.Booking, error)
}

// Backends are the capabilities behind the tool kinds
type Backends struct {
	Search       ProductSearcher
	Schedule     Scheduler
	Users        users.Directory
	DefaultEmail string
	AutoBook     bool
}

// SlotsResult is the result of get_available_slots
type SlotsResult struct {
	AvailableSlots []string `json:"available_slots"`
}

// CallerResult is the result of lookup_caller
type CallerResult struct {
	Status users.Status `json:"status"`
	Name   string       `json:"name,omitempty"`
	Role   users.Role   `json:"role,omitempty"`
}

// RoleResult is the result of register_caller_role
type RoleResult struct {
	Role   users.Role `json:"role"`
	Status string     `json:"status"`
}

// Handlers binds one handler per configured kind
func (b Backends) Handlers() map[Kind]Handler {
	handlers := make(map[Kind]Handler)
	if b.Search != nil {
		handlers[KindSearch] = b.handleSearch
	}
	if b.Schedule != nil {
		handlers[KindSchedule] = b.handleSchedule
	}
	if b.Users != nil {
		handlers[KindLookup] = b.handleLookup
	}
	return handlers
}

func (b Backends) handleSearch(ctx context.Context, args Args, _ users.Participant) (Outcome, error) {
	a, ok := args.(SearchArgs)
	if !ok {
		return Outcome{}, fmt.Errorf("unexpected arguments %T", args)
	}

	result, err := b.Search.Search(ctx, a.Query)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Result:       result.Answer,
		Instructions: "Share the product information from the database search with the user in a helpful way.",
	}, nil
}

func (b Backends) handleSchedule(ctx context.Context, args Args, participant users.Participant) (Outcome, error) {
	switch a := args.(type) {
	case CheckSlotArgs:
		return b.checkSlot(ctx, a, participant)

	case AvailableSlotsArgs:
		slots, err := b.Schedule.AvailableSlots(ctx)
		if err != nil {
			return Outcome{}, err
		}
		result := SlotsResult{AvailableSlots: make([]string, 0, len(slots))}
		for _, s := range slots {
			result.AvailableSlots = append(result.AvailableSlots, s.Format(slotLayout))
		}
		return Outcome{
			Result:       result,
			Instructions: "Share the available appointment slots with the user. Format the times in a clear, easy-to-understand way.",
		}, nil

	case BookArgs:
		email := a.Email
		if email == "" {
			email = b.DefaultEmail
		}
		email = participant.ContactEmail(email)

		booking, err := b.Schedule.Book(ctx, a.Start, email)
		if err != nil && ctx.Err() != nil {
			return Outcome{}, err
		}
		instructions := fmt.Sprintf("Inform the user about the appointment booking result for %s.", a.ProposedTime)
		if booking.Booked {
			instructions += " Confirm the appointment was successfully booked."
		} else {
			instructions += " Apologize and suggest trying another time slot."
		}
		return Outcome{Result: booking, Instructions: instructions}, nil
	}

	return Outcome{}, fmt.Errorf("unexpected arguments %T", args)
}

func (b Backends) checkSlot(ctx context.Context, a CheckSlotArgs, participant users.Participant) (Outcome, error) {
	available, err := b.Schedule.IsAvailable(ctx, a.Start)
	if err != nil {
		return Outcome{}, err
	}

	result := schedule.Availability{ProposedTime: a.ProposedTime, Available: available}
	if !available {
		return Outcome{
			Result:       result,
			Instructions: fmt.Sprintf("Inform the user that the requested time (%s) is not available. Suggest they ask for another time.", a.ProposedTime),
		}, nil
	}

	if !b.AutoBook {
		return Outcome{
			Result:       result,
			Instructions: fmt.Sprintf("Tell the user that the time (%s) is available and ask whether they want to book it.", a.ProposedTime),
		}, nil
	}

	booking, err := b.Schedule.Book(ctx, a.Start, participant.ContactEmail(b.DefaultEmail))
	if err != nil && ctx.Err() != nil {
		return Outcome{}, err
	}
	result.Booking = &booking

	if !booking.Booked {
		return Outcome{
			Result:       result,
			Instructions: fmt.Sprintf("Tell the user that the time (%s) is available, but there was an error booking: %s. Suggest trying again or choosing another time.", a.ProposedTime, booking.Error),
		}, nil
	}
	return Outcome{
		Result:       result,
		Instructions: fmt.Sprintf("Tell the user that the time (%s) was available and has been successfully booked. Confirm the appointment details.", a.ProposedTime),
	}, nil
}

func (b Backends) handleLookup(ctx context.Context, args Args, participant users.Participant) (Outcome, error) {
	switch a := args.(type) {
	case LookupCallerArgs:
		p, err := b.Users.Lookup(ctx, participant.Phone)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Result:       CallerResult{Status: p.Status, Name: p.Name, Role: p.Role},
			Instructions: "Use the caller's registration details to personalise the conversation.",
		}, nil

	case RegisterRoleArgs:
		if participant.HasRole() {
			return Outcome{
				Result:       RoleResult{Role: participant.Role, Status: "unchanged"},
				Instructions: "The caller's role is already known. Continue the conversation.",
			}, nil
		}
		res, err := b.Users.Register(ctx, participant.Phone, a.Role)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Result: RoleResult{Role: a.Role, Status: string(res)},
			Instructions: fmt.Sprintf("Thank the user for specifying they are a %s. Now continue with normal conversation, "+
				"offering to help with product information or appointment scheduling.", a.Role),
		}, nil
	}

	return Outcome{}, fmt.Errorf("unexpected arguments %T", args)
}
