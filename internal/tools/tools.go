package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/schedule"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

// Kind is the backend capability a tool maps to
type Kind string

const (
	KindSearch   Kind = "search"
	KindSchedule Kind = "schedule"
	KindLookup   Kind = "lookup"
	KindHangup   Kind = "hangup"
)

// Tool names offered to the engine
const (
	ToolSearchProducts  = "search_product_database"
	ToolCheckSlot       = "check_slot_availability"
	ToolAvailableSlots  = "get_available_slots"
	ToolBookAppointment = "book_appointment"
	ToolLookupCaller    = "lookup_caller"
	ToolRegisterRole    = "register_caller_role"
	ToolEndCall         = "end_call"
)

// Definition describes one tool in the closed set
type Definition struct {
	Name        string
	Kind        Kind
	Description string
	Parameters  json.RawMessage
}

var definitions = []Definition{
	{
		Name:        ToolSearchProducts,
		Kind:        KindSearch,
		Description: "Search for product information in the database",
		Parameters: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string",` +
			`"description":"The search query about a product or part"}},"required":["query"]}`),
	},
	{
		Name:        ToolCheckSlot,
		Kind:        KindSchedule,
		Description: "Check if a specific time slot is available for booking and book it if available",
		Parameters: json.RawMessage(`{"type":"object","properties":{"proposed_time":{"type":"string",` +
			`"description":"The proposed appointment time in ISO format (e.g., '2024-05-15T14:30:00')"}},` +
			`"required":["proposed_time"]}`),
	},
	{
		Name:        ToolAvailableSlots,
		Kind:        KindSchedule,
		Description: "Get available appointment slots from the calendar (only use if the user specifically asks for available time slots)",
		Parameters:  json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
	},
	{
		Name:        ToolBookAppointment,
		Kind:        KindSchedule,
		Description: "Book an appointment at the specified time (only use if check_slot_availability has already confirmed availability)",
		Parameters: json.RawMessage(`{"type":"object","properties":{"proposed_time":{"type":"string",` +
			`"description":"The appointment time in ISO format (e.g., '2024-05-15T14:30:00')"},` +
			`"email":{"type":"string","description":"Email address for the appointment (optional)"}},` +
			`"required":["proposed_time"]}`),
	},
	{
		Name:        ToolLookupCaller,
		Kind:        KindLookup,
		Description: "Look up the caller's registration details by their phone number",
		Parameters:  json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
	},
	{
		Name:        ToolRegisterRole,
		Kind:        KindLookup,
		Description: "Record whether a new caller is a contractor or a customer",
		Parameters: json.RawMessage(`{"type":"object","properties":{"role":{"type":"string",` +
			`"enum":["contractor","customer"]}},"required":["role"]}`),
	},
	{
		Name:        ToolEndCall,
		Kind:        KindHangup,
		Description: "End the phone call after saying goodbye, when the caller has nothing else to ask",
		Parameters: json.RawMessage(`{"type":"object","properties":{"reason":{"type":"string",` +
			`"description":"Short reason for ending the call"}},"required":[]}`),
	},
}

// ParseKind validates a configured kind name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSearch, KindSchedule, KindLookup, KindHangup:
		return k, nil
	default:
		return "", fmt.Errorf("unknown tool kind '%s'", s)
	}
}

// Definitions returns the tools whose kind is allowed. An empty allow-list
// allows every kind.
func Definitions(allowed []Kind) []Definition {
	set := allowSet(allowed)
	out := make([]Definition, 0, len(definitions))
	for _, d := range definitions {
		if set == nil || set[d.Kind] {
			out = append(out, d)
		}
	}
	return out
}

// Lookup returns the definition for a tool name
func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

func allowSet(allowed []Kind) map[Kind]bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[Kind]bool, len(allowed))
	for _, k := range allowed {
		set[k] = true
	}
	return set
}

// Args is the typed argument payload of a tool call. The set of
// implementations is closed to this package.
type Args interface {
	Tool() string
	Kind() Kind
	sealed()
}

// SearchArgs are the arguments of search_product_database
type SearchArgs struct {
	Query string `json:"query"`
}

// CheckSlotArgs are the arguments of check_slot_availability
type CheckSlotArgs struct {
	ProposedTime string    `json:"proposed_time"`
	Start        time.Time `json:"-"`
}

// AvailableSlotsArgs are the arguments of get_available_slots
type AvailableSlotsArgs struct{}

// BookArgs are the arguments of book_appointment
type BookArgs struct {
	ProposedTime string    `json:"proposed_time"`
	Email        string    `json:"email,omitempty"`
	Start        time.Time `json:"-"`
}

// LookupCallerArgs are the arguments of lookup_caller
type LookupCallerArgs struct{}

// RegisterRoleArgs are the arguments of register_caller_role
type RegisterRoleArgs struct {
	Role users.Role `json:"role"`
}

// EndCallArgs are the arguments of end_call
type EndCallArgs struct {
	Reason string `json:"reason,omitempty"`
}

func (SearchArgs) Tool() string         { return ToolSearchProducts }
func (CheckSlotArgs) Tool() string      { return ToolCheckSlot }
func (AvailableSlotsArgs) Tool() string { return ToolAvailableSlots }
func (BookArgs) Tool() string           { return ToolBookAppointment }
func (LookupCallerArgs) Tool() string   { return ToolLookupCaller }
func (RegisterRoleArgs) Tool() string   { return ToolRegisterRole }
func (EndCallArgs) Tool() string        { return ToolEndCall }

func (SearchArgs) Kind() Kind         { return KindSearch }
func (CheckSlotArgs) Kind() Kind      { return KindSchedule }
func (AvailableSlotsArgs) Kind() Kind { return KindSchedule }
func (BookArgs) Kind() Kind           { return KindSchedule }
func (LookupCallerArgs) Kind() Kind   { return KindLookup }
func (RegisterRoleArgs) Kind() Kind   { return KindLookup }
func (EndCallArgs) Kind() Kind        { return KindHangup }

func (SearchArgs) sealed()         {}
func (CheckSlotArgs) sealed()      {}
func (AvailableSlotsArgs) sealed() {}
func (BookArgs) sealed()           {}
func (LookupCallerArgs) sealed()   {}
func (RegisterRoleArgs) sealed()   {}
func (EndCallArgs) sealed()        {}

// Decoder validates tool calls against the closed set and an allow-list
type Decoder struct {
	allowed  map[Kind]bool
	location *time.Location
}

// NewDecoder creates a decoder. Zone-less proposed times are read in loc.
func NewDecoder(allowed []Kind, loc *time.Location) Decoder {
	if loc == nil {
		loc = time.UTC
	}
	return Decoder{allowed: allowSet(allowed), location: loc}
}

// Decode validates name and raw JSON arguments into typed Args. Every
// failure wraps ErrInvalidToolCall.
func (d Decoder) Decode(name, raw string) (Args, error) {
	def, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool '%s'", ErrInvalidToolCall, name)
	}
	if d.allowed != nil && !d.allowed[def.Kind] {
		return nil, fmt.Errorf("%w: tool kind '%s' is not enabled", ErrInvalidToolCall, def.Kind)
	}

	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}

	switch name {
	case ToolSearchProducts:
		var args SearchArgs
		if err := decodeStrict(raw, &args); err != nil {
			return nil, err
		}
		args.Query = strings.TrimSpace(args.Query)
		if args.Query == "" {
			return nil, fmt.Errorf("%w: query is required", ErrInvalidToolCall)
		}
		return args, nil

	case ToolCheckSlot:
		var args CheckSlotArgs
		if err := decodeStrict(raw, &args); err != nil {
			return nil, err
		}
		start, err := d.parseTime(args.ProposedTime)
		if err != nil {
			return nil, err
		}
		args.Start = start
		return args, nil

	case ToolAvailableSlots:
		var args AvailableSlotsArgs
		if err := decodeStrict(raw, &args); err != nil {
			return nil, err
		}
		return args, nil

	case ToolBookAppointment:
		var args BookArgs
		if err := decodeStrict(raw, &args); err != nil {
			return nil, err
		}
		start, err := d.parseTime(args.ProposedTime)
		if err != nil {
			return nil, err
		}
		args.Start = start
		args.Email = strings.TrimSpace(args.Email)
		return args, nil

	case ToolLookupCaller:
		var args LookupCallerArgs
		if err := decodeStrict(raw, &args); err != nil {
			return nil, err
		}
		return args, nil

	case ToolRegisterRole:
		var args struct {
			Role string `json:"role"`
		}
		if err := decodeStrict(raw, &args); err != nil {
			return nil, err
		}
		role, err := users.ParseRole(args.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: role must be contractor or customer", ErrInvalidToolCall)
		}
		return RegisterRoleArgs{Role: role}, nil

	case ToolEndCall:
		var args EndCallArgs
		if err := decodeStrict(raw, &args); err != nil {
			return nil, err
		}
		return args, nil
	}

	return nil, fmt.Errorf("%w: unknown tool '%s'", ErrInvalidToolCall, name)
}

func (d Decoder) parseTime(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, fmt.Errorf("%w: proposed_time is required", ErrInvalidToolCall)
	}
	t, err := schedule.ParseProposedTime(raw, d.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToolCall, err)
	}
	return t, nil
}

// decodeStrict decodes exactly one JSON object, rejecting unknown fields
func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed arguments: %v", ErrInvalidToolCall, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after arguments", ErrInvalidToolCall)
	}
	return nil
}
