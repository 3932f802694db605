package tools

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

func TestDecodeValidCalls(t *testing.T) {
	d := NewDecoder(nil, time.UTC)

	args, err := d.Decode(ToolSearchProducts, `{"query":"  impeller 40mm "}`)
	if err != nil {
		t.Fatalf("Failed to decode search: %v", err)
	}
	if a, ok := args.(SearchArgs); !ok || a.Query != "impeller 40mm" || a.Kind() != KindSearch {
		t.Errorf("Unexpected search args: %#v", args)
	}

	args, err = d.Decode(ToolCheckSlot, `{"proposed_time":"2025-05-15T14:30:00"}`)
	if err != nil {
		t.Fatalf("Failed to decode slot check: %v", err)
	}
	if a := args.(CheckSlotArgs); !a.Start.Equal(time.Date(2025, 5, 15, 14, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected parsed start, got %v", a.Start)
	}

	args, err = d.Decode(ToolAvailableSlots, "")
	if err != nil || args.Kind() != KindSchedule {
		t.Errorf("Expected empty arguments to be accepted, got %v", err)
	}

	args, err = d.Decode(ToolRegisterRole, `{"role":"Contractor"}`)
	if err != nil || args.(RegisterRoleArgs).Role != users.RoleContractor {
		t.Errorf("Expected contractor role, got %#v (%v)", args, err)
	}

	args, err = d.Decode(ToolEndCall, `{}`)
	if err != nil || args.Kind() != KindHangup {
		t.Errorf("Expected end_call, got %#v (%v)", args, err)
	}
}

func TestDecodeRejectsInvalidCalls(t *testing.T) {
	d := NewDecoder([]Kind{KindSearch, KindSchedule, KindLookup}, time.UTC)

	tests := []struct {
		name string
		tool string
		raw  string
	}{
		{"unknown tool", "delete_database", `{}`},
		{"disabled kind", ToolEndCall, `{}`},
		{"malformed json", ToolSearchProducts, `{"query":`},
		{"unknown field", ToolSearchProducts, `{"query":"x","limit":5}`},
		{"missing query", ToolSearchProducts, `{}`},
		{"wrong type", ToolSearchProducts, `{"query":42}`},
		{"bad time", ToolCheckSlot, `{"proposed_time":"next tuesday"}`},
		{"missing time", ToolBookAppointment, `{"email":"a@b.com"}`},
		{"bad role", ToolRegisterRole, `{"role":"supplier"}`},
		{"trailing data", ToolLookupCaller, `{} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Decode(tt.tool, tt.raw); !errors.Is(err, ErrInvalidToolCall) {
				t.Errorf("Expected ErrInvalidToolCall, got %v", err)
			}
		})
	}
}

func TestDefinitionsFollowAllowList(t *testing.T) {
	if got := len(Definitions(nil)); got != 7 {
		t.Errorf("Expected 7 tools, got %d", got)
	}

	defs := Definitions([]Kind{KindSearch})
	if len(defs) != 1 || defs[0].Name != ToolSearchProducts {
		t.Errorf("Expected only the search tool, got %+v", defs)
	}

	for _, d := range Definitions(nil) {
		if !json.Valid(d.Parameters) {
			t.Errorf("Tool %s has invalid parameter schema", d.Name)
		}
	}

	if _, err := ParseKind("billing"); err == nil {
		t.Errorf("Expected unknown kind error")
	}
}

func TestInvocationOutput(t *testing.T) {
	ok := Invocation{Status: StatusCompleted, Result: "BOLT ALLEN is in stock"}
	if got := ok.Output(); got != `{"result":"BOLT ALLEN is in stock"}` {
		t.Errorf("Unexpected result output: %s", got)
	}

	failed := Invocation{Name: ToolCheckSlot, Status: StatusFailed, Err: ErrBackendTimeout}
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(failed.Output()), &body); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if body.Error.Kind != "backend_timeout" || !strings.Contains(body.Error.Message, "timeout") {
		t.Errorf("Unexpected error output: %+v", body)
	}
}

func TestErrorKind(t *testing.T) {
	tests := map[error]string{
		nil:                  "",
		ErrInvalidToolCall:   "invalid_tool_call",
		ErrAlreadyProcessing: "already_processing",
		ErrBackendTimeout:    "backend_timeout",
		ErrCanceled:          "canceled",
		errors.New("boom"):   "backend_error",
	}
	for err, want := range tests {
		if got := ErrorKind(err); got != want {
			t.Errorf("ErrorKind(%v): expected %q, got %q", err, want, got)
		}
	}
}
