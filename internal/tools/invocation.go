package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidToolCall is returned for unknown tools, disabled kinds and
	// arguments that do not match the tool schema
	ErrInvalidToolCall = errors.New("invalid tool call")
	// ErrAlreadyProcessing is returned for a repeated correlation id or when
	// the pending limit is reached
	ErrAlreadyProcessing = errors.New("tool call already processing")
	// ErrBackendTimeout marks a backend that did not answer in time
	ErrBackendTimeout = errors.New("backend timeout")
	// ErrBackendError marks a backend that answered with a failure
	ErrBackendError = errors.New("backend error")
	// ErrCanceled marks invocations still pending when the session ended
	ErrCanceled = errors.New("tool call canceled")
	// ErrDispatcherClosed is returned by Dispatch after Close
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Status is the lifecycle state of an invocation
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Request is a tool call as emitted by the engine
type Request struct {
	CallID    string
	ItemID    string
	Name      string
	Arguments string
}

// Invocation is one tool call and its outcome
type Invocation struct {
	ID           string    `json:"id"`
	ItemID       string    `json:"item_id,omitempty"`
	Name         string    `json:"name"`
	Kind         Kind      `json:"kind,omitempty"`
	Args         Args      `json:"args,omitempty"`
	Status       Status    `json:"status"`
	Result       any       `json:"result,omitempty"`
	Err          error     `json:"-"`
	Instructions string    `json:"instructions,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the invocation has its final status
func (inv Invocation) Terminal() bool {
	return inv.Status == StatusCompleted || inv.Status == StatusFailed
}

// Duration returns the time from dispatch to the terminal status
func (inv Invocation) Duration() time.Duration {
	if inv.FinishedAt.IsZero() {
		return 0
	}
	return inv.FinishedAt.Sub(inv.StartedAt)
}

// ErrorKind returns the stable name of the invocation's error class
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidToolCall):
		return "invalid_tool_call"
	case errors.Is(err, ErrAlreadyProcessing):
		return "already_processing"
	case errors.Is(err, ErrBackendTimeout):
		return "backend_timeout"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	default:
		return "backend_error"
	}
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type resultOutput struct {
	Result any `json:"result"`
}

type errorOutput struct {
	Error errorBody `json:"error"`
}

// Output renders the function_call_output payload for the engine
func (inv Invocation) Output() string {
	var body any = resultOutput{Result: inv.Result}
	if inv.Status == StatusFailed || inv.Err != nil {
		msg := "unknown failure"
		if inv.Err != nil {
			msg = inv.Err.Error()
		}
		body = errorOutput{Error: errorBody{Kind: ErrorKind(inv.Err), Message: msg}}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Sprintf(`{"error":{"kind":"backend_error","message":%q}}`, err.Error())
	}
	return string(data)
}

// failureInstructions tells the engine how to recover after a failed call
func failureInstructions(inv Invocation) string {
	switch ErrorKind(inv.Err) {
	case "backend_timeout":
		return fmt.Sprintf("The %s request took too long. Apologize briefly, tell the user the system is slow right now and offer to try again or help with something else.", inv.Name)
	case "invalid_tool_call":
		return "The last request could not be understood. Ask the user to repeat or clarify what they need."
	case "already_processing":
		return "A previous request is still being processed. Tell the user you are still working on it."
	default:
		return fmt.Sprintf("The %s request failed. Apologize briefly and offer to help with something else.", inv.Name)
	}
}
