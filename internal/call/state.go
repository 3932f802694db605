package call

import (
	"errors"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/realtime"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/tools"
)

var (
	// ErrCallExists is returned by Accept for a call id already registered
	ErrCallExists = errors.New("call already exists")
	// ErrStateTimeout marks a role that was defaulted after unanswered prompts
	ErrStateTimeout = errors.New("caller role not stated in time")
	// ErrSessionClosed is returned when a stream attaches to an ended session
	ErrSessionClosed = errors.New("session closed")
	// ErrStreamAttached is returned when a second stream attaches to a session
	ErrStreamAttached = errors.New("media stream already attached")
	// ErrManagerStopped is returned by Accept after Stop
	ErrManagerStopped = errors.New("call manager stopped")
)

// State is the lifecycle state of a call session
type State int

const (
	StateRinging State = iota
	StateGreeting
	StateIdentifying
	StateConversing
	StateToolPending
	StateClosing
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateGreeting:
		return "greeting"
	case StateIdentifying:
		return "identifying"
	case StateConversing:
		return "conversing"
	case StateToolPending:
		return "tool_pending"
	case StateClosing:
		return "closing"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// End reasons recorded in the snapshot
const (
	ReasonCallerHangup    = "caller_hangup"
	ReasonAssistantHangup = "assistant_hangup"
	ReasonMaxDuration     = "max_duration"
	ReasonShutdown        = "shutdown"
	ReasonRingTimeout     = "ring_timeout"
	ReasonTransportError  = "transport_error"
	ReasonEngineFailure   = "engine_unavailable"
)

// Role resolution sources, used as metric labels
const (
	sourceDirectory = "directory"
	sourceCaller    = "caller"
	sourceTool      = "tool"
	sourceTimeout   = "timeout"
)

type eventKind int

const (
	evEngine eventKind = iota
	evToolResult
	evTransportError
	evHangup
	evBargeIn
	evIdentifyTimeout
	evMaxDuration
	evShutdown
)

// event is one input of the session loop
type event struct {
	kind   eventKind
	engine realtime.ServerEvent
	inv    tools.Invocation
	err    error
	source string
	gen    uint64
}
