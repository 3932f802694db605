package recorder

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/tools"
)

var (
	// ErrSealed is returned by appends after the snapshot was taken
	ErrSealed = errors.New("recorder sealed")
	// ErrEmptyTurn is returned for turns without text
	ErrEmptyTurn = errors.New("empty turn")
	// ErrNotTerminal is returned for invocations that are still pending
	ErrNotTerminal = errors.New("invocation is not terminal")
	// ErrDuplicateInvocation is returned when an id was already recorded
	ErrDuplicateInvocation = errors.New("invocation already recorded")
)

// Speaker identifies who produced a turn
type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
	SpeakerSystem    Speaker = "system"
)

// Turn is one utterance or system note
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	ItemID  string    `json:"item_id,omitempty"`
	At      time.Time `json:"at"`
}

// Entry is one record in the log: either a turn or a terminal invocation
type Entry struct {
	Seq        uint64            `json:"seq"`
	Turn       *Turn             `json:"turn,omitempty"`
	Invocation *tools.Invocation `json:"invocation,omitempty"`
}

// Snapshot is the sealed copy of a session's log
type Snapshot struct {
	SessionID   string    `json:"session_id"`
	CallerPhone string    `json:"caller_phone"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	EndReason   string    `json:"end_reason"`
	Partial     bool      `json:"partial"`
	Entries     []Entry   `json:"entries"`
}

// Recorder accumulates the ordered conversation log of one session
type Recorder struct {
	sessionID   string
	callerPhone string
	startedAt   time.Time

	mu       sync.Mutex
	entries  []Entry
	seq      uint64
	recorded map[string]bool
	snapshot *Snapshot
}

// New creates a recorder for a session
func New(sessionID, callerPhone string, startedAt time.Time) *Recorder {
	return &Recorder{
		sessionID:   sessionID,
		callerPhone: callerPhone,
		startedAt:   startedAt,
		recorded:    make(map[string]bool),
	}
}

// Append adds a turn at the end of the log
func (r *Recorder) Append(turn Turn) error {
	turn.Text = strings.TrimSpace(turn.Text)
	if turn.Text == "" {
		return ErrEmptyTurn
	}
	if turn.At.IsZero() {
		turn.At = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snapshot != nil {
		return ErrSealed
	}
	r.seq++
	r.entries = append(r.entries, Entry{Seq: r.seq, Turn: &turn})
	return nil
}

// AppendInvocation adds a terminal invocation. Each correlation id is
// recorded at most once.
func (r *Recorder) AppendInvocation(inv tools.Invocation) error {
	if !inv.Terminal() {
		return ErrNotTerminal
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snapshot != nil {
		return ErrSealed
	}
	if inv.ID != "" && r.recorded[inv.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateInvocation, inv.ID)
	}
	r.recorded[inv.ID] = true
	r.seq++
	r.entries = append(r.entries, Entry{Seq: r.seq, Invocation: &inv})
	return nil
}

// Len returns the number of entries recorded so far
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot seals the recorder and returns a copy of the log. Only the first
// call captures; later calls return the same snapshot.
func (r *Recorder) Snapshot(endedAt time.Time, reason string, partial bool) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snapshot == nil {
		r.seal(endedAt, reason, partial)
	}

	snap := *r.snapshot
	snap.Entries = cloneEntries(r.snapshot.Entries)
	return snap
}

func (r *Recorder) seal(endedAt time.Time, reason string, partial bool) {
	r.snapshot = &Snapshot{
		SessionID:   r.sessionID,
		CallerPhone: r.callerPhone,
		StartedAt:   r.startedAt,
		EndedAt:     endedAt,
		EndReason:   reason,
		Partial:     partial,
		Entries:     cloneEntries(r.entries),
	}
}

// cloneEntries copies the log so callers never share entries with the recorder
func cloneEntries(src []Entry) []Entry {
	entries := make([]Entry, len(src))
	for i, e := range src {
		entries[i] = Entry{Seq: e.Seq}
		if e.Turn != nil {
			turn := *e.Turn
			entries[i].Turn = &turn
		}
		if e.Invocation != nil {
			inv := *e.Invocation
			entries[i].Invocation = &inv
		}
	}
	return entries
}

// Turns returns the turns in log order
func (s Snapshot) Turns() []Turn {
	var turns []Turn
	for _, e := range s.Entries {
		if e.Turn != nil {
			turns = append(turns, *e.Turn)
		}
	}
	return turns
}

// Invocations returns the invocations in log order
func (s Snapshot) Invocations() []tools.Invocation {
	var invs []tools.Invocation
	for _, e := range s.Entries {
		if e.Invocation != nil {
			invs = append(invs, *e.Invocation)
		}
	}
	return invs
}

// Empty reports whether nothing worth summarising was recorded. System
// notes alone do not count.
func (s Snapshot) Empty() bool {
	for _, e := range s.Entries {
		if e.Invocation != nil {
			return false
		}
		if e.Turn != nil && e.Turn.Speaker != SpeakerSystem {
			return false
		}
	}
	return true
}

// Duration returns the length of the call
func (s Snapshot) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
