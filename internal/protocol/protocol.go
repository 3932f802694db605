package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Media stream event names
const (
	// Inbound events sent by the telephony provider
	EventStart        = "start"
	EventMedia        = "media"
	EventStop         = "stop"
	EventHangup       = "hangup"
	EventDTMF         = "dtmf"
	EventClearedAudio = "clearedAudio"
	EventPlayedStream = "playedStream"

	// Outbound commands sent to the telephony provider
	EventPlayAudio  = "playAudio"
	EventClearAudio = "clearAudio"
)

// Audio format carried on the stream
const (
	ContentTypeMuLaw = "audio/x-mulaw"
	SampleRate       = 8000
	TrackInbound     = "inbound"
)

// Seq is a sequence field the provider sends either as a number or as a
// numeric string
type Seq struct {
	Value uint64
	Set   bool
}

// UnmarshalJSON accepts 42, "42" and null
func (s *Seq) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*s = Seq{}
		return nil
	}

	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid sequence %q: %w", string(data), err)
	}

	*s = Seq{Value: v, Set: true}
	return nil
}

// MediaFormat describes the encoding announced in the start event
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
}

// StartPayload is the body of a start event
type StartPayload struct {
	StreamID    string      `json:"streamId"`
	CallID      string      `json:"callId"`
	AccountID   string      `json:"accountId"`
	Tracks      []string    `json:"tracks"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// MediaPayload is the body of a media event
type MediaPayload struct {
	Track     string `json:"track"`
	Timestamp string `json:"timestamp"`
	Chunk     Seq    `json:"chunk"`
	Payload   string `json:"payload"` // base64 mu-law
}

// DTMFPayload is the body of a dtmf event
type DTMFPayload struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// Event represents one inbound media stream message
type Event struct {
	Event          string        `json:"event"`
	SequenceNumber Seq           `json:"sequenceNumber"`
	StreamID       string        `json:"streamId"`
	Name           string        `json:"name,omitempty"` // checkpoint name on playedStream
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// ParseEvent decodes and validates an inbound message
func ParseEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	if err := ValidateEvent(&event); err != nil {
		return nil, err
	}

	return &event, nil
}

// ValidateEvent checks that the fields an event kind depends on are present
func ValidateEvent(event *Event) error {
	switch event.Event {
	case "":
		return fmt.Errorf("event name is missing")

	case EventStart:
		if event.Start == nil {
			return fmt.Errorf("start event without start payload")
		}
		if event.Start.StreamID == "" && event.StreamID == "" {
			return fmt.Errorf("start event without stream id")
		}
		if enc := event.Start.MediaFormat.Encoding; enc != "" && enc != ContentTypeMuLaw {
			return fmt.Errorf("unsupported media encoding: %s", enc)
		}

	case EventMedia:
		if event.Media == nil || event.Media.Payload == "" {
			return fmt.Errorf("media event without payload")
		}

	case EventDTMF:
		if event.DTMF == nil {
			return fmt.Errorf("dtmf event without digit")
		}
	}

	return nil
}

// IsTerminal reports whether the event ends the call
func (e *Event) IsTerminal() bool {
	return e.Event == EventStop || e.Event == EventHangup
}

// GetStreamID returns the stream id from the envelope or the start payload
func (e *Event) GetStreamID() string {
	if e.StreamID != "" {
		return e.StreamID
	}
	if e.Start != nil {
		return e.Start.StreamID
	}
	return ""
}

// Sequence returns the frame sequence, preferring sequenceNumber over the
// media chunk counter
func (e *Event) Sequence() (uint64, bool) {
	if e.SequenceNumber.Set {
		return e.SequenceNumber.Value, true
	}
	if e.Media != nil && e.Media.Chunk.Set {
		return e.Media.Chunk.Value, true
	}
	return 0, false
}

// Audio decodes the mu-law payload of a media event
func (e *Event) Audio() ([]byte, error) {
	if e.Media == nil {
		return nil, fmt.Errorf("not a media event: %s", e.Event)
	}

	audio, err := base64.StdEncoding.DecodeString(e.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode media payload: %w", err)
	}

	return audio, nil
}

// String returns a human-readable representation of the event
func (e *Event) String() string {
	seq, ok := e.Sequence()
	if !ok {
		return fmt.Sprintf("Event{Type:%s, StreamID:%q}", e.Event, e.GetStreamID())
	}
	return fmt.Sprintf("Event{Type:%s, StreamID:%q, Seq:%d}", e.Event, e.GetStreamID(), seq)
}

// PlayAudioMedia is the media body of a playAudio command
type PlayAudioMedia struct {
	ContentType string `json:"contentType"`
	SampleRate  int    `json:"sampleRate"`
	Payload     string `json:"payload"`
}

// PlayAudioCommand asks the provider to play audio to the caller
type PlayAudioCommand struct {
	Event string         `json:"event"`
	Media PlayAudioMedia `json:"media"`
}

// ClearAudioCommand asks the provider to drop audio queued for playback
type ClearAudioCommand struct {
	Event    string `json:"event"`
	StreamID string `json:"streamId"`
}

// NewPlayAudio builds a playAudio command for a mu-law payload
func NewPlayAudio(payload []byte) PlayAudioCommand {
	return PlayAudioCommand{
		Event: EventPlayAudio,
		Media: PlayAudioMedia{
			ContentType: ContentTypeMuLaw,
			SampleRate:  SampleRate,
			Payload:     base64.StdEncoding.EncodeToString(payload),
		},
	}
}

// NewClearAudio builds a clearAudio command for a stream
func NewClearAudio(streamID string) ClearAudioCommand {
	return ClearAudioCommand{
		Event:    EventClearAudio,
		StreamID: streamID,
	}
}
