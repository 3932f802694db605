package realtime

import "encoding/json"

// Server event types handled by the bridge
const (
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventResponseCreated        = "response.created"
	EventResponseDone           = "response.done"
	EventAudioDelta             = "response.audio.delta"
	EventAudioTranscriptDone    = "response.audio_transcript.done"
	EventInputTranscriptionDone = "conversation.item.input_audio_transcription.completed"
	EventFunctionCallDone       = "response.function_call_arguments.done"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventSpeechStopped          = "input_audio_buffer.speech_stopped"
	EventError                  = "error"
)

// Client event types
const (
	EventSessionUpdate     = "session.update"
	EventInputAudioAppend  = "input_audio_buffer.append"
	EventConversationItem  = "conversation.item.create"
	EventResponseCreate    = "response.create"
	EventResponseCancel    = "response.cancel"
	ItemFunctionCallOutput = "function_call_output"
	AudioFormatMuLaw       = "g711_ulaw"
)

// ServerError is the body of an error event
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseInfo is the response object of response.created and response.done
type ResponseInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ServerEvent is a decoded engine event. Only the fields relevant to the
// event type are set.
type ServerEvent struct {
	Type       string        `json:"type"`
	EventID    string        `json:"event_id"`
	ResponseID string        `json:"response_id"`
	ItemID     string        `json:"item_id"`
	CallID     string        `json:"call_id"`
	Name       string        `json:"name"`
	Arguments  string        `json:"arguments"`
	Delta      string        `json:"delta"`
	Transcript string        `json:"transcript"`
	Response   *ResponseInfo `json:"response,omitempty"`
	Error      *ServerError  `json:"error,omitempty"`

	// Audio holds the decoded Delta of an audio event
	Audio []byte `json:"-"`
}

// GetResponseID returns the response id from the event or its response object
func (e *ServerEvent) GetResponseID() string {
	if e.ResponseID != "" {
		return e.ResponseID
	}
	if e.Response != nil {
		return e.Response.ID
	}
	return ""
}

// TurnDetection configures server-side voice activity detection
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

// Transcription configures caller speech transcription
type Transcription struct {
	Model string `json:"model"`
}

// Tool is a function definition offered to the engine
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Session is the body of session.update
type Session struct {
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Modalities              []string       `json:"modalities,omitempty"`
	Temperature             float64        `json:"temperature,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	Tools                   []Tool         `json:"tools,omitempty"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
}

// ResponseOptions is the body of response.create
type ResponseOptions struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Temperature  float64  `json:"temperature,omitempty"`
}

type sessionUpdate struct {
	Type    string  `json:"type"`
	Session Session `json:"session"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type itemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type responseCreate struct {
	Type     string           `json:"type"`
	Response *ResponseOptions `json:"response,omitempty"`
}

type responseCancel struct {
	Type string `json:"type"`
}
