package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseEvent(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F, 0x00})

	tests := []struct {
		name        string
		data        string
		expectError bool
		errorMsg    string
		check       func(t *testing.T, e *Event)
	}{
		{
			name: "start event",
			data: `{"event":"start","sequenceNumber":0,"start":{"streamId":"s-1","callId":"c-1",` +
				`"tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000}}}`,
			check: func(t *testing.T, e *Event) {
				if e.GetStreamID() != "s-1" {
					t.Errorf("Expected stream id s-1, got %s", e.GetStreamID())
				}
				if e.Start.CallID != "c-1" {
					t.Errorf("Expected call id c-1, got %s", e.Start.CallID)
				}
			},
		},
		{
			name: "media event with numeric sequence",
			data: `{"event":"media","sequenceNumber":7,"streamId":"s-1","media":{"track":"inbound",` +
				`"timestamp":"1700000000","chunk":3,"payload":"` + payload + `"}}`,
			check: func(t *testing.T, e *Event) {
				seq, ok := e.Sequence()
				if !ok || seq != 7 {
					t.Errorf("Expected sequence 7, got %d (%v)", seq, ok)
				}
				audio, err := e.Audio()
				if err != nil {
					t.Fatalf("Failed to decode audio: %v", err)
				}
				if len(audio) != 3 || audio[0] != 0xFF {
					t.Errorf("Expected decoded payload, got %v", audio)
				}
			},
		},
		{
			name: "media event falls back to chunk string",
			data: `{"event":"media","streamId":"s-1","media":{"chunk":"12","payload":"` + payload + `"}}`,
			check: func(t *testing.T, e *Event) {
				seq, ok := e.Sequence()
				if !ok || seq != 12 {
					t.Errorf("Expected sequence 12 from chunk, got %d (%v)", seq, ok)
				}
			},
		},
		{
			name: "media event without sequence",
			data: `{"event":"media","media":{"payload":"` + payload + `"}}`,
			check: func(t *testing.T, e *Event) {
				if _, ok := e.Sequence(); ok {
					t.Errorf("Expected no sequence")
				}
			},
		},
		{
			name: "hangup is terminal",
			data: `{"event":"hangup","streamId":"s-1"}`,
			check: func(t *testing.T, e *Event) {
				if !e.IsTerminal() {
					t.Errorf("Expected hangup to be terminal")
				}
			},
		},
		{
			name:        "missing event name",
			data:        `{"streamId":"s-1"}`,
			expectError: true,
			errorMsg:    "event name is missing",
		},
		{
			name:        "media without payload",
			data:        `{"event":"media","media":{"track":"inbound"}}`,
			expectError: true,
			errorMsg:    "media event without payload",
		},
		{
			name:        "unsupported encoding",
			data:        `{"event":"start","start":{"streamId":"s-1","mediaFormat":{"encoding":"audio/x-l16"}}}`,
			expectError: true,
			errorMsg:    "unsupported media encoding",
		},
		{
			name:        "bad sequence",
			data:        `{"event":"media","sequenceNumber":"abc","media":{"payload":"` + payload + `"}}`,
			expectError: true,
			errorMsg:    "invalid sequence",
		},
		{
			name:        "not json",
			data:        `not json`,
			expectError: true,
			errorMsg:    "failed to decode event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseEvent([]byte(tt.data))
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			tt.check(t, event)
		})
	}
}

func TestPlayAudioCommand(t *testing.T) {
	data, err := json.Marshal(NewPlayAudio([]byte{1, 2, 3}))
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var decoded map[string]any
	json.Unmarshal(data, &decoded)

	if decoded["event"] != "playAudio" {
		t.Errorf("Expected playAudio, got %v", decoded["event"])
	}
	media := decoded["media"].(map[string]any)
	if media["contentType"] != "audio/x-mulaw" {
		t.Errorf("Expected audio/x-mulaw, got %v", media["contentType"])
	}
	if media["sampleRate"].(float64) != 8000 {
		t.Errorf("Expected 8000, got %v", media["sampleRate"])
	}
	if media["payload"] != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Errorf("Expected base64 payload, got %v", media["payload"])
	}
}

func TestClearAudioCommand(t *testing.T) {
	data, _ := json.Marshal(NewClearAudio("s-9"))
	if string(data) != `{"event":"clearAudio","streamId":"s-9"}` {
		t.Errorf("Unexpected clearAudio encoding: %s", data)
	}
}

func TestAnswerXML(t *testing.T) {
	doc, err := AnswerXML("wss://bot.example.com/media-stream/abc", 86400)
	if err != nil {
		t.Fatalf("Failed to build answer: %v", err)
	}

	xml := string(doc)
	for _, want := range []string{
		`<Response>`,
		`bidirectional="true"`,
		`keepCallAlive="true"`,
		`contentType="audio/x-mulaw;rate=8000"`,
		`audioTrack="inbound"`,
		`streamTimeout="86400"`,
		`>wss://bot.example.com/media-stream/abc</Stream>`,
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("Expected answer to contain %s, got %s", want, xml)
		}
	}
	if strings.Contains(xml, "<Hangup") {
		t.Errorf("Expected no hangup in answer, got %s", xml)
	}

	if _, err := AnswerXML("", 10); err == nil {
		t.Errorf("Expected error for empty stream url")
	}
}

func TestErrorXML(t *testing.T) {
	xml := string(ErrorXML(""))

	if !strings.Contains(xml, "<Speak>"+DefaultApology+"</Speak>") {
		t.Errorf("Expected apology, got %s", xml)
	}
	if !strings.Contains(xml, "<Hangup></Hangup>") {
		t.Errorf("Expected hangup, got %s", xml)
	}
	if strings.Index(xml, "<Speak>") > strings.Index(xml, "<Hangup>") {
		t.Errorf("Expected speak before hangup, got %s", xml)
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base, host, id, want string
	}{
		{"", "bot.local:5000", "abc", "ws://bot.local:5000/media-stream/abc"},
		{"wss://bot.example.com/", "ignored", "abc", "wss://bot.example.com/media-stream/abc"},
		{"wss://bot.example.com", "", "a b", "wss://bot.example.com/media-stream/a%20b"},
	}

	for _, tt := range tests {
		if got := StreamURL(tt.base, tt.host, tt.id); got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
	}
}
