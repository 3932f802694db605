package protocol

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStreamClosed is returned by writes after Close
var ErrStreamClosed = errors.New("media stream closed")

// Stream is the server side of one telephony media stream websocket
type Stream struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	streamID string
	closed   bool

	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewStream wraps an upgraded websocket connection
func NewStream(conn *websocket.Conn, writeTimeout time.Duration) *Stream {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Stream{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// ReadEvent blocks for the next valid event. Binary and malformed messages
// are skipped; the error of a failed read is returned as is.
func (s *Stream) ReadEvent() (*Event, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := ParseEvent(data)
		if err != nil {
			continue
		}

		if id := event.GetStreamID(); id != "" {
			s.writeMu.Lock()
			if s.streamID == "" {
				s.streamID = id
			}
			s.writeMu.Unlock()
		}

		return event, nil
	}
}

// PlayAudio sends mu-law audio for playback to the caller
func (s *Stream) PlayAudio(payload []byte) error {
	return s.writeJSON(NewPlayAudio(payload))
}

// ClearAudio drops audio the provider has queued for playback
func (s *Stream) ClearAudio() error {
	s.writeMu.Lock()
	id := s.streamID
	s.writeMu.Unlock()

	return s.writeJSON(NewClearAudio(id))
}

// StreamID returns the provider stream id once the start event was read
func (s *Stream) StreamID() string {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.streamID
}

func (s *Stream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write to media stream: %w", err)
	}
	return nil
}

// Close sends a normal close frame and closes the connection. It is safe to
// call more than once.
func (s *Stream) Close() error {
	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return nil
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	return s.conn.Close()
}
