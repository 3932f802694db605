package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("realtime connection closed")

// Config holds the engine connection settings
type Config struct {
	URL          string
	APIKey       string
	Model        string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	QueueSize    int // buffered server events
}

// Dialer opens engine connections
type Dialer struct {
	config Config
	dialer *websocket.Dialer
}

// NewDialer creates a dialer, applying defaults for unset durations
func NewDialer(config Config) *Dialer {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}

	return &Dialer{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.DialTimeout,
		},
	}
}

// URL returns the endpoint including the model query parameter
func (d *Dialer) URL() (string, error) {
	u, err := url.Parse(strings.TrimSpace(d.config.URL))
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	if d.config.Model != "" {
		q := u.Query()
		if q.Get("model") == "" {
			q.Set("model", d.config.Model)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial connects to the engine and starts reading events
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	wsURL, err := d.URL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.config.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialCtx, cancel := context.WithTimeout(ctx, d.config.DialTimeout)
	defer cancel()

	ws, resp, err := d.dialer.DialContext(dialCtx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime engine (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to realtime engine: %w", err)
	}

	c := &Conn{
		conn:         ws,
		writeTimeout: d.config.WriteTimeout,
		events:       make(chan ServerEvent, d.config.QueueSize),
		closed:       make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

// Conn is one engine websocket session
type Conn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	events    chan ServerEvent
	closed    chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error
}

// Events delivers decoded server events. The channel is closed when the
// connection ends; Err then reports why.
func (c *Conn) Events() <-chan ServerEvent {
	return c.events
}

// Err returns the error that ended the read loop, or nil on a local close
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.setErr(fmt.Errorf("realtime read failed: %w", err))
			}
			return
		}

		var event ServerEvent
		if err := json.Unmarshal(data, &event); err != nil || event.Type == "" {
			continue
		}

		if event.Type == EventAudioDelta && event.Delta != "" {
			audio, err := base64.StdEncoding.DecodeString(event.Delta)
			if err != nil {
				continue
			}
			event.Audio = audio
			event.Delta = ""
		}

		select {
		case c.events <- event:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) writeJSON(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	if err := c.conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("realtime write failed: %w", err)
	}
	return nil
}

// UpdateSession sends session.update
func (c *Conn) UpdateSession(ctx context.Context, session Session) error {
	return c.writeJSON(ctx, sessionUpdate{Type: EventSessionUpdate, Session: session})
}

// AppendAudio sends caller audio as input_audio_buffer.append
func (c *Conn) AppendAudio(ctx context.Context, audio []byte) error {
	return c.writeJSON(ctx, audioAppend{
		Type:  EventInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(audio),
	})
}

// SendFunctionOutput adds a function_call_output item for callID
func (c *Conn) SendFunctionOutput(ctx context.Context, callID, output string) error {
	return c.writeJSON(ctx, itemCreate{
		Type: EventConversationItem,
		Item: conversationItem{
			Type:   ItemFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	})
}

// CreateResponse asks the engine to respond. A nil opts uses session defaults.
func (c *Conn) CreateResponse(ctx context.Context, opts *ResponseOptions) error {
	return c.writeJSON(ctx, responseCreate{Type: EventResponseCreate, Response: opts})
}

// CancelResponse cancels the in-progress response
func (c *Conn) CancelResponse(ctx context.Context) error {
	return c.writeJSON(ctx, responseCancel{Type: EventResponseCancel})
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
