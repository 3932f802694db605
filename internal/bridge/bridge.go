package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/audio"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/metrics"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/vad"
)

var (
	// ErrFrameDropped wraps every refusal returned by Forward
	ErrFrameDropped = errors.New("frame dropped")
	// ErrClosed is returned by Forward after Close or a transport failure
	ErrClosed = errors.New("bridge closed")
	// ErrResponseCanceled marks outbound audio of an interrupted response
	ErrResponseCanceled = errors.New("response canceled")
)

// Endpoints named in transport errors
const (
	EndpointEngine = "engine"
	EndpointCaller = "caller"
)

// TransportError reports a failed write to one side of the bridge
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Direction is the travel direction of an audio frame
type Direction int

const (
	// Inbound audio flows from the caller to the engine
	Inbound Direction = iota
	// Outbound audio flows from the engine to the caller
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Frame is one chunk of mu-law audio
type Frame struct {
	Direction  Direction
	Seq        uint64
	HasSeq     bool   // inbound frames without a provider sequence are numbered locally
	ResponseID string // engine response that produced an outbound frame
	Payload    []byte
	At         time.Time
}

// EngineSink receives caller audio
type EngineSink interface {
	AppendAudio(ctx context.Context, audio []byte) error
}

// CallerSink receives assistant audio and playback control
type CallerSink interface {
	PlayAudio(payload []byte) error
	ClearAudio() error
}

// Config holds jitter buffer and barge-in settings
type Config struct {
	JitterDepth     int
	MaxSkew         int
	Capacity        int
	BargeIn         bool
	VADThreshold    float32
	VADSmoothing    float32
	MinSpeechFrames int
}

// Stats represents bridge statistics for monitoring
type Stats struct {
	SessionID       string            `json:"session_id"`
	Inbound         audio.JitterStats `json:"inbound"`
	Outbound        audio.JitterStats `json:"outbound"`
	ForwardedIn     uint64            `json:"forwarded_inbound"`
	ForwardedOut    uint64            `json:"forwarded_outbound"`
	CanceledFrames  uint64            `json:"canceled_frames"`
	BargeIns        uint64            `json:"barge_ins"`
	Interrupts      uint64            `json:"interrupts"`
	PlaybackActive  bool              `json:"playback_active"`
	VoicePercentage float64           `json:"voice_percentage"`
}

// Option customises a bridge
type Option func(*Bridge)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithBargeInHandler sets the callback run when the caller starts talking
// over assistant playback. It runs on the goroutine calling Forward and
// must not block.
func WithBargeInHandler(fn func()) Option {
	return func(b *Bridge) { b.onBargeIn = fn }
}

// Bridge moves audio between the caller and the engine through one jitter
// buffer and one pump per direction
type Bridge struct {
	sessionID string
	engine    EngineSink
	caller    CallerSink
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onBargeIn func()
	detector  *vad.Detector

	in        *audio.JitterBuffer[Frame]
	out       *audio.JitterBuffer[Frame]
	inNotify  chan struct{}
	outNotify chan struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	closed        bool
	err           error
	lastInSeq     uint64
	haveInSeq     bool
	outSeq        uint64
	canceled      map[string]bool
	playbackUntil time.Time

	forwardedIn    uint64
	forwardedOut   uint64
	canceledFrames uint64
	bargeIns       uint64
	interrupts     uint64
}

// Open starts a bridge between engine and caller. The bridge stops when ctx
// is canceled, Close is called, or a sink write fails.
func Open(ctx context.Context, cfg Config, sessionID string, engine EngineSink, caller CallerSink, opts ...Option) (*Bridge, error) {
	if engine == nil || caller == nil {
		return nil, fmt.Errorf("bridge requires both an engine and a caller sink")
	}

	b := &Bridge{
		sessionID: sessionID,
		engine:    engine,
		caller:    caller,
		logger:    slog.Default(),
		in:        audio.NewJitterBuffer[Frame](cfg.JitterDepth, cfg.MaxSkew, cfg.Capacity),
		out:       audio.NewJitterBuffer[Frame](cfg.JitterDepth, cfg.MaxSkew, cfg.Capacity),
		inNotify:  make(chan struct{}, 1),
		outNotify: make(chan struct{}, 1),
		done:      make(chan struct{}),
		canceled:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}

	if cfg.BargeIn {
		detector, err := vad.NewDetector(cfg.VADThreshold, cfg.VADSmoothing, cfg.MinSpeechFrames)
		if err != nil {
			return nil, fmt.Errorf("failed to create barge-in detector: %w", err)
		}
		b.detector = detector
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return b.pump(groupCtx, Inbound) })
	group.Go(func() error { return b.pump(groupCtx, Outbound) })

	go func() {
		err := group.Wait()

		b.mu.Lock()
		b.closed = true
		b.err = err
		b.mu.Unlock()

		if err != nil {
			b.logger.Warn("Audio bridge stopped on transport failure",
				slog.String("session_id", b.sessionID),
				slog.String("error", err.Error()))
		}
		close(b.done)
	}()

	return b, nil
}

// Forward queues a frame for its direction. A nil return acknowledges the
// frame; refusals wrap ErrFrameDropped and are never retried.
func (b *Bridge) Forward(f Frame) error {
	if f.At.IsZero() {
		f.At = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	buf, notify := b.in, b.inNotify
	if f.Direction == Outbound {
		if b.canceled[f.ResponseID] {
			b.canceledFrames++
			b.mu.Unlock()
			b.metrics.RecordFrameDropped(f.Direction.String(), "canceled")
			return fmt.Errorf("%w: %w", ErrFrameDropped, ErrResponseCanceled)
		}
		f.Seq = b.outSeq
		b.outSeq++
		buf, notify = b.out, b.outNotify
	} else {
		if !f.HasSeq {
			f.Seq = b.lastInSeq + 1
			if !b.haveInSeq {
				f.Seq = 0
			}
		}
		if !b.haveInSeq || f.Seq > b.lastInSeq {
			b.lastInSeq = f.Seq
			b.haveInSeq = true
		}
	}
	b.mu.Unlock()

	lost, err := buf.Push(f.Seq, f)
	if err != nil {
		b.metrics.RecordFrameDropped(f.Direction.String(), dropReason(err))
		return fmt.Errorf("%w: %w", ErrFrameDropped, err)
	}
	b.metrics.RecordFramesLost(f.Direction.String(), lost)

	select {
	case notify <- struct{}{}:
	default:
	}

	if f.Direction == Inbound && b.detector != nil {
		b.detectBargeIn(f)
	}

	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrLateFrame):
		return "late"
	case errors.Is(err, audio.ErrDuplicateFrame):
		return "duplicate"
	case errors.Is(err, audio.ErrBufferFull):
		return "overflow"
	default:
		return "other"
	}
}

func (b *Bridge) detectBargeIn(f Frame) {
	result := b.detector.Process(audio.DecodeMuLaw(f.Payload))
	if !result.Onset {
		return
	}

	b.mu.Lock()
	active := f.At.Before(b.playbackUntil) || b.out.Ready() > 0
	if active {
		b.bargeIns++
	}
	b.mu.Unlock()

	if active && b.onBargeIn != nil {
		b.metrics.RecordBargeIn("vad")
		b.onBargeIn()
	}
}

// pump drains one jitter buffer into its sink until ctx ends or a write fails
func (b *Bridge) pump(ctx context.Context, dir Direction) error {
	buf, notify := b.in, b.inNotify
	if dir == Outbound {
		buf, notify = b.out, b.outNotify
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-notify:
		}

		for {
			if ctx.Err() != nil {
				return nil
			}

			f, ok := buf.Pop()
			if !ok {
				break
			}

			if err := b.write(ctx, f); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				endpoint := EndpointEngine
				if dir == Outbound {
					endpoint = EndpointCaller
				}
				return &TransportError{Endpoint: endpoint, Err: err}
			}
		}
	}
}

func (b *Bridge) write(ctx context.Context, f Frame) error {
	if f.Direction == Inbound {
		if err := b.engine.AppendAudio(ctx, f.Payload); err != nil {
			return err
		}
		b.mu.Lock()
		b.forwardedIn++
		b.mu.Unlock()
		b.metrics.RecordFrameForwarded(f.Direction.String())
		return nil
	}

	b.mu.Lock()
	skip := b.canceled[f.ResponseID]
	if skip {
		b.canceledFrames++
	}
	b.mu.Unlock()
	if skip {
		b.metrics.RecordFrameDropped(f.Direction.String(), "canceled")
		return nil
	}

	if err := b.caller.PlayAudio(f.Payload); err != nil {
		return err
	}

	now := time.Now()
	b.mu.Lock()
	start := b.playbackUntil
	if start.Before(now) {
		start = now
	}
	b.playbackUntil = start.Add(time.Duration(len(f.Payload)) * audio.MuLawByteDuration)
	b.forwardedOut++
	b.mu.Unlock()
	b.metrics.RecordFrameForwarded(f.Direction.String())

	return nil
}

// Interrupt stops assistant playback: audio of responseID is discarded from
// now on, queued outbound frames are flushed and the caller side is told to
// clear its playback queue. It reports whether outbound audio was active.
func (b *Bridge) Interrupt(responseID string) bool {
	now := time.Now()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if responseID != "" {
		b.canceled[responseID] = true
	}
	active := now.Before(b.playbackUntil)
	b.playbackUntil = now
	b.interrupts++
	b.mu.Unlock()

	if flushed := b.out.Flush(); flushed > 0 {
		active = true
		b.metrics.RecordFrameDropped(Outbound.String(), "flushed")
	}

	if err := b.caller.ClearAudio(); err != nil {
		b.logger.Warn("Failed to clear caller playback",
			slog.String("session_id", b.sessionID),
			slog.String("error", err.Error()))
	}

	return active
}

// PlaybackActive reports whether assistant audio is estimated to be playing
func (b *Bridge) PlaybackActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().Before(b.playbackUntil) || b.out.Ready() > 0
}

// Close stops both pumps and waits for them. It is safe to call more than once.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.cancel()
	})
	<-b.done
	return nil
}

// Done is closed once both pumps have stopped
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the transport failure that stopped the bridge, if any
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// GetStats returns current bridge statistics
func (b *Bridge) GetStats() Stats {
	b.mu.Lock()
	stats := Stats{
		SessionID:      b.sessionID,
		ForwardedIn:    b.forwardedIn,
		ForwardedOut:   b.forwardedOut,
		CanceledFrames: b.canceledFrames,
		BargeIns:       b.bargeIns,
		Interrupts:     b.interrupts,
		PlaybackActive: time.Now().Before(b.playbackUntil),
	}
	b.mu.Unlock()

	stats.Inbound = b.in.GetStats()
	stats.Outbound = b.out.GetStats()
	if b.detector != nil {
		stats.VoicePercentage = b.detector.GetStats().VoicePercentage
	}

	return stats
}
