package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/bridge"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/metrics"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/protocol"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/realtime"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/recorder"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/tools"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

// Engine is one realtime AI engine connection
type Engine interface {
	Events() <-chan realtime.ServerEvent
	Err() error
	UpdateSession(ctx context.Context, session realtime.Session) error
	AppendAudio(ctx context.Context, audio []byte) error
	SendFunctionOutput(ctx context.Context, callID, output string) error
	CreateResponse(ctx context.Context, opts *realtime.ResponseOptions) error
	CancelResponse(ctx context.Context) error
	Close() error
}

// Dialer opens engine connections
type Dialer interface {
	Dial(ctx context.Context) (Engine, error)
}

// DialFunc adapts a function to Dialer
type DialFunc func(ctx context.Context) (Engine, error)

// Dial calls f(ctx)
func (f DialFunc) Dial(ctx context.Context) (Engine, error) {
	return f(ctx)
}

// Telephony is the caller side media stream
type Telephony interface {
	ReadEvent() (*protocol.Event, error)
	PlayAudio(payload []byte) error
	ClearAudio() error
	Close() error
}

// CallControl hangs up call legs through the telephony provider
type CallControl interface {
	Hangup(ctx context.Context, callID string) error
}

// Pipeline accepts ended sessions for post-call processing
type Pipeline interface {
	Submit(snapshot recorder.Snapshot, participant users.Participant) error
}

// CallInfo identifies an incoming call
type CallInfo struct {
	CallID string `json:"call_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// Config holds per-call policy
type Config struct {
	Brand                string
	Instructions         string
	IdentifyInstructions string
	Voice                string
	TranscriptionModel   string
	Temperature          float64

	RolePromptLimit int
	IdentifyTimeout time.Duration
	MaxCallDuration time.Duration
	RingTimeout     time.Duration
	LookupTimeout   time.Duration
	CleanupInterval time.Duration
	EventQueueSize  int

	ToolTimeout  time.Duration
	MaxPending   int
	EnabledTools []tools.Kind
	Location     *time.Location

	Bridge bridge.Config
}

func (c *Config) applyDefaults() {
	if c.Brand == "" {
		c.Brand = "Technvi AI"
	}
	if c.Instructions == "" {
		c.Instructions = DefaultInstructions
	}
	if c.IdentifyInstructions == "" {
		c.IdentifyInstructions = DefaultIdentifyInstructions
	}
	if c.RolePromptLimit <= 0 {
		c.RolePromptLimit = 2
	}
	if c.IdentifyTimeout <= 0 {
		c.IdentifyTimeout = 15 * time.Second
	}
	if c.MaxCallDuration <= 0 {
		c.MaxCallDuration = 30 * time.Minute
	}
	if c.RingTimeout <= 0 {
		c.RingTimeout = time.Minute
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 3 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = 256
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// Dependencies are the collaborators shared by all sessions
type Dependencies struct {
	Dialer    Dialer
	Directory users.Directory
	Handlers  map[tools.Kind]tools.Handler
	Pipeline  Pipeline
	Control   CallControl
}

// Info represents session information for monitoring and APIs
type Info struct {
	CallID    string        `json:"call_id"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	State     string        `json:"state"`
	Role      users.Role    `json:"role"`
	Status    users.Status  `json:"participant_status"`
	Attached  bool          `json:"stream_attached"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	EndReason string        `json:"end_reason,omitempty"`
	Duration  time.Duration `json:"duration"`
	Entries   int           `json:"recorded_entries"`
	Bridge    *bridge.Stats `json:"bridge,omitempty"`
	Tools     *tools.Stats  `json:"tools,omitempty"`
}

// Session is one live call. All state changes happen on the goroutine
// running Serve; other goroutines only post events to it.
type Session struct {
	info      CallInfo
	config    Config
	deps      Dependencies
	logger    *slog.Logger
	metrics   *metrics.Metrics
	recorder  *recorder.Recorder
	createdAt time.Time
	retire    func(*Session)

	events   chan event
	stopping chan struct{}
	done     chan struct{}
	endOnce  sync.Once

	mu          sync.RWMutex
	state       State
	participant users.Participant
	attached    bool
	endedAt     time.Time
	endReason   string
	err         error
	bridge      *bridge.Bridge
	dispatcher  *tools.Dispatcher
	engine      Engine
	telephony   Telephony
	cancel      context.CancelFunc
	engineDone  chan struct{}

	// owned by the loop
	responseID      string
	responseActive  bool
	awaitingRole    bool
	unanswered      int
	identifyGen     uint64
	identifyTimer   *time.Timer
	durationTimer   *time.Timer
	hangupRequested bool
	hangupResponse  string
	pending         map[string]bool
}

func newSession(info CallInfo, participant users.Participant, config Config, deps Dependencies,
	logger *slog.Logger, m *metrics.Metrics, retire func(*Session)) *Session {
	now := time.Now()
	return &Session{
		info:        info,
		config:      config,
		deps:        deps,
		logger:      logger.With(slog.String("call_id", info.CallID)),
		metrics:     m,
		recorder:    recorder.New(info.CallID, info.From, now),
		createdAt:   now,
		retire:      retire,
		events:      make(chan event, config.EventQueueSize),
		stopping:    make(chan struct{}),
		done:        make(chan struct{}),
		state:       StateRinging,
		participant: participant,
		pending:     make(map[string]bool),
	}
}

// ID returns the call id
func (s *Session) ID() string {
	return s.info.CallID
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Participant returns the caller as currently known
func (s *Session) Participant() users.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participant
}

// Done is closed once the session has ended and handed off its snapshot
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the transport failure that ended the session, if any
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Info returns a point-in-time view of the session
func (s *Session) Info() Info {
	s.mu.RLock()
	info := Info{
		CallID:    s.info.CallID,
		From:      s.info.From,
		To:        s.info.To,
		State:     s.state.String(),
		Role:      s.participant.Role,
		Status:    s.participant.Status,
		Attached:  s.attached,
		CreatedAt: s.createdAt,
		EndReason: s.endReason,
		Duration:  time.Since(s.createdAt),
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		info.EndedAt = &ended
		info.Duration = ended.Sub(s.createdAt)
	}
	b, d := s.bridge, s.dispatcher
	s.mu.RUnlock()

	info.Entries = s.recorder.Len()
	if b != nil {
		stats := b.GetStats()
		info.Bridge = &stats
	}
	if d != nil {
		stats := d.GetStats()
		info.Tools = &stats
	}
	return info
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded || s.state == state {
		return
	}
	s.logger.Debug("Call state changed",
		slog.String("from", s.state.String()),
		slog.String("to", state.String()))
	s.state = state
}

// claim attaches the media stream; a session serves at most one stream
func (s *Session) claim(telephony Telephony) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return ErrSessionClosed
	}
	if s.attached {
		return ErrStreamAttached
	}
	s.attached = true
	s.telephony = telephony
	return nil
}

// expire ends a session whose media stream never attached
func (s *Session) expire(reason string) bool {
	s.mu.Lock()
	if s.attached || s.state == StateEnded {
		s.mu.Unlock()
		return false
	}
	s.attached = true
	s.mu.Unlock()

	s.teardown(reason, false)
	return true
}

// Shutdown asks the session to end. Sessions without a stream end at once.
func (s *Session) Shutdown() {
	if s.expire(ReasonShutdown) {
		return
	}
	s.post(event{kind: evShutdown})
}

// Serve runs the call over the attached media stream until it ends. It
// returns the transport failure that ended the call, if any.
func (s *Session) Serve(ctx context.Context, telephony Telephony) error {
	if err := s.claim(telephony); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// Connect to the AI engine
	engine, err := s.deps.Dialer.Dial(ctx)
	if err != nil {
		s.logger.Error("Failed to connect to realtime engine", slog.String("error", err.Error()))
		s.fail(err)
		s.teardown(ReasonEngineFailure, true)
		return fmt.Errorf("failed to start call session: %w", err)
	}

	dispatcher := tools.NewDispatcher(tools.Config{
		Timeout:    s.config.ToolTimeout,
		MaxPending: s.config.MaxPending,
		Allowed:    s.config.EnabledTools,
		Location:   s.config.Location,
	}, s.deps.Handlers, s.deliver, tools.WithLogger(s.logger), tools.WithMetrics(s.metrics))

	s.mu.Lock()
	s.engine = engine
	s.dispatcher = dispatcher
	s.mu.Unlock()

	// Start moving audio
	b, err := bridge.Open(ctx, s.config.Bridge, s.info.CallID, engine, telephony,
		bridge.WithLogger(s.logger),
		bridge.WithMetrics(s.metrics),
		bridge.WithBargeInHandler(func() { s.tryPost(event{kind: evBargeIn, source: "vad"}) }),
	)
	if err != nil {
		s.fail(err)
		s.teardown(ReasonTransportError, true)
		return fmt.Errorf("failed to open audio bridge: %w", err)
	}
	s.mu.Lock()
	s.bridge = b
	s.mu.Unlock()

	if err := s.greet(ctx, engine); err != nil {
		s.logger.Error("Failed to greet caller", slog.String("error", err.Error()))
		s.fail(err)
		s.teardown(ReasonTransportError, true)
		return err
	}

	s.durationTimer = time.AfterFunc(s.config.MaxCallDuration, func() {
		s.post(event{kind: evMaxDuration})
	})

	engineDone := make(chan struct{})
	s.mu.Lock()
	s.engineDone = engineDone
	s.mu.Unlock()

	go s.readTelephony(telephony, b)
	go func() {
		defer close(engineDone)
		s.readEngine(ctx, engine, b)
	}()
	go s.watchBridge(b)

	s.logger.Info("Call session started",
		slog.String("from", s.info.From),
		slog.String("participant_status", string(s.Participant().Status)))

	s.loop(ctx)
	return s.Err()
}

func (s *Session) greet(ctx context.Context, engine Engine) error {
	s.setState(StateGreeting)

	p := s.Participant()
	if err := engine.UpdateSession(ctx, s.sessionUpdate(s.needsRole(p))); err != nil {
		return fmt.Errorf("failed to configure realtime session: %w", err)
	}

	greeting := Greeting(s.config.Brand, p)
	if err := engine.CreateResponse(ctx, &realtime.ResponseOptions{
		Instructions: greetingInstructions(greeting),
	}); err != nil {
		return fmt.Errorf("failed to request greeting: %w", err)
	}
	return nil
}

// needsRole reports whether the caller must be asked for a role. Returning
// callers are never asked.
func (s *Session) needsRole(p users.Participant) bool {
	return !p.HasRole() && !p.IsReturning()
}

func (s *Session) sessionUpdate(identifying bool) realtime.Session {
	instructions := s.config.Instructions
	if identifying {
		instructions = s.config.IdentifyInstructions
	}

	defs := tools.Definitions(s.config.EnabledTools)
	functions := make([]realtime.Tool, 0, len(defs))
	for _, def := range defs {
		functions = append(functions, realtime.Tool{
			Type:        "function",
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}

	session := realtime.Session{
		TurnDetection:     &realtime.TurnDetection{Type: "server_vad"},
		InputAudioFormat:  realtime.AudioFormatMuLaw,
		OutputAudioFormat: realtime.AudioFormatMuLaw,
		Voice:             s.config.Voice,
		Instructions:      instructions,
		Modalities:        []string{"text", "audio"},
		Temperature:       s.config.Temperature,
		Tools:             functions,
	}
	if s.config.TranscriptionModel != "" {
		session.InputAudioTranscription = &realtime.Transcription{Model: s.config.TranscriptionModel}
	}
	if len(functions) > 0 {
		session.ToolChoice = "auto"
	}
	return session
}

func (s *Session) loop(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			if s.handle(ctx, ev) {
				return
			}
		case <-ctx.Done():
			s.teardown(ReasonShutdown, false)
			return
		}
	}
}

// handle processes one event and reports whether the session has ended
func (s *Session) handle(ctx context.Context, ev event) bool {
	switch ev.kind {
	case evEngine:
		s.handleEngine(ctx, ev.engine)
	case evToolResult:
		s.complete(ctx, ev.inv)
	case evTransportError:
		s.logger.Error("Call transport failed", slog.String("error", ev.err.Error()))
		s.fail(ev.err)
		s.teardown(ReasonTransportError, true)
	case evHangup:
		s.close(ctx, ReasonCallerHangup)
	case evBargeIn:
		s.bargeIn(ctx, ev.source)
	case evIdentifyTimeout:
		if s.awaitingRole && ev.gen == s.identifyGen {
			s.logger.Debug("Role prompt went unanswered")
			s.unansweredPrompt(ctx)
		}
	case evMaxDuration:
		s.logger.Warn("Call reached maximum duration",
			slog.Duration("max_duration", s.config.MaxCallDuration))
		s.close(ctx, ReasonMaxDuration)
	case evShutdown:
		s.close(ctx, ReasonShutdown)
	}
	return s.State() == StateEnded
}

func (s *Session) handleEngine(ctx context.Context, ev realtime.ServerEvent) {
	switch ev.Type {
	case realtime.EventResponseCreated:
		s.responseID = ev.GetResponseID()
		s.responseActive = true
		if s.hangupRequested && s.hangupResponse == "" {
			s.hangupResponse = s.responseID
		}

	case realtime.EventResponseDone:
		id := ev.GetResponseID()
		if id == s.responseID {
			s.responseActive = false
		}
		if s.State() == StateGreeting {
			s.enterIdentifying(ctx)
		}
		if s.hangupRequested && id != "" && id == s.hangupResponse {
			s.close(ctx, ReasonAssistantHangup)
		}

	case realtime.EventAudioTranscriptDone:
		s.appendTurn(recorder.SpeakerAssistant, ev.Transcript, ev.ItemID)

	case realtime.EventInputTranscriptionDone:
		s.appendTurn(recorder.SpeakerCaller, ev.Transcript, ev.ItemID)
		s.callerTurn(ctx, ev.Transcript)

	case realtime.EventFunctionCallDone:
		s.dispatch(ctx, ev)

	case realtime.EventSpeechStarted:
		s.bargeIn(ctx, "engine")

	case realtime.EventError:
		if ev.Error != nil {
			s.logger.Warn("Realtime engine reported an error",
				slog.String("type", ev.Error.Type),
				slog.String("code", ev.Error.Code),
				slog.String("message", ev.Error.Message))
		}
	}
}

func (s *Session) appendTurn(speaker recorder.Speaker, text, itemID string) {
	err := s.recorder.Append(recorder.Turn{Speaker: speaker, Text: text, ItemID: itemID})
	if err != nil && !errors.Is(err, recorder.ErrEmptyTurn) {
		s.logger.Warn("Failed to record turn", slog.String("error", err.Error()))
	}
}

func (s *Session) record(inv tools.Invocation) {
	if err := s.recorder.AppendInvocation(inv); err != nil {
		s.logger.Warn("Failed to record tool invocation",
			slog.String("tool_call_id", inv.ID),
			slog.String("error", err.Error()))
	}
}

func (s *Session) enterIdentifying(ctx context.Context) {
	s.setState(StateIdentifying)

	p := s.Participant()
	if p.HasRole() {
		s.resolveRole(ctx, p.Role, sourceDirectory)
		return
	}
	if !s.needsRole(p) {
		s.settle()
		return
	}

	s.awaitingRole = true
	s.armIdentifyTimer()
}

func (s *Session) callerTurn(ctx context.Context, text string) {
	if s.State() == StateGreeting {
		s.enterIdentifying(ctx)
	}
	if !s.awaitingRole {
		return
	}

	if role := users.DetectRole(text); role != users.RoleUnknown {
		s.resolveRole(ctx, role, sourceCaller)
		return
	}
	s.unansweredPrompt(ctx)
}

func (s *Session) unansweredPrompt(ctx context.Context) {
	s.unanswered++
	if s.unanswered >= s.config.RolePromptLimit {
		s.logger.Info("Caller role not stated, defaulting to customer",
			slog.Int("prompts", s.unanswered))
		s.resolveRole(ctx, users.RoleCustomer, sourceTimeout)
		return
	}

	s.respond(ctx, reaskInstructions)
	s.armIdentifyTimer()
}

func (s *Session) armIdentifyTimer() {
	s.identifyGen++
	gen := s.identifyGen
	if s.identifyTimer != nil {
		s.identifyTimer.Stop()
	}
	s.identifyTimer = time.AfterFunc(s.config.IdentifyTimeout, func() {
		s.post(event{kind: evIdentifyTimeout, gen: gen})
	})
}

// resolveRole fixes the caller's role. The first resolution wins.
func (s *Session) resolveRole(ctx context.Context, role users.Role, source string) {
	identifying := s.awaitingRole
	s.awaitingRole = false
	s.identifyGen++
	if s.identifyTimer != nil {
		s.identifyTimer.Stop()
	}

	s.mu.Lock()
	if s.participant.Role == users.RoleUnknown {
		s.participant.Role = role
	}
	role = s.participant.Role
	phone := s.participant.Phone
	engine := s.engine
	s.mu.Unlock()

	s.metrics.RecordRoleResolution(source)
	s.logger.Info("Caller role resolved",
		slog.String("role", string(role)),
		slog.String("source", source))

	if identifying && engine != nil {
		if err := engine.UpdateSession(ctx, s.sessionUpdate(false)); err != nil {
			s.logger.Warn("Failed to update realtime session", slog.String("error", err.Error()))
		}
	}

	switch source {
	case sourceCaller:
		s.persistRole(ctx, phone, role)
		s.respond(ctx, thankRoleInstructions(role))
	case sourceTimeout:
		s.appendTurn(recorder.SpeakerSystem,
			fmt.Sprintf("%s after %d prompts; role defaulted to %s", ErrStateTimeout, s.unanswered, role), "")
		s.respond(ctx, continueInstructions)
	}

	s.settle()
}

// persistRole stores a caller-stated role without holding up the call
func (s *Session) persistRole(ctx context.Context, phone string, role users.Role) {
	if s.deps.Directory == nil || phone == "" {
		return
	}

	go func() {
		regCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.LookupTimeout)
		defer cancel()

		res, err := s.deps.Directory.Register(regCtx, phone, role)
		if err != nil {
			s.logger.Warn("Failed to persist caller role",
				slog.String("role", string(role)),
				slog.String("error", err.Error()))
			return
		}
		s.logger.Debug("Caller role persisted",
			slog.String("role", string(role)),
			slog.String("result", string(res)))
	}()
}

// settle returns to the conversing states once identification is over
func (s *Session) settle() {
	state := s.State()
	if state == StateClosing || state == StateEnded {
		return
	}
	switch {
	case s.awaitingRole && len(s.pending) == 0:
		s.setState(StateIdentifying)
	case len(s.pending) > 0:
		s.setState(StateToolPending)
	default:
		s.setState(StateConversing)
	}
}

func (s *Session) respond(ctx context.Context, instructions string) {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		return
	}
	if err := engine.CreateResponse(ctx, &realtime.ResponseOptions{Instructions: instructions}); err != nil {
		s.logger.Warn("Failed to request response", slog.String("error", err.Error()))
	}
}

func (s *Session) dispatch(ctx context.Context, ev realtime.ServerEvent) {
	s.mu.RLock()
	dispatcher := s.dispatcher
	participant := s.participant
	s.mu.RUnlock()

	inv, err := dispatcher.Dispatch(ctx, tools.Request{
		CallID:    ev.CallID,
		ItemID:    ev.ItemID,
		Name:      ev.Name,
		Arguments: ev.Arguments,
	}, participant)

	switch {
	case errors.Is(err, tools.ErrDispatcherClosed):
		return
	case errors.Is(err, tools.ErrAlreadyProcessing):
		// the original invocation stays the only record of this id
		s.inject(ctx, inv)
		return
	}

	s.logger.Info("Tool call dispatched",
		slog.String("tool_call_id", inv.ID),
		slog.String("tool", inv.Name),
		slog.String("status", string(inv.Status)))

	if inv.Status == tools.StatusPending {
		s.pending[inv.ID] = true
		s.setState(StateToolPending)
		return
	}
	s.complete(ctx, inv)
}

// deliver receives terminal invocations from the dispatcher
func (s *Session) deliver(inv tools.Invocation) {
	s.post(event{kind: evToolResult, inv: inv})
}

func (s *Session) complete(ctx context.Context, inv tools.Invocation) {
	delete(s.pending, inv.ID)
	s.record(inv)
	s.inject(ctx, inv)

	if inv.Status == tools.StatusCompleted {
		switch inv.Args.(type) {
		case tools.RegisterRoleArgs:
			if r, ok := inv.Result.(tools.RoleResult); ok && !s.Participant().HasRole() {
				s.resolveRole(ctx, r.Role, sourceTool)
			}
		case tools.EndCallArgs:
			s.hangupRequested = true
		}
	}

	s.settle()
}

// inject hands a tool result back to the engine and asks for a follow-up
func (s *Session) inject(ctx context.Context, inv tools.Invocation) {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	if err := engine.SendFunctionOutput(ctx, inv.ID, inv.Output()); err != nil {
		s.logger.Warn("Failed to send tool result",
			slog.String("tool_call_id", inv.ID),
			slog.String("error", err.Error()))
		return
	}
	s.respond(ctx, inv.Instructions)
}

func (s *Session) bargeIn(ctx context.Context, source string) {
	s.mu.RLock()
	b, engine := s.bridge, s.engine
	s.mu.RUnlock()
	if b == nil {
		return
	}
	if !s.responseActive && !b.PlaybackActive() {
		return
	}

	playing := b.Interrupt(s.responseID)
	if s.responseActive {
		if err := engine.CancelResponse(ctx); err != nil {
			s.logger.Warn("Failed to cancel response", slog.String("error", err.Error()))
		}
		s.responseActive = false
	}

	if source != "vad" {
		s.metrics.RecordBargeIn(source)
	}
	s.logger.Debug("Caller barged in",
		slog.String("source", source),
		slog.String("response_id", s.responseID),
		slog.Bool("playback_active", playing))
}

func (s *Session) close(ctx context.Context, reason string) {
	s.setState(StateClosing)

	if reason == ReasonAssistantHangup && s.deps.Control != nil {
		hangupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		go func() {
			defer cancel()
			if err := s.deps.Control.Hangup(hangupCtx, s.info.CallID); err != nil {
				s.logger.Warn("Failed to hang up call", slog.String("error", err.Error()))
			}
		}()
	}

	s.teardown(reason, false)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// teardown is the single exit path of a session
func (s *Session) teardown(reason string, partial bool) {
	s.endOnce.Do(func() {
		close(s.stopping)

		if s.identifyTimer != nil {
			s.identifyTimer.Stop()
		}
		if s.durationTimer != nil {
			s.durationTimer.Stop()
		}

		s.mu.RLock()
		b, dispatcher, engine, telephony, cancel := s.bridge, s.dispatcher, s.engine, s.telephony, s.cancel
		engineDone := s.engineDone
		s.mu.RUnlock()

		s.flushPending(engine, engineDone)

		if b != nil {
			b.Close()
		}

		// Outstanding tool calls end as canceled
		if dispatcher != nil {
			for _, inv := range dispatcher.Close() {
				s.record(inv)
			}
		}
		s.drainResults()

		if engine != nil {
			engine.Close()
		}
		if telephony != nil {
			telephony.Close()
		}
		if cancel != nil {
			cancel()
		}

		endedAt := time.Now()
		snapshot := s.recorder.Snapshot(endedAt, reason, partial)

		s.mu.Lock()
		s.state = StateEnded
		s.endedAt = endedAt
		s.endReason = reason
		participant := s.participant
		s.mu.Unlock()

		if s.deps.Pipeline != nil {
			if err := s.deps.Pipeline.Submit(snapshot, participant); err != nil {
				s.logger.Error("Failed to submit call for post-call processing",
					slog.String("error", err.Error()))
			}
		}

		s.metrics.RecordCallEnded(endedAt.Sub(s.createdAt).Seconds())
		s.logger.Info("Call session ended",
			slog.String("reason", reason),
			slog.Bool("partial", partial),
			slog.Int("entries", len(snapshot.Entries)),
			slog.Duration("duration", endedAt.Sub(s.createdAt)))

		if s.retire != nil {
			s.retire(s)
		}
		close(s.done)
	})
}

// flushPending records the turns and tool results that arrived before the
// session stopped. The engine reader is waited for so events it already took
// from the engine still land in order, then the engine backlog is read.
func (s *Session) flushPending(engine Engine, engineDone <-chan struct{}) {
	if engineDone != nil {
		for waiting := true; waiting; {
			select {
			case ev := <-s.events:
				s.keep(ev)
			case <-engineDone:
				waiting = false
			}
		}
	}
	s.drainResults()

	if engine == nil {
		return
	}
	events := engine.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.keep(event{kind: evEngine, engine: ev})
		default:
			return
		}
	}
}

// keep records what a queued event contributes to the log without acting on it
func (s *Session) keep(ev event) {
	switch ev.kind {
	case evToolResult:
		s.record(ev.inv)
	case evEngine:
		switch ev.engine.Type {
		case realtime.EventAudioTranscriptDone:
			s.appendTurn(recorder.SpeakerAssistant, ev.engine.Transcript, ev.engine.ItemID)
		case realtime.EventInputTranscriptionDone:
			s.appendTurn(recorder.SpeakerCaller, ev.engine.Transcript, ev.engine.ItemID)
		}
	}
}

// drainResults records whatever is still queued for the loop
func (s *Session) drainResults() {
	for {
		select {
		case ev := <-s.events:
			s.keep(ev)
		default:
			return
		}
	}
}

// post queues an event for the loop, giving up once the session is ending
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.stopping:
	}
}

// tryPost queues an event without blocking
func (s *Session) tryPost(ev event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("Session event queue full, event dropped")
	}
}

func (s *Session) readTelephony(telephony Telephony, b *bridge.Bridge) {
	for {
		ev, err := telephony.ReadEvent()
		if err != nil {
			select {
			case <-s.stopping:
				return
			default:
			}
			if streamClosed(err) {
				s.post(event{kind: evHangup})
				return
			}
			s.post(event{kind: evTransportError, err: &bridge.TransportError{Endpoint: bridge.EndpointCaller, Err: err}})
			return
		}

		switch ev.Event {
		case protocol.EventMedia:
			payload, err := ev.Audio()
			if err != nil || len(payload) == 0 {
				continue
			}
			seq, ok := ev.Sequence()
			err = b.Forward(bridge.Frame{
				Direction: bridge.Inbound,
				Seq:       seq,
				HasSeq:    ok,
				Payload:   payload,
			})
			if errors.Is(err, bridge.ErrClosed) {
				return
			}

		case protocol.EventStart:
			s.logger.Info("Media stream started", slog.String("stream_id", ev.GetStreamID()))

		case protocol.EventDTMF:
			if ev.DTMF != nil {
				s.logger.Debug("DTMF received", slog.String("digit", ev.DTMF.Digit))
			}

		default:
			if ev.IsTerminal() {
				s.logger.Info("Caller hung up", slog.String("event", ev.Event))
				s.post(event{kind: evHangup})
				return
			}
		}
	}
}

func streamClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

func (s *Session) readEngine(ctx context.Context, engine Engine, b *bridge.Bridge) {
	events := engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopping:
			return
		case ev, ok := <-events:
			if !ok {
				select {
				case <-s.stopping:
					return
				default:
				}
				err := engine.Err()
				if err == nil {
					err = realtime.ErrClosed
				}
				s.post(event{kind: evTransportError, err: &bridge.TransportError{Endpoint: bridge.EndpointEngine, Err: err}})
				return
			}

			if ev.Type == realtime.EventAudioDelta {
				if len(ev.Audio) == 0 {
					continue
				}
				err := b.Forward(bridge.Frame{
					Direction:  bridge.Outbound,
					ResponseID: ev.GetResponseID(),
					Payload:    ev.Audio,
				})
				if errors.Is(err, bridge.ErrClosed) {
					return
				}
				continue
			}

			// Teardown drains the queue until this reader exits, so the
			// hand-off cannot be lost once the session is stopping.
			s.events <- event{kind: evEngine, engine: ev}
		}
	}
}

func (s *Session) watchBridge(b *bridge.Bridge) {
	<-b.Done()
	if err := b.Err(); err != nil {
		s.post(event{kind: evTransportError, err: err})
	}
}
