package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/metrics"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

// Outcome is what a handler returns for a completed call
type Outcome struct {
	Result       any
	Instructions string
}

// Handler runs the backend call of one kind. It should honour ctx; a
// result that arrives after the deadline is discarded.
type Handler func(ctx context.Context, args Args, participant users.Participant) (Outcome, error)

// Config holds dispatcher policy
type Config struct {
	Timeout    time.Duration
	MaxPending int
	Allowed    []Kind
	Location   *time.Location
}

// Stats represents dispatcher statistics for monitoring
type Stats struct {
	Dispatched int `json:"dispatched"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
	Pending    int `json:"pending"`
}

// Option customises a dispatcher
type Option func(*Dispatcher)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

type pendingCall struct {
	inv    Invocation
	cancel context.CancelFunc
}

// Dispatcher validates tool calls and runs each on its kind's handler in
// the background. Terminal invocations are handed to the deliver callback
// exactly once per correlation id.
type Dispatcher struct {
	config   Config
	decoder  Decoder
	handlers map[Kind]Handler
	deliver  func(Invocation)
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.Mutex
	seen    map[string]bool
	pending map[string]*pendingCall
	closed  bool
	stats   Stats
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. deliver is called from a background
// goroutine for every invocation that reaches its terminal status after
// Dispatch returned.
func NewDispatcher(config Config, handlers map[Kind]Handler, deliver func(Invocation), opts ...Option) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = 8 * time.Second
	}
	if config.MaxPending <= 0 {
		config.MaxPending = 1
	}

	d := &Dispatcher{
		config:   config,
		decoder:  NewDecoder(config.Allowed, config.Location),
		handlers: handlers,
		deliver:  deliver,
		logger:   slog.Default(),
		now:      time.Now,
		seen:     make(map[string]bool),
		pending:  make(map[string]*pendingCall),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch accepts a tool call. It returns:
//   - ErrAlreadyProcessing with a failed invocation for a correlation id seen
//     before; no backend is called and the invocation is not a new record
//   - a failed invocation for invalid calls or when the pending limit is hit
//   - a completed invocation for calls that need no backend
//   - a pending invocation otherwise; its terminal form arrives via deliver
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, participant users.Participant) (Invocation, error) {
	inv := Invocation{
		ID:        req.CallID,
		ItemID:    req.ItemID,
		Name:      req.Name,
		Status:    StatusPending,
		StartedAt: d.now(),
	}
	if def, ok := Lookup(req.Name); ok {
		inv.Kind = def.Kind
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return inv, ErrDispatcherClosed
	}
	if req.CallID == "" {
		d.mu.Unlock()
		return d.fail(inv, fmt.Errorf("%w: missing call id", ErrInvalidToolCall)), nil
	}
	if d.seen[req.CallID] {
		d.stats.Duplicates++
		d.mu.Unlock()
		d.logger.Warn("Duplicate tool call rejected",
			slog.String("call_id", req.CallID),
			slog.String("tool", req.Name))
		return d.finish(inv, StatusFailed, Outcome{}, ErrAlreadyProcessing), ErrAlreadyProcessing
	}
	d.seen[req.CallID] = true
	d.stats.Dispatched++
	d.mu.Unlock()

	args, err := d.decoder.Decode(req.Name, req.Arguments)
	if err != nil {
		return d.fail(inv, err), nil
	}
	inv.Args = args
	inv.Kind = args.Kind()

	if inv.Kind == KindHangup {
		out := d.finish(inv, StatusCompleted, Outcome{
			Result:       map[string]string{"status": "ending_call"},
			Instructions: "Thank the caller for calling, say goodbye briefly and end the conversation.",
		}, nil)
		d.record(out)
		return out, nil
	}

	handler := d.handlers[inv.Kind]
	if handler == nil {
		return d.fail(inv, fmt.Errorf("%w: no backend for kind '%s'", ErrInvalidToolCall, inv.Kind)), nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return d.fail(inv, ErrCanceled), nil
	}
	if len(d.pending) >= d.config.MaxPending {
		d.mu.Unlock()
		return d.fail(inv, fmt.Errorf("%w: %d tool calls outstanding", ErrAlreadyProcessing, d.config.MaxPending)), nil
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.Timeout)
	d.pending[inv.ID] = &pendingCall{inv: inv, cancel: cancel}
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(callCtx, cancel, handler, inv, participant)

	return inv, nil
}

func (d *Dispatcher) run(ctx context.Context, cancel context.CancelFunc, handler Handler, inv Invocation, participant users.Participant) {
	defer d.wg.Done()
	defer cancel()

	type reply struct {
		out Outcome
		err error
	}
	replies := make(chan reply, 1)
	go func() {
		out, err := handler(ctx, inv.Args, participant)
		replies <- reply{out: out, err: err}
	}()

	var terminal Invocation
	select {
	case r := <-replies:
		switch {
		case r.err == nil:
			terminal = d.finish(inv, StatusCompleted, r.out, nil)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			terminal = d.finish(inv, StatusFailed, Outcome{}, fmt.Errorf("%w: %v", ErrBackendTimeout, r.err))
		default:
			terminal = d.finish(inv, StatusFailed, Outcome{}, fmt.Errorf("%w: %w", ErrBackendError, r.err))
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			terminal = d.finish(inv, StatusFailed, Outcome{},
				fmt.Errorf("%w: no answer within %s", ErrBackendTimeout, d.config.Timeout))
		} else {
			terminal = d.finish(inv, StatusFailed, Outcome{}, ErrCanceled)
		}
	}

	d.mu.Lock()
	if _, ok := d.pending[inv.ID]; !ok {
		// finalised by Close
		d.mu.Unlock()
		return
	}
	delete(d.pending, inv.ID)
	d.mu.Unlock()

	d.record(terminal)
	if terminal.Status == StatusFailed {
		d.logger.Warn("Tool call failed",
			slog.String("call_id", inv.ID),
			slog.String("tool", inv.Name),
			slog.String("error", terminal.Err.Error()))
	}

	if d.deliver != nil {
		d.deliver(terminal)
	}
}

// fail finalises an invocation that never reached a backend
func (d *Dispatcher) fail(inv Invocation, err error) Invocation {
	out := d.finish(inv, StatusFailed, Outcome{}, err)
	d.record(out)
	return out
}

func (d *Dispatcher) finish(inv Invocation, status Status, out Outcome, err error) Invocation {
	inv.Status = status
	inv.FinishedAt = d.now()
	inv.Result = out.Result
	inv.Instructions = out.Instructions
	inv.Err = err
	if status == StatusFailed && inv.Instructions == "" {
		inv.Instructions = failureInstructions(inv)
	}
	return inv
}

func (d *Dispatcher) record(inv Invocation) {
	d.mu.Lock()
	if inv.Status == StatusCompleted {
		d.stats.Completed++
	} else {
		d.stats.Failed++
	}
	d.mu.Unlock()

	d.metrics.RecordToolInvocation(string(inv.Kind), string(inv.Status), inv.Duration().Seconds())
}

// Pending returns the number of outstanding invocations
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close cancels every outstanding wait and returns those invocations
// finalised as failed with ErrCanceled, oldest first. Their late results
// are discarded and deliver is not called for them.
func (d *Dispatcher) Close() []Invocation {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true

	canceled := make([]Invocation, 0, len(d.pending))
	for id, p := range d.pending {
		p.cancel()
		canceled = append(canceled, d.finish(p.inv, StatusFailed, Outcome{}, ErrCanceled))
		delete(d.pending, id)
	}
	d.mu.Unlock()

	d.wg.Wait()

	sort.Slice(canceled, func(i, j int) bool { return canceled[i].StartedAt.Before(canceled[j].StartedAt) })
	for _, inv := range canceled {
		d.record(inv)
	}
	return canceled
}

// GetStats returns dispatcher statistics
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := d.stats
	stats.Pending = len(d.pending)
	return stats
}
