package tools

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/schedule"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/search"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

type collector struct {
	mu   sync.Mutex
	invs []Invocation
	ch   chan Invocation
}

func newCollector() *collector {
	return &collector{ch: make(chan Invocation, 16)}
}

func (c *collector) deliver(inv Invocation) {
	c.mu.Lock()
	c.invs = append(c.invs, inv)
	c.mu.Unlock()
	c.ch <- inv
}

func (c *collector) next(t *testing.T) Invocation {
	t.Helper()
	select {
	case inv := <-c.ch:
		return inv
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a terminal invocation")
		return Invocation{}
	}
}

type fakeSearch struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeSearch) Search(ctx context.Context, query string) (search.Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return search.Result{}, f.err
	}
	return search.Result{Query: query, Answer: "Found " + query}, nil
}

type fakeScheduler struct {
	available bool
	block     bool
	booked    []string
}

func (f *fakeScheduler) IsAvailable(ctx context.Context, start time.Time) (bool, error) {
	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.available, nil
}

func (f *fakeScheduler) AvailableSlots(ctx context.Context) ([]time.Time, error) {
	return []time.Time{time.Date(2025, 5, 16, 9, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeScheduler) Book(ctx context.Context, start time.Time, email string) (schedule.Booking, error) {
	f.booked = append(f.booked, email)
	return schedule.Booking{Start: start, Email: email, Booked: true, Link: "https://cal/1"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDispatcher(b Backends, timeout time.Duration, c *collector) *Dispatcher {
	return NewDispatcher(Config{Timeout: timeout, MaxPending: 1, Location: time.UTC},
		b.Handlers(), c.deliver, WithLogger(testLogger()))
}

var caller = users.Participant{Phone: "+919800000001", Status: users.StatusNotFound}

func TestDispatchCompletesAsynchronously(t *testing.T) {
	c := newCollector()
	s := &fakeSearch{}
	d := newTestDispatcher(Backends{Search: s}, time.Second, c)

	inv, err := d.Dispatch(context.Background(), Request{CallID: "call_1", ItemID: "item_1",
		Name: ToolSearchProducts, Arguments: `{"query":"bearing"}`}, caller)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if inv.Status != StatusPending {
		t.Errorf("Expected pending invocation, got %s", inv.Status)
	}

	done := c.next(t)
	if done.Status != StatusCompleted || done.Result != "Found bearing" {
		t.Errorf("Expected completed search, got %+v", done)
	}
	if done.Instructions == "" {
		t.Errorf("Expected follow-up instructions")
	}
	if d.Pending() != 0 {
		t.Errorf("Expected no pending invocations, got %d", d.Pending())
	}
}

func TestDuplicateCallIDIsRejected(t *testing.T) {
	c := newCollector()
	s := &fakeSearch{}
	d := newTestDispatcher(Backends{Search: s}, time.Second, c)
	req := Request{CallID: "call_1", Name: ToolSearchProducts, Arguments: `{"query":"bolt"}`}

	d.Dispatch(context.Background(), req, caller)

	dup, err := d.Dispatch(context.Background(), req, caller)
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Errorf("Expected ErrAlreadyProcessing while pending, got %v", err)
	}
	if dup.Status != StatusFailed || !errors.Is(dup.Err, ErrAlreadyProcessing) {
		t.Errorf("Expected failed duplicate, got %+v", dup)
	}

	c.next(t)

	if _, err := d.Dispatch(context.Background(), req, caller); !errors.Is(err, ErrAlreadyProcessing) {
		t.Errorf("Expected ErrAlreadyProcessing after completion, got %v", err)
	}

	if calls := s.calls.Load(); calls != 1 {
		t.Errorf("Expected exactly one backend call, got %d", calls)
	}
	if stats := d.GetStats(); stats.Duplicates != 2 || stats.Completed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestInvalidCallFailsImmediately(t *testing.T) {
	c := newCollector()
	s := &fakeSearch{}
	d := newTestDispatcher(Backends{Search: s}, time.Second, c)

	inv, err := d.Dispatch(context.Background(), Request{CallID: "call_1", Name: "drop_tables", Arguments: `{}`}, caller)
	if err != nil {
		t.Fatalf("Expected a failed invocation, not an error: %v", err)
	}
	if inv.Status != StatusFailed || !errors.Is(inv.Err, ErrInvalidToolCall) {
		t.Errorf("Expected InvalidToolCall, got %+v", inv)
	}
	if s.calls.Load() != 0 {
		t.Errorf("Expected no backend call")
	}
}

func TestMissingBackendIsInvalid(t *testing.T) {
	d := newTestDispatcher(Backends{}, time.Second, newCollector())

	inv, _ := d.Dispatch(context.Background(), Request{CallID: "call_1", Name: ToolLookupCaller}, caller)
	if !errors.Is(inv.Err, ErrInvalidToolCall) {
		t.Errorf("Expected InvalidToolCall for unbound kind, got %v", inv.Err)
	}
}

func TestPendingLimit(t *testing.T) {
	c := newCollector()
	s := &fakeSearch{delay: 100 * time.Millisecond}
	d := newTestDispatcher(Backends{Search: s}, time.Second, c)

	d.Dispatch(context.Background(), Request{CallID: "call_1", Name: ToolSearchProducts, Arguments: `{"query":"a"}`}, caller)
	inv, err := d.Dispatch(context.Background(), Request{CallID: "call_2", Name: ToolSearchProducts, Arguments: `{"query":"b"}`}, caller)

	if err != nil {
		t.Fatalf("Expected a failed invocation, not an error: %v", err)
	}
	if inv.Status != StatusFailed || !errors.Is(inv.Err, ErrAlreadyProcessing) {
		t.Errorf("Expected AlreadyProcessing at capacity, got %+v", inv)
	}

	c.next(t)
	if s.calls.Load() != 1 {
		t.Errorf("Expected one backend call, got %d", s.calls.Load())
	}
}

func TestBackendTimeout(t *testing.T) {
	c := newCollector()
	d := newTestDispatcher(Backends{Schedule: &fakeScheduler{block: true}}, 50*time.Millisecond, c)

	d.Dispatch(context.Background(), Request{CallID: "call_1", Name: ToolCheckSlot,
		Arguments: `{"proposed_time":"2030-01-01T10:00:00"}`}, caller)

	inv := c.next(t)
	if inv.Status != StatusFailed || !errors.Is(inv.Err, ErrBackendTimeout) {
		t.Errorf("Expected BackendTimeout, got %+v", inv)
	}
	if ErrorKind(inv.Err) != "backend_timeout" {
		t.Errorf("Expected backend_timeout kind, got %s", ErrorKind(inv.Err))
	}
}

func TestLateResultIsDiscarded(t *testing.T) {
	c := newCollector()
	s := &fakeSearch{delay: 200 * time.Millisecond}
	d := newTestDispatcher(Backends{Search: s}, 30*time.Millisecond, c)

	d.Dispatch(context.Background(), Request{CallID: "call_1", Name: ToolSearchProducts, Arguments: `{"query":"slow"}`}, caller)

	inv := c.next(t)
	if !errors.Is(inv.Err, ErrBackendTimeout) {
		t.Fatalf("Expected timeout, got %+v", inv)
	}

	select {
	case extra := <-c.ch:
		t.Errorf("Expected late result to be discarded, got %+v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBackendError(t *testing.T) {
	c := newCollector()
	cause := errors.New("qdrant unavailable")
	d := newTestDispatcher(Backends{Search: &fakeSearch{err: cause}}, time.Second, c)

	d.Dispatch(context.Background(), Request{CallID: "call_1", Name: ToolSearchProducts, Arguments: `{"query":"x"}`}, caller)

	inv := c.next(t)
	if !errors.Is(inv.Err, ErrBackendError) || !errors.Is(inv.Err, cause) {
		t.Errorf("Expected wrapped BackendError, got %v", inv.Err)
	}
}

func TestCloseCancelsPending(t *testing.T) {
	c := newCollector()
	d := newTestDispatcher(Backends{Schedule: &fakeScheduler{block: true}}, 5*time.Second, c)

	d.Dispatch(context.Background(), Request{CallID: "call_1", Name: ToolCheckSlot,
		Arguments: `{"proposed_time":"2030-01-01T10:00:00"}`}, caller)

	canceled := d.Close()
	if len(canceled) != 1 || canceled[0].ID != "call_1" || !errors.Is(canceled[0].Err, ErrCanceled) {
		t.Fatalf("Expected one canceled invocation, got %+v", canceled)
	}

	select {
	case inv := <-c.ch:
		t.Errorf("Expected no delivery after close, got %+v", inv)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := d.Dispatch(context.Background(), Request{CallID: "call_2", Name: ToolAvailableSlots}, caller); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Expected ErrDispatcherClosed, got %v", err)
	}
	if again := d.Close(); again != nil {
		t.Errorf("Expected second close to return nothing, got %+v", again)
	}
}

func TestEndCallNeedsNoBackend(t *testing.T) {
	d := newTestDispatcher(Backends{}, time.Second, newCollector())

	inv, err := d.Dispatch(context.Background(), Request{CallID: "call_1", Name: ToolEndCall, Arguments: `{"reason":"done"}`}, caller)
	if err != nil || inv.Status != StatusCompleted {
		t.Errorf("Expected completed end_call, got %+v (%v)", inv, err)
	}
	if inv.Args.(EndCallArgs).Reason != "done" {
		t.Errorf("Expected reason to be kept")
	}
}

func TestCheckSlotAutoBooksWithDefaultEmail(t *testing.T) {
	c := newCollector()
	sched := &fakeScheduler{available: true}
	d := newTestDispatcher(Backends{Schedule: sched, DefaultEmail: "customer@example.com", AutoBook: true}, time.Second, c)

	d.Dispatch(context.Background(), Request{CallID: "call_1", Name: ToolCheckSlot,
		Arguments: `{"proposed_time":"2030-01-01T10:00:00"}`}, caller)

	inv := c.next(t)
	result, ok := inv.Result.(schedule.Availability)
	if !ok || !result.Available || result.Booking == nil || !result.Booking.Booked {
		t.Fatalf("Expected available and booked result, got %+v", inv.Result)
	}
	if len(sched.booked) != 1 || sched.booked[0] != "customer@example.com" {
		t.Errorf("Expected booking with default email, got %v", sched.booked)
	}
}

func TestBookUsesRegisteredEmail(t *testing.T) {
	c := newCollector()
	sched := &fakeScheduler{available: true}
	d := newTestDispatcher(Backends{Schedule: sched, DefaultEmail: "customer@example.com"}, time.Second, c)
	known := users.Participant{Phone: "+91", Email: "ravi@example.com", Status: users.StatusSuccess}

	d.Dispatch(context.Background(), Request{CallID: "call_1", Name: ToolBookAppointment,
		Arguments: `{"proposed_time":"2030-01-01T10:00:00","email":"other@example.com"}`}, known)

	c.next(t)
	if len(sched.booked) != 1 || sched.booked[0] != "ravi@example.com" {
		t.Errorf("Expected registered email to win, got %v", sched.booked)
	}
}

func TestRegisterRole(t *testing.T) {
	c := newCollector()
	dir := users.NewMemoryDirectory()
	d := newTestDispatcher(Backends{Users: dir}, time.Second, c)

	d.Dispatch(context.Background(), Request{CallID: "call_1", Name: ToolRegisterRole, Arguments: `{"role":"customer"}`}, caller)

	inv := c.next(t)
	result, ok := inv.Result.(RoleResult)
	if !ok || result.Role != users.RoleCustomer || result.Status != string(users.RegisterCreated) {
		t.Errorf("Expected created customer, got %+v", inv.Result)
	}

	p, _ := dir.Lookup(context.Background(), caller.Phone)
	if p.Role != users.RoleCustomer {
		t.Errorf("Expected directory to store the role, got %+v", p)
	}
}
