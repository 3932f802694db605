package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/document"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/plivo"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/recorder"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/storage"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/summary"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/tools"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

var callStart = time.Date(2025, 5, 15, 10, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeWriter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (w *fakeWriter) Write(ctx context.Context, snap recorder.Snapshot) (summary.Summary, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return summary.Summary{}, w.err
	}
	return summary.Summary{
		SessionID: snap.SessionID,
		Text:      "Product Inquiry Summary\nDate: 15 May 2025\n\n" + snap.Transcript(),
		Source:    summary.SourceModel,
		CreatedAt: snap.EndedAt,
	}, nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

type sent struct {
	dst    string
	params []string
	text   string
}

type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sent
	attempts int
	failures []error
}

func (m *fakeMessenger) next() error {
	m.attempts++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}
	return nil
}

func (m *fakeMessenger) SendTemplate(ctx context.Context, dst string, params []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.next(); err != nil {
		return "", err
	}
	m.sent = append(m.sent, sent{dst: dst, params: params})
	return "msg-template", nil
}

func (m *fakeMessenger) SendText(ctx context.Context, dst, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.next(); err != nil {
		return "", err
	}
	m.sent = append(m.sent, sent{dst: dst, text: text})
	return "msg-text", nil
}

func (m *fakeMessenger) messages() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.sent...)
}

func testConfig() Config {
	return Config{
		Workers:       2,
		Timeout:       5 * time.Second,
		MaxRetries:    3,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    5 * time.Millisecond,
		StoragePrefix: "calls",
		PortalURL:     "https://portal.example.com/?phonenumber=%s",
	}
}

type harness struct {
	pipeline  *Pipeline
	writer    *fakeWriter
	messenger *fakeMessenger
	store     *storage.MemoryStore
	ledger    *MemoryLedger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		writer:    &fakeWriter{},
		messenger: &fakeMessenger{},
		store:     storage.NewMemoryStore("https://files.example.com"),
		ledger:    NewMemoryLedger(),
	}
	h.pipeline = New(quietLogger(), testConfig(), Dependencies{
		Writer:    h.writer,
		Renderer:  document.NewRenderer("Technvi AI"),
		Store:     h.store,
		Messenger: h.messenger,
		Ledger:    h.ledger,
	})
	return h
}

func searchSnapshot(sessionID string) recorder.Snapshot {
	r := recorder.New(sessionID, "+919876543210", callStart)
	r.Append(recorder.Turn{Speaker: recorder.SpeakerCaller, Text: "Do you have centrifugal pumps?"})
	r.AppendInvocation(tools.Invocation{
		ID:     "c1",
		Name:   tools.ToolSearchProducts,
		Kind:   tools.KindSearch,
		Args:   tools.SearchArgs{Query: "centrifugal pump"},
		Status: tools.StatusCompleted,
		Result: "PUMP CENTRIFUGAL 1HP costs INR 5400",
	})
	r.Append(recorder.Turn{Speaker: recorder.SpeakerAssistant, Text: "Yes, the 1HP pump costs INR 5400."})
	return r.Snapshot(callStart.Add(2*time.Minute), "caller_hangup", false)
}

var caller = users.Participant{Phone: "+919876543210", Status: users.StatusSuccess, Role: users.RoleCustomer}

func TestRunDeliversTemplateWithDocument(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.pipeline.Run(context.Background(), searchSnapshot("call-1"), caller)
	if err != nil {
		t.Fatalf("Failed to run pipeline: %v", err)
	}
	if outcome != OutcomeDelivered {
		t.Errorf("Expected delivered, got %s", outcome)
	}

	msgs := h.messenger.messages()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	want := []string{
		"files.example.com/calls/call-1/summary.pdf",
		"portal.example.com/?phonenumber=+919876543210",
	}
	if msgs[0].dst != "+919876543210" || len(msgs[0].params) != 2 || msgs[0].params[0] != want[0] || msgs[0].params[1] != want[1] {
		t.Errorf("Expected template to %s with %v, got %+v", caller.Phone, want, msgs[0])
	}

	doc, ok := h.store.Get("calls/call-1/summary.pdf")
	if !ok || !strings.HasPrefix(string(doc), "%PDF-") {
		t.Error("Expected stored PDF document")
	}

	rec, found, _ := h.ledger.Load(context.Background(), "call-1")
	if !found || !rec.Delivered || rec.MessageID != "msg-template" {
		t.Errorf("Expected delivered record, got %+v", rec)
	}
}

func TestSummaryReferencesSearchResult(t *testing.T) {
	h := newHarness(t)

	h.pipeline.Run(context.Background(), searchSnapshot("call-1"), caller)

	rec, _, _ := h.ledger.Load(context.Background(), "call-1")
	if rec.Summary == nil || !strings.Contains(rec.Summary.Text, "PUMP CENTRIFUGAL 1HP costs INR 5400") {
		t.Errorf("Expected summary to reference the search result, got %+v", rec.Summary)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	snap := searchSnapshot("call-1")

	if _, err := h.pipeline.Run(context.Background(), snap, caller); err != nil {
		t.Fatalf("Failed first run: %v", err)
	}
	first, _, _ := h.ledger.Load(context.Background(), "call-1")

	outcome, err := h.pipeline.Run(context.Background(), snap, caller)
	if err != nil {
		t.Fatalf("Failed second run: %v", err)
	}
	if outcome != OutcomeAlreadyDelivered {
		t.Errorf("Expected already_delivered, got %s", outcome)
	}
	if n := len(h.messenger.messages()); n != 1 {
		t.Errorf("Expected exactly 1 notification, got %d", n)
	}
	if h.writer.count() != 1 || h.store.Puts() != 1 {
		t.Errorf("Expected one generation and one upload, got %d and %d", h.writer.count(), h.store.Puts())
	}

	second, _, _ := h.ledger.Load(context.Background(), "call-1")
	if second.Summary.Text != first.Summary.Text {
		t.Error("Expected equivalent summary content across runs")
	}
}

func TestConcurrentRunsSendOnce(t *testing.T) {
	h := newHarness(t)
	snap := searchSnapshot("call-1")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pipeline.Run(context.Background(), snap, caller)
		}()
	}
	wg.Wait()

	if n := len(h.messenger.messages()); n != 1 {
		t.Errorf("Expected exactly 1 notification, got %d", n)
	}
}

func TestTransientDeliveryFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	h.messenger.failures = []error{
		&plivo.APIError{StatusCode: 503, Body: "unavailable"},
		&plivo.APIError{StatusCode: 429, Body: "slow down"},
	}

	outcome, err := h.pipeline.Run(context.Background(), searchSnapshot("call-1"), caller)
	if err != nil {
		t.Fatalf("Expected delivery after retries, got %v", err)
	}
	if outcome != OutcomeDelivered {
		t.Errorf("Expected delivered, got %s", outcome)
	}
	if h.messenger.attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", h.messenger.attempts)
	}
	if stats := h.pipeline.GetStats(); stats.Retries != 2 || stats.Delivered != 1 {
		t.Errorf("Expected 2 retries and 1 delivery, got %+v", stats)
	}
}

func TestPermanentDeliveryFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.messenger.failures = []error{&plivo.APIError{StatusCode: 400, Body: "invalid template"}}

	outcome, err := h.pipeline.Run(context.Background(), searchSnapshot("call-1"), caller)
	var delErr *DeliveryError
	if !errors.As(err, &delErr) || delErr.Stage != StageDelivery {
		t.Fatalf("Expected delivery stage error, got %v", err)
	}
	if outcome != OutcomeFailed || h.messenger.attempts != 1 {
		t.Errorf("Expected one failed attempt, got %s after %d", outcome, h.messenger.attempts)
	}

	// A later run resumes with the stored summary and document
	outcome, err = h.pipeline.Run(context.Background(), searchSnapshot("call-1"), caller)
	if err != nil || outcome != OutcomeDelivered {
		t.Fatalf("Expected rerun to deliver, got %s %v", outcome, err)
	}
	if h.writer.count() != 1 || h.store.Puts() != 1 {
		t.Errorf("Expected rerun to reuse summary and document, got %d generations and %d uploads", h.writer.count(), h.store.Puts())
	}
}

// flakyLedger fails the saves selected by failOn while it is armed
type flakyLedger struct {
	*MemoryLedger
	mu     sync.Mutex
	armed  bool
	failOn func(Record) bool
}

var errLedgerDown = errors.New("ledger unavailable")

func (l *flakyLedger) Save(ctx context.Context, rec Record) error {
	l.mu.Lock()
	fail := l.armed && l.failOn(rec)
	l.mu.Unlock()
	if fail {
		return errLedgerDown
	}
	return l.MemoryLedger.Save(ctx, rec)
}

func (l *flakyLedger) disarm() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.armed = false
}

func newFlakyHarness(t *testing.T, failOn func(Record) bool) (*harness, *flakyLedger) {
	t.Helper()
	h := newHarness(t)
	ledger := &flakyLedger{MemoryLedger: h.ledger, armed: true, failOn: failOn}
	h.pipeline = New(quietLogger(), testConfig(), Dependencies{
		Writer:    h.writer,
		Renderer:  document.NewRenderer("Technvi AI"),
		Store:     h.store,
		Messenger: h.messenger,
		Ledger:    ledger,
	})
	return h, ledger
}

func TestUnrecordedDeliveryIsNotSentAgain(t *testing.T) {
	h, ledger := newFlakyHarness(t, func(rec Record) bool { return rec.Delivered })

	outcome, err := h.pipeline.Run(context.Background(), searchSnapshot("call-1"), caller)
	if outcome != OutcomeDelivered || !errors.Is(err, errLedgerDown) {
		t.Fatalf("Expected delivered with a ledger error, got %s %v", outcome, err)
	}

	ledger.disarm()
	outcome, err = h.pipeline.Run(context.Background(), searchSnapshot("call-1"), caller)
	if err != nil || outcome != OutcomeUnconfirmed {
		t.Errorf("Expected unconfirmed rerun, got %s %v", outcome, err)
	}
	if msgs := h.messenger.messages(); len(msgs) != 1 {
		t.Errorf("Expected 1 message, got %d", len(msgs))
	}
	if stats := h.pipeline.GetStats(); stats.Unconfirmed != 1 {
		t.Errorf("Expected 1 unconfirmed run, got %+v", stats)
	}
}

func TestDeliveryFailureReportsLedgerError(t *testing.T) {
	h, _ := newFlakyHarness(t, func(rec Record) bool { return rec.Outcome == OutcomeFailed })
	h.messenger.failures = []error{&plivo.APIError{StatusCode: 400, Body: "invalid template"}}

	outcome, err := h.pipeline.Run(context.Background(), searchSnapshot("call-1"), caller)
	if outcome != OutcomeFailed {
		t.Errorf("Expected failed, got %s", outcome)
	}
	var delErr *DeliveryError
	if !errors.As(err, &delErr) || !errors.Is(err, errLedgerDown) {
		t.Errorf("Expected delivery and ledger errors, got %v", err)
	}
}

func TestGenerationFailureFallsBackToTranscript(t *testing.T) {
	h := newHarness(t)
	h.writer.err = errors.New("gemini unavailable")

	outcome, err := h.pipeline.Run(context.Background(), searchSnapshot("call-1"), caller)
	if err != nil || outcome != OutcomeDelivered {
		t.Fatalf("Expected delivery with fallback summary, got %s %v", outcome, err)
	}
	if h.writer.count() != 4 {
		t.Errorf("Expected 1 attempt and 3 retries, got %d", h.writer.count())
	}

	rec, _, _ := h.ledger.Load(context.Background(), "call-1")
	if rec.Summary.Source != summary.SourceFallback || !strings.Contains(rec.Summary.Text, "centrifugal pump") {
		t.Errorf("Expected fallback summary with the search, got %+v", rec.Summary)
	}
	if h.pipeline.GetStats().Fallbacks != 1 {
		t.Error("Expected fallback to be counted")
	}
}

func TestMissingStoreSendsText(t *testing.T) {
	messenger := &fakeMessenger{}
	p := New(quietLogger(), testConfig(), Dependencies{
		Writer:    &fakeWriter{},
		Messenger: messenger,
	})

	outcome, err := p.Run(context.Background(), searchSnapshot("call-1"), caller)
	if err != nil || outcome != OutcomeDeliveredText {
		t.Fatalf("Expected text delivery, got %s %v", outcome, err)
	}
	msgs := messenger.messages()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].text, "Product Inquiry Summary") {
		t.Errorf("Expected summary text message, got %+v", msgs)
	}
}

func TestEmptySnapshotIsSkipped(t *testing.T) {
	h := newHarness(t)
	snap := recorder.New("call-1", "+919876543210", callStart).Snapshot(callStart, "ring_timeout", false)

	outcome, err := h.pipeline.Run(context.Background(), snap, caller)
	if err != nil || outcome != OutcomeSkipped {
		t.Errorf("Expected skipped, got %s %v", outcome, err)
	}
	if len(h.messenger.messages()) != 0 || h.writer.count() != 0 {
		t.Error("Expected nothing generated or sent for an empty call")
	}
}

func TestUnknownCallerGetsSummaryOnly(t *testing.T) {
	h := newHarness(t)
	r := recorder.New("call-1", "", callStart)
	r.Append(recorder.Turn{Speaker: recorder.SpeakerCaller, Text: "Hello?"})
	snap := r.Snapshot(callStart.Add(time.Minute), "caller_hangup", false)

	outcome, err := h.pipeline.Run(context.Background(), snap, users.Participant{Status: users.StatusNotFound})
	if err != nil || outcome != OutcomeSummaryOnly {
		t.Errorf("Expected summary_only, got %s %v", outcome, err)
	}
	if len(h.messenger.messages()) != 0 {
		t.Error("Expected no message without a caller number")
	}
	if rec, _, _ := h.ledger.Load(context.Background(), "call-1"); rec.Summary == nil {
		t.Error("Expected the summary to be recorded")
	}
}

func TestPartialSnapshotIsDelivered(t *testing.T) {
	h := newHarness(t)
	r := recorder.New("call-1", "+919876543210", callStart)
	r.Append(recorder.Turn{Speaker: recorder.SpeakerCaller, Text: "I need bearings"})
	snap := r.Snapshot(callStart.Add(time.Minute), "transport_error", true)

	if outcome, err := h.pipeline.Run(context.Background(), snap, caller); err != nil || outcome != OutcomeDelivered {
		t.Errorf("Expected partial call to be delivered, got %s %v", outcome, err)
	}
}

func TestSubmitAndStop(t *testing.T) {
	h := newHarness(t)

	if err := h.pipeline.Submit(searchSnapshot("call-1"), caller); err != nil {
		t.Fatalf("Failed to submit: %v", err)
	}
	if err := h.pipeline.Submit(searchSnapshot("call-2"), caller); err != nil {
		t.Fatalf("Failed to submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.pipeline.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}

	if n := len(h.messenger.messages()); n != 2 {
		t.Errorf("Expected 2 notifications after stop, got %d", n)
	}
	if err := h.pipeline.Submit(searchSnapshot("call-3"), caller); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if stats := h.pipeline.GetStats(); stats.Submitted != 2 || stats.Delivered != 2 {
		t.Errorf("Expected 2 submitted and delivered, got %+v", stats)
	}
}

func TestStripScheme(t *testing.T) {
	tests := map[string]string{
		"https://files.example.com/a.pdf": "files.example.com/a.pdf",
		"http://files.example.com/a.pdf":  "files.example.com/a.pdf",
		"files.example.com/a.pdf":         "files.example.com/a.pdf",
	}
	for in, want := range tests {
		if got := stripScheme(in); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}

func TestRedisLedger(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	ledger, err := NewRedisLedger(ctx, RedisConfig{Addr: addr, KeyPrefix: "voicebot:test:", TTL: time.Minute})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer ledger.Close()

	id := "call-" + time.Now().Format("150405.000000")
	if _, found, err := ledger.Load(ctx, id); err != nil || found {
		t.Fatalf("Expected missing record, got found=%v err=%v", found, err)
	}

	s := summary.Summary{SessionID: id, Text: "Thank you for the call", Source: summary.SourceFallback}
	if err := ledger.Save(ctx, Record{SessionID: id, Summary: &s, Delivered: true, MessageID: "m-1"}); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	rec, found, err := ledger.Load(ctx, id)
	if err != nil || !found {
		t.Fatalf("Expected record, got found=%v err=%v", found, err)
	}
	if !rec.Delivered || rec.MessageID != "m-1" || rec.Summary.Text != "Thank you for the call" {
		t.Errorf("Unexpected record %+v", rec)
	}
}
