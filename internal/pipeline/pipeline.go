package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/document"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/metrics"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/plivo"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/recorder"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/storage"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/summary"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

// ErrStopped is returned by Submit after Stop
var ErrStopped = errors.New("pipeline stopped")

// Stage names a step of post-call delivery
type Stage string

const (
	StageLedger   Stage = "ledger"
	StageSummary  Stage = "summary"
	StageDocument Stage = "document"
	StageStorage  Stage = "storage"
	StageDelivery Stage = "delivery"
)

// Outcome is the result of a pipeline run
type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeDeliveredText    Outcome = "delivered_text"
	OutcomeSummaryOnly      Outcome = "summary_only"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeAlreadyDelivered Outcome = "already_delivered"
	OutcomeUnconfirmed      Outcome = "delivery_unconfirmed"
	OutcomeFailed           Outcome = "failed"
)

// DeliveryError is a post-call stage failure
type DeliveryError struct {
	Stage Stage
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("pipeline %s stage failed: %v", e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// SummaryWriter produces the summary text of a call
type SummaryWriter interface {
	Write(ctx context.Context, snapshot recorder.Snapshot) (summary.Summary, error)
}

// Renderer turns a summary into a document
type Renderer interface {
	Render(s summary.Summary) ([]byte, error)
}

// Messenger delivers notifications to the caller
type Messenger interface {
	SendTemplate(ctx context.Context, dst string, params []string) (string, error)
	SendText(ctx context.Context, dst, text string) (string, error)
}

// Config controls retries, concurrency and delivery content
type Config struct {
	Workers     int
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// StoragePrefix is the key prefix of stored documents
	StoragePrefix string
	// PortalURL is a printf format with one %s for the caller number
	PortalURL string
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Dependencies are the delivery collaborators. A nil Messenger limits every
// run to the summary; a nil Store or Renderer sends the summary as text.
type Dependencies struct {
	Writer    SummaryWriter
	Renderer  Renderer
	Store     storage.Store
	Messenger Messenger
	Ledger    Ledger
}

// Stats holds pipeline counters
type Stats struct {
	Submitted        uint64 `json:"submitted"`
	Delivered        uint64 `json:"delivered"`
	DeliveredText    uint64 `json:"delivered_text"`
	SummaryOnly      uint64 `json:"summary_only"`
	Skipped          uint64 `json:"skipped"`
	AlreadyDelivered uint64 `json:"already_delivered"`
	Unconfirmed      uint64 `json:"delivery_unconfirmed"`
	Failed           uint64 `json:"failed"`
	Fallbacks        uint64 `json:"summary_fallbacks"`
	Retries          uint64 `json:"retries"`
	InFlight         int    `json:"in_flight"`
}

// Option customises a pipeline
type Option func(*Pipeline)

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline turns ended calls into delivered summaries
type Pipeline struct {
	config  Config
	deps    Dependencies
	logger  *slog.Logger
	metrics *metrics.Metrics

	group     singleflight.Group
	semaphore chan struct{}
	wg        sync.WaitGroup

	// Background runs outlive the call but not Stop
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stats   Stats
	stopped bool
}

// New creates a pipeline
func New(logger *slog.Logger, config Config, deps Dependencies, opts ...Option) *Pipeline {
	config.applyDefaults()
	if deps.Ledger == nil {
		deps.Ledger = NewMemoryLedger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		config:    config,
		deps:      deps,
		logger:    logger,
		semaphore: make(chan struct{}, config.Workers),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit schedules a run for an ended call and returns immediately
func (p *Pipeline) Submit(snapshot recorder.Snapshot, participant users.Participant) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.stats.Submitted++
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		select {
		case p.semaphore <- struct{}{}:
			defer func() { <-p.semaphore }()
		case <-p.ctx.Done():
			p.logger.Warn("Pipeline stopped before run started",
				slog.String("session_id", snapshot.SessionID))
			return
		}

		ctx, cancel := context.WithTimeout(p.ctx, p.config.Timeout)
		defer cancel()

		if _, err := p.Run(ctx, snapshot, participant); err != nil {
			p.logger.Error("Post-call pipeline failed",
				slog.String("session_id", snapshot.SessionID),
				slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Run processes one ended call. Concurrent runs for the same session share
// one execution, and a session that was already delivered is not sent
// again.
func (p *Pipeline) Run(ctx context.Context, snapshot recorder.Snapshot, participant users.Participant) (Outcome, error) {
	if snapshot.SessionID == "" {
		return OutcomeFailed, fmt.Errorf("session id is required")
	}

	v, err, _ := p.group.Do(snapshot.SessionID, func() (any, error) {
		return p.run(ctx, snapshot, participant)
	})
	outcome, _ := v.(Outcome)
	if outcome == "" {
		outcome = OutcomeFailed
	}
	return outcome, err
}

func (p *Pipeline) run(ctx context.Context, snapshot recorder.Snapshot, participant users.Participant) (Outcome, error) {
	runID := uuid.NewString()
	logger := p.logger.With(
		slog.String("session_id", snapshot.SessionID),
		slog.String("run_id", runID),
	)
	startTime := time.Now()

	rec, err := p.load(ctx, snapshot.SessionID)
	if err != nil {
		return p.finish(logger, OutcomeFailed, err)
	}
	if rec.Delivered {
		logger.Info("Summary already delivered, skipping",
			slog.String("message_id", rec.MessageID))
		return p.finish(logger, OutcomeAlreadyDelivered, nil)
	}
	if rec.Sending {
		// An earlier run reached the messenger without recording the result
		logger.Warn("Earlier delivery attempt is unconfirmed, not sending again",
			slog.Int("runs", rec.Runs))
		return p.finish(logger, OutcomeUnconfirmed, nil)
	}
	rec.Runs++

	if snapshot.Empty() {
		logger.Warn("No conversation recorded, nothing to summarise",
			slog.String("end_reason", snapshot.EndReason))
		rec.Outcome = OutcomeSkipped
		return p.finish(logger, OutcomeSkipped, p.save(ctx, rec))
	}

	if rec.Summary == nil {
		s := p.summarize(ctx, logger, snapshot)
		rec.Summary = &s
		if err := p.save(ctx, rec); err != nil {
			return p.finish(logger, OutcomeFailed, err)
		}
	}

	phone := recipient(participant, snapshot)
	if phone == "" || p.deps.Messenger == nil {
		logger.Warn("No valid caller number to send the summary to")
		rec.Outcome = OutcomeSummaryOnly
		return p.finish(logger, OutcomeSummaryOnly, p.save(ctx, rec))
	}

	if rec.DocumentURL == "" {
		url, err := p.publish(ctx, *rec.Summary)
		if err != nil {
			logger.Warn("Summary document unavailable, falling back to text",
				slog.String("error", err.Error()))
		} else {
			rec.DocumentURL = url
			if err := p.save(ctx, rec); err != nil {
				return p.finish(logger, OutcomeFailed, err)
			}
		}
	}

	rec.Sending = true
	if err := p.save(ctx, rec); err != nil {
		return p.finish(logger, OutcomeFailed, err)
	}

	outcome := OutcomeDelivered
	var messageID string
	err = p.withRetry(ctx, StageDelivery, plivo.IsRetryable, func(ctx context.Context) error {
		var err error
		if rec.DocumentURL != "" {
			messageID, err = p.deps.Messenger.SendTemplate(ctx, phone, p.templateParams(rec.DocumentURL, phone))
		} else {
			outcome = OutcomeDeliveredText
			messageID, err = p.deps.Messenger.SendText(ctx, phone, rec.Summary.Text)
		}
		return err
	})
	if err != nil {
		rec.Sending = false
		rec.Outcome = OutcomeFailed
		if serr := p.save(ctx, rec); serr != nil {
			logger.Error("Failed to record delivery failure",
				slog.String("error", serr.Error()))
			err = errors.Join(err, serr)
		}
		return p.finish(logger, OutcomeFailed, err)
	}

	rec.Sending = false
	rec.Delivered = true
	rec.MessageID = messageID
	rec.Outcome = outcome

	logger.Info("Summary delivered",
		slog.String("to", phone),
		slog.String("message_id", messageID),
		slog.String("outcome", string(outcome)),
		slog.Int("run", rec.Runs),
		slog.Duration("elapsed", time.Since(startTime)),
	)

	return p.finish(logger, outcome, p.save(ctx, rec))
}

func (p *Pipeline) finish(logger *slog.Logger, outcome Outcome, err error) (Outcome, error) {
	p.mu.Lock()
	switch {
	case err != nil && outcome != OutcomeFailed:
		// delivered but the ledger write failed; counted by outcome
		p.countOutcome(outcome)
	case err != nil:
		p.stats.Failed++
	default:
		p.countOutcome(outcome)
	}
	p.mu.Unlock()

	p.metrics.RecordPipelineRun(string(outcome))
	if err != nil && outcome != OutcomeFailed {
		logger.Warn("Run finished but its record was not saved",
			slog.String("outcome", string(outcome)),
			slog.String("error", err.Error()))
	}
	return outcome, err
}

// countOutcome must be called with mu held
func (p *Pipeline) countOutcome(outcome Outcome) {
	switch outcome {
	case OutcomeDelivered:
		p.stats.Delivered++
	case OutcomeDeliveredText:
		p.stats.DeliveredText++
	case OutcomeSummaryOnly:
		p.stats.SummaryOnly++
	case OutcomeSkipped:
		p.stats.Skipped++
	case OutcomeAlreadyDelivered:
		p.stats.AlreadyDelivered++
	case OutcomeUnconfirmed:
		p.stats.Unconfirmed++
	}
}

func (p *Pipeline) load(ctx context.Context, sessionID string) (Record, error) {
	var rec Record
	var found bool
	err := p.withRetry(ctx, StageLedger, transient, func(ctx context.Context) error {
		var err error
		rec, found, err = p.deps.Ledger.Load(ctx, sessionID)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	if !found {
		rec = Record{SessionID: sessionID}
	}
	return rec, nil
}

func (p *Pipeline) save(ctx context.Context, rec Record) error {
	rec.UpdatedAt = time.Now()
	return p.withRetry(ctx, StageLedger, transient, func(ctx context.Context) error {
		return p.deps.Ledger.Save(ctx, rec)
	})
}

// summarize never fails: when the model stays unavailable the summary is
// built from the log
func (p *Pipeline) summarize(ctx context.Context, logger *slog.Logger, snapshot recorder.Snapshot) summary.Summary {
	if p.deps.Writer != nil {
		var s summary.Summary
		err := p.withRetry(ctx, StageSummary, transient, func(ctx context.Context) error {
			var err error
			s, err = p.deps.Writer.Write(ctx, snapshot)
			return err
		})
		if err == nil {
			return s
		}
		logger.Warn("Summary generation failed, using transcript fallback",
			slog.String("error", err.Error()))
	}

	p.mu.Lock()
	p.stats.Fallbacks++
	p.mu.Unlock()
	return summary.Fallback(snapshot)
}

// publish renders and stores the summary document and returns its URL
func (p *Pipeline) publish(ctx context.Context, s summary.Summary) (string, error) {
	if p.deps.Renderer == nil || p.deps.Store == nil {
		return "", &DeliveryError{Stage: StageStorage, Err: errors.New("no document store configured")}
	}

	data, err := p.deps.Renderer.Render(s)
	if err != nil {
		return "", &DeliveryError{Stage: StageDocument, Err: err}
	}

	key := storage.Key(p.config.StoragePrefix, s.SessionID)
	var url string
	err = p.withRetry(ctx, StageStorage, storage.IsRetryable, func(ctx context.Context) error {
		var err error
		url, err = p.deps.Store.Put(ctx, key, data, document.ContentType)
		return err
	})
	return url, err
}

func (p *Pipeline) templateParams(documentURL, phone string) []string {
	params := []string{stripScheme(documentURL)}
	if p.config.PortalURL != "" {
		params = append(params, stripScheme(fmt.Sprintf(p.config.PortalURL, phone)))
	}
	return params
}

// withRetry runs fn with capped exponential backoff. Errors that classify
// as permanent end the loop at once.
func (p *Pipeline) withRetry(ctx context.Context, stage Stage, retryable func(error) bool, fn func(context.Context) error) error {
	backoff := retry.NewExponential(p.config.BaseBackoff)
	backoff = retry.WithCappedDuration(p.config.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(p.config.MaxRetries), backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			p.mu.Lock()
			p.stats.Retries++
			p.mu.Unlock()
			p.metrics.RecordPipelineRetry(string(stage))
		}

		if err := fn(ctx); err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return &DeliveryError{Stage: stage, Err: err}
	}
	return nil
}

// transient treats everything except cancellation as worth retrying
func transient(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

func recipient(participant users.Participant, snapshot recorder.Snapshot) string {
	phone := strings.TrimSpace(participant.Phone)
	if phone == "" {
		phone = strings.TrimSpace(snapshot.CallerPhone)
	}
	if phone == "" || strings.EqualFold(phone, "unknown") {
		return ""
	}
	return phone
}

func stripScheme(url string) string {
	url = strings.TrimPrefix(url, "https://")
	return strings.TrimPrefix(url, "http://")
}

// GetStats returns pipeline counters
func (p *Pipeline) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.InFlight = len(p.semaphore)
	return stats
}

// Stop refuses new work and waits for in-flight runs until ctx expires,
// then cancels them
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("pipeline stop interrupted: %w", ctx.Err())
	}
}
