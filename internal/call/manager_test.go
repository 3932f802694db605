package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

type failingDirectory struct{}

func (failingDirectory) Lookup(ctx context.Context, phone string) (users.Participant, error) {
	return users.Participant{}, errors.New("supabase unavailable")
}

func (failingDirectory) Register(ctx context.Context, phone string, role users.Role) (users.RegisterResult, error) {
	return "", errors.New("supabase unavailable")
}

func newTestManager(t *testing.T, deps Dependencies) *Manager {
	t.Helper()
	mgr := NewManager(quietLogger(), testCallConfig(), deps)
	t.Cleanup(func() { mgr.Stop(context.Background()) })
	return mgr
}

func TestAcceptRegistersRingingSession(t *testing.T) {
	mgr := newTestManager(t, Dependencies{Directory: returningContractor()})

	session, err := mgr.Accept(context.Background(), CallInfo{CallID: "call-1", From: "+919876543210", To: "+918000000000"})
	if err != nil {
		t.Fatalf("Failed to accept call: %v", err)
	}

	if session.State() != StateRinging {
		t.Errorf("Expected ringing state, got %s", session.State())
	}
	p := session.Participant()
	if p.Name != "Ravi" || p.Role != users.RoleContractor || p.Status != users.StatusSuccess {
		t.Errorf("Expected directory participant, got %+v", p)
	}
	if mgr.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", mgr.Count())
	}
}

func TestAcceptRejectsDuplicateCallID(t *testing.T) {
	mgr := newTestManager(t, Dependencies{})

	if _, err := mgr.Accept(context.Background(), CallInfo{CallID: "call-1"}); err != nil {
		t.Fatalf("Failed to accept call: %v", err)
	}
	_, err := mgr.Accept(context.Background(), CallInfo{CallID: "call-1"})
	if !errors.Is(err, ErrCallExists) {
		t.Errorf("Expected ErrCallExists, got %v", err)
	}
	if stats := mgr.GetStats(); stats.Rejected != 1 || stats.Accepted != 1 {
		t.Errorf("Expected 1 accepted and 1 rejected, got %+v", stats)
	}
}

func TestLookupFailureTreatsCallerAsNew(t *testing.T) {
	mgr := newTestManager(t, Dependencies{Directory: failingDirectory{}})

	session, err := mgr.Accept(context.Background(), CallInfo{CallID: "call-1", From: "+911111111111"})
	if err != nil {
		t.Fatalf("Expected lookup failure to be tolerated, got %v", err)
	}

	p := session.Participant()
	if p.Status != users.StatusNotFound || p.Phone != "+911111111111" {
		t.Errorf("Expected new caller, got %+v", p)
	}
	if mgr.GetStats().LookupErr != 1 {
		t.Errorf("Expected lookup failure to be counted")
	}
}

func TestCleanupExpiresRingingSessions(t *testing.T) {
	pipeline := newFakePipeline()
	mgr := newTestManager(t, Dependencies{Pipeline: pipeline})

	session, err := mgr.Accept(context.Background(), CallInfo{CallID: "call-1"})
	if err != nil {
		t.Fatalf("Failed to accept call: %v", err)
	}

	if n := mgr.cleanupExpiredSessions(time.Now()); n != 0 {
		t.Errorf("Expected fresh session to survive, got %d expired", n)
	}
	if n := mgr.cleanupExpiredSessions(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("Expected 1 expired session, got %d", n)
	}

	<-session.Done()
	sub := pipeline.next(t)
	if sub.snapshot.EndReason != ReasonRingTimeout || !sub.snapshot.Empty() {
		t.Errorf("Expected empty ring timeout snapshot, got %+v", sub.snapshot)
	}
	if mgr.Count() != 0 {
		t.Errorf("Expected registry to be empty, got %d", mgr.Count())
	}

	err = session.Serve(context.Background(), newFakeTelephony())
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed for a late stream, got %v", err)
	}
}

func TestAttachAcceptsUnknownCallOnTheFly(t *testing.T) {
	engine := newFakeEngine()
	pipeline := newFakePipeline()
	mgr := newTestManager(t, Dependencies{
		Dialer:   DialFunc(func(ctx context.Context) (Engine, error) { return engine, nil }),
		Pipeline: pipeline,
	})

	telephony := newFakeTelephony()
	served := make(chan error, 1)
	go func() { served <- mgr.Attach(context.Background(), "call-unknown", telephony) }()

	waitFor(t, "session", func() bool {
		s, ok := mgr.Get("call-unknown")
		return ok && s.State() == StateGreeting
	})
	if stats := mgr.GetStats(); stats.OnTheFly != 1 {
		t.Errorf("Expected on-the-fly acceptance to be counted, got %+v", stats)
	}
	if got := engine.lastResponse(); got != greetingInstructions(Greeting("Technvi AI", users.Participant{Status: users.StatusNotFound})) {
		t.Errorf("Expected new caller greeting, got %q", got)
	}

	telephony.Close()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Expected clean end on stream close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for Attach to return")
	}
	if sub := pipeline.next(t); sub.snapshot.EndReason != ReasonCallerHangup {
		t.Errorf("Expected caller hangup, got %s", sub.snapshot.EndReason)
	}
}

func TestSecondStreamIsRejected(t *testing.T) {
	engine := newFakeEngine()
	mgr := newTestManager(t, Dependencies{
		Dialer: DialFunc(func(ctx context.Context) (Engine, error) { return engine, nil }),
	})

	session, err := mgr.Accept(context.Background(), CallInfo{CallID: "call-1"})
	if err != nil {
		t.Fatalf("Failed to accept call: %v", err)
	}
	go session.Serve(context.Background(), newFakeTelephony())
	waitFor(t, "greeting", func() bool { return engine.responseCount() == 1 })

	if err := session.Serve(context.Background(), newFakeTelephony()); !errors.Is(err, ErrStreamAttached) {
		t.Errorf("Expected ErrStreamAttached, got %v", err)
	}
}

func TestDialFailureEndsSessionPartial(t *testing.T) {
	pipeline := newFakePipeline()
	mgr := newTestManager(t, Dependencies{
		Dialer: DialFunc(func(ctx context.Context) (Engine, error) {
			return nil, errors.New("401 unauthorized")
		}),
		Pipeline: pipeline,
	})

	err := mgr.Attach(context.Background(), "call-1", newFakeTelephony())
	if err == nil {
		t.Fatal("Expected dial failure to be returned")
	}

	sub := pipeline.next(t)
	if sub.snapshot.EndReason != ReasonEngineFailure || !sub.snapshot.Partial {
		t.Errorf("Expected partial engine failure snapshot, got %s partial=%v", sub.snapshot.EndReason, sub.snapshot.Partial)
	}
}

func TestStopEndsLiveSessions(t *testing.T) {
	engine := newFakeEngine()
	pipeline := newFakePipeline()
	mgr := NewManager(quietLogger(), testCallConfig(), Dependencies{
		Dialer:   DialFunc(func(ctx context.Context) (Engine, error) { return engine, nil }),
		Pipeline: pipeline,
	})

	ringing, _ := mgr.Accept(context.Background(), CallInfo{CallID: "call-ringing"})
	go mgr.Attach(context.Background(), "call-live", newFakeTelephony())
	waitFor(t, "live call", func() bool { return engine.responseCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop manager: %v", err)
	}

	<-ringing.Done()
	if mgr.Count() != 0 {
		t.Errorf("Expected no live sessions, got %d", mgr.Count())
	}
	reasons := map[string]bool{}
	reasons[pipeline.next(t).snapshot.EndReason] = true
	reasons[pipeline.next(t).snapshot.EndReason] = true
	if !reasons[ReasonShutdown] || len(reasons) != 1 {
		t.Errorf("Expected both sessions to end with shutdown, got %v", reasons)
	}

	if _, err := mgr.Accept(context.Background(), CallInfo{CallID: "call-late"}); !errors.Is(err, ErrManagerStopped) {
		t.Errorf("Expected ErrManagerStopped, got %v", err)
	}
}
