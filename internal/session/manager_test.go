package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/steady/internal/risk"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s, err := m.Create("u1", "gentle_deep")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.SessionType != "gentle_deep" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusCompleted || ended.EndReason != EndReasonUser || ended.EndedAt == nil {
		t.Fatalf("ended session = %+v, want completed by user", ended)
	}

	if _, err := m.End(s.ID); !errors.Is(err, ErrCompleted) {
		t.Fatalf("End() twice error = %v, want ErrCompleted", err)
	}
	if _, err := m.Resume(s.ID); !errors.Is(err, ErrCompleted) {
		t.Fatalf("Resume() after end error = %v, want ErrCompleted", err)
	}
	if err := m.AppendTurn(s.ID, Turn{Role: RoleUser, Text: "hello?"}); !errors.Is(err, ErrCompleted) {
		t.Fatalf("AppendTurn() after end error = %v, want ErrCompleted", err)
	}
}

func TestManagerCreateRequiresUser(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Create("  ", ""); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Create() error = %v, want ErrInvalidSession", err)
	}
	s, err := m.Create("u1", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.SessionType != "default" {
		t.Fatalf("SessionType = %q, want default", s.SessionType)
	}
}

func TestManagerPauseResume(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create("u1", "")

	if _, err := m.Resume(s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Resume() on active error = %v, want ErrInvalidTransition", err)
	}
	paused, err := m.Pause(s.ID)
	if err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if paused.Status != StatusPaused {
		t.Fatalf("Status = %q, want paused", paused.Status)
	}
	if _, err := m.Pause(s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Pause() twice error = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.End(s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("End() on paused error = %v, want ErrInvalidTransition", err)
	}
	resumed, err := m.Resume(s.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Status != StatusActive {
		t.Fatalf("Status = %q, want active", resumed.Status)
	}
	if _, err := m.Pause("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Pause(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerEscalateOnlyFromActive(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create("u1", "")

	got, changed, err := m.Escalate(s.ID, "self_harm")
	if err != nil || !changed {
		t.Fatalf("Escalate() = %v, %v; want changed", changed, err)
	}
	if got.Status != StatusPaused || !got.Escalated || got.EscalationReason != "self_harm" {
		t.Fatalf("escalated session = %+v", got)
	}

	_, changed, err = m.Escalate(s.ID, "self_harm")
	if err != nil || changed {
		t.Fatalf("second Escalate() = %v, %v; want unchanged", changed, err)
	}
}

func TestManagerTurnsAreAppendOnlyCopies(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create("u1", "")

	if err := m.AppendTurn(s.ID, Turn{Role: RoleUser, Text: "hi", RiskLevel: risk.LevelNone}); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if err := m.AppendTurn(s.ID, Turn{Role: RoleAssistant, Text: "hello", Metadata: map[string]any{"k": "v"}}); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if err := m.AppendTurn(s.ID, Turn{Role: "system", Text: "nope"}); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("AppendTurn(system) error = %v, want ErrInvalidSession", err)
	}

	turns, err := m.Turns(s.ID)
	if err != nil {
		t.Fatalf("Turns() error = %v", err)
	}
	if len(turns) != 2 || turns[0].Text != "hi" || turns[1].Role != RoleAssistant {
		t.Fatalf("Turns() = %+v", turns)
	}
	if turns[0].Timestamp.IsZero() {
		t.Fatalf("turn timestamp should be set")
	}

	turns[1].Metadata["k"] = "mutated"
	turns[0].Text = "mutated"
	again, _ := m.Turns(s.ID)
	if again[0].Text != "hi" || again[1].Metadata["k"] != "v" {
		t.Fatalf("Turns() leaked internal state: %+v", again)
	}
}

func TestManagerConcurrentAppend(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create("u1", "")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.AppendTurn(s.ID, Turn{Role: RoleUser, Text: "x"})
		}()
	}
	wg.Wait()

	turns, _ := m.Turns(s.ID)
	if len(turns) != 50 {
		t.Fatalf("len(Turns()) = %d, want 50", len(turns))
	}
}

func TestManagerSetSummaryRequiresCompleted(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Create("u1", "")
	if err := m.SetSummary(s.ID, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("SetSummary() on active error = %v", err)
	}
	_, _ = m.End(s.ID)
	if err := m.SetSummary(s.ID, "talked about work"); err != nil {
		t.Fatalf("SetSummary() error = %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.Summary != "talked about work" {
		t.Fatalf("Summary = %q", got.Summary)
	}
}

func TestManagerJanitorCompletesInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s, _ := m.Create("u1", "")
	paused, _ := m.Create("u2", "")
	_, _ = m.Pause(paused.ID)

	expired := make(chan *Session, 2)
	m.SetExpireHook(func(s *Session) { expired <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case got := <-expired:
		if got.ID != s.ID || got.EndReason != EndReasonInactivity {
			t.Fatalf("expired session = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not expire the session")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("Status = %q, want %q", got.Status, StatusCompleted)
	}
	still, _ := m.Get(paused.ID)
	if still.Status != StatusPaused {
		t.Fatalf("paused session Status = %q, want paused", still.Status)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}
