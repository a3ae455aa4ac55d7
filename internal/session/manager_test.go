package session

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/equa-app/truthkeeper/internal/models"
	"github.com/equa-app/truthkeeper/internal/store"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewManager(st, zerolog.Nop(), opts...), st
}

func setPartners(t *testing.T, m *Manager) {
	t.Helper()
	err := m.SetPartners(
		models.Partner{Name: "Alice"},
		models.Partner{Name: "Bob"},
	)
	if err != nil {
		t.Fatalf("should be able to set partners: %v", err)
	}
}

func TestNewManager(t *testing.T) {
	m, _ := newTestManager(t)
	if m.Step() != models.StepOnboarding {
		t.Fatalf("expected initial step onboarding, got %s", m.Step())
	}
	partners := m.Partners()
	if partners[0] != nil || partners[1] != nil {
		t.Fatal("partner slots should start empty")
	}
	if m.Session() != nil {
		t.Fatal("no conflict session should exist initially")
	}
}

func TestSetStepFreeJump(t *testing.T) {
	// The journey is documented as linear, but without strict ordering any
	// step can follow any other; the current step is always the most
	// recently set value.
	m, _ := newTestManager(t)
	sequence := []models.Step{
		models.StepForgiveness,
		models.StepPact,
		models.StepSuccess,
		models.StepOnboarding,
	}
	for _, step := range sequence {
		if err := m.SetStep(step); err != nil {
			t.Fatalf("free jump to %s should succeed: %v", step, err)
		}
		if m.Step() != step {
			t.Fatalf("expected step %s, got %s", step, m.Step())
		}
	}
}

func TestSetStepUnknown(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.SetStep("limbo"); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
	if m.Step() != models.StepOnboarding {
		t.Fatal("failed SetStep should not move the step")
	}
}

func TestSetStepStrictOrder(t *testing.T) {
	m, _ := newTestManager(t, WithStrictOrder())
	if err := m.SetStep(models.StepPact); err != nil {
		t.Fatalf("onboarding -> pact is the documented transition: %v", err)
	}
	if err := m.SetStep(models.StepTruth); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for pact -> truth, got %v", err)
	}
	if m.Step() != models.StepPact {
		t.Fatalf("rejected transition should not move the step, got %s", m.Step())
	}
}

func TestStartSessionRequiresPartners(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.StartSession(); !errors.Is(err, ErrPartnersNotSet) {
		t.Fatalf("expected ErrPartnersNotSet, got %v", err)
	}
	if m.Session() != nil {
		t.Fatal("failed start should not create a session")
	}
}

func TestStartSession(t *testing.T) {
	m, _ := newTestManager(t)
	setPartners(t, m)

	sess, err := m.StartSession()
	if err != nil {
		t.Fatalf("should be able to start session: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session id should not be empty")
	}
	if sess.CurrentPhase != models.PhaseTruth {
		t.Fatalf("expected phase truth, got %s", sess.CurrentPhase)
	}
	if len(sess.TruthStatements) != 0 || len(sess.QualiaEvents) != 0 || len(sess.Agreements) != 0 {
		t.Fatal("new session lists should be empty")
	}
	if m.Step() != models.StepConflict {
		t.Fatalf("starting a session should move to conflict, got %s", m.Step())
	}
	if _, err := m.StartSession(); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive on double start, got %v", err)
	}
}

func TestAppendBeforeStart(t *testing.T) {
	m, _ := newTestManager(t)
	setPartners(t, m)

	if _, err := m.AddTruthStatement("partner_a", "hello"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if _, err := m.AddQualiaEvent("partner_a", 1, 50, "chest", "a knot"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if _, err := m.AddAgreement("we agree", []string{"partner_a"}); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if m.Session() != nil {
		t.Fatal("rejected appends must not create a session")
	}
}

func TestTruthStatementsAppendOnly(t *testing.T) {
	m, _ := newTestManager(t)
	setPartners(t, m)
	if _, err := m.StartSession(); err != nil {
		t.Fatalf("start session: %v", err)
	}

	const n = 5
	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		st, err := m.AddTruthStatement("partner_a", "statement")
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
		if seen[st.ID] {
			t.Fatalf("duplicate statement id %s", st.ID)
		}
		seen[st.ID] = true
	}

	sess := m.Session()
	if len(sess.TruthStatements) != n {
		t.Fatalf("expected %d statements, got %d", n, len(sess.TruthStatements))
	}
	for _, st := range sess.TruthStatements {
		if st.Verified {
			t.Fatal("fresh statements must start unverified")
		}
	}
}

func TestMarkVerified(t *testing.T) {
	m, _ := newTestManager(t)
	setPartners(t, m)
	if _, err := m.StartSession(); err != nil {
		t.Fatalf("start session: %v", err)
	}
	st, err := m.AddTruthStatement("partner_b", "I felt ignored")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := m.MarkVerified(st.ID, "acknowledged"); err != nil {
		t.Fatalf("should be able to verify: %v", err)
	}
	sess := m.Session()
	if !sess.TruthStatements[0].Verified {
		t.Fatal("statement should be verified")
	}
	if sess.TruthStatements[0].Commentary != "acknowledged" {
		t.Fatalf("unexpected commentary %q", sess.TruthStatements[0].Commentary)
	}

	if err := m.MarkVerified("nope", ""); !errors.Is(err, ErrUnknownStatement) {
		t.Fatalf("expected ErrUnknownStatement, got %v", err)
	}
}

func TestQualiaValidation(t *testing.T) {
	m, _ := newTestManager(t)
	setPartners(t, m)
	if _, err := m.StartSession(); err != nil {
		t.Fatalf("start session: %v", err)
	}

	if _, err := m.AddQualiaEvent("partner_a", 6, 50, "chest", ""); !errors.Is(err, ErrValenceRange) {
		t.Fatalf("expected ErrValenceRange, got %v", err)
	}
	if _, err := m.AddQualiaEvent("partner_a", 0, 101, "chest", ""); !errors.Is(err, ErrArousalRange) {
		t.Fatalf("expected ErrArousalRange, got %v", err)
	}
	if _, err := m.AddQualiaEvent("partner_a", 0, 50, "elbow", ""); !errors.Is(err, ErrUnknownBodyZone) {
		t.Fatalf("expected ErrUnknownBodyZone, got %v", err)
	}

	ev, err := m.AddQualiaEvent("partner_a", -5, 100, "stomach", "a storm")
	if err != nil {
		t.Fatalf("valid event should append: %v", err)
	}
	if ev.Valence != -5 || ev.Arousal != 100 {
		t.Fatal("event should carry the given values")
	}
}

func TestReset(t *testing.T) {
	m, st := newTestManager(t)
	setPartners(t, m)
	if _, err := m.StartSession(); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if m.Step() != models.StepOnboarding {
		t.Fatalf("expected onboarding after reset, got %s", m.Step())
	}
	partners := m.Partners()
	if partners[0] != nil || partners[1] != nil {
		t.Fatal("partners should be cleared")
	}
	if m.Session() != nil {
		t.Fatal("session should be discarded")
	}
	if _, ok, _ := st.LoadSnapshot(); ok {
		t.Fatal("persisted snapshot should be removed")
	}
}

func TestSnapshotRestore(t *testing.T) {
	st := store.NewMemoryStore()
	m1 := NewManager(st, zerolog.Nop())
	if err := m1.SetPartners(models.Partner{Name: "Alice"}, models.Partner{Name: "Bob"}); err != nil {
		t.Fatalf("set partners: %v", err)
	}
	if _, err := m1.StartSession(); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := m1.SetStep(models.StepQualia); err != nil {
		t.Fatalf("set step: %v", err)
	}
	m1.SetDarkMode(true)

	// A second manager sharing the store simulates a reload: step, partners
	// and display mode survive, the conflict session does not.
	m2 := NewManager(st, zerolog.Nop())
	if m2.Step() != models.StepQualia {
		t.Fatalf("expected restored step qualia, got %s", m2.Step())
	}
	partners := m2.Partners()
	if partners[0] == nil || partners[0].Name != "Alice" {
		t.Fatal("partner A should be restored")
	}
	if !m2.DarkMode() {
		t.Fatal("dark mode flag should be restored")
	}
	if m2.Session() != nil {
		t.Fatal("conflict session must not survive a reload")
	}
}

func TestSubscribe(t *testing.T) {
	m, _ := newTestManager(t)
	var calls int
	unsub := m.Subscribe(func() { calls++ })

	if err := m.SetStep(models.StepPact); err != nil {
		t.Fatalf("set step: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}

	unsub()
	if err := m.SetStep(models.StepConflict); err != nil {
		t.Fatalf("set step: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no notification after unsubscribe, got %d", calls)
	}
}
