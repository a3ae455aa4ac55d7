// Package session implements the journey state machine: the current step,
// the two partners, and the working conflict session with its append-only
// statement, qualia and agreement lists.
//
// A Manager is constructed explicitly and injected where needed; there is no
// package-level instance. Mutations that the prototype silently ignored
// return explicit errors here so callers can tell "applied" from "rejected".
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/equa-app/truthkeeper/internal/models"
)

var (
	ErrPartnersNotSet    = errors.New("both partners must be set")
	ErrNoActiveSession   = errors.New("no active conflict session")
	ErrSessionActive     = errors.New("a conflict session is already active")
	ErrUnknownStep       = errors.New("unknown step")
	ErrUnknownPhase      = errors.New("unknown phase")
	ErrIllegalTransition = errors.New("illegal step transition")
	ErrUnknownStatement  = errors.New("unknown truth statement")
	ErrUnknownBodyZone   = errors.New("unknown body zone")
	ErrValenceRange      = errors.New("valence out of range")
	ErrArousalRange      = errors.New("arousal out of range")
)

// Manager is the single source of truth for journey position and session
// content. Safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	step     models.Step
	partners [2]*models.Partner
	session  *models.ConflictSession
	darkMode bool

	strictOrder bool
	store       Store
	log         zerolog.Logger

	subs   map[int]func()
	nextID int
}

// Store is the slice of the storage contract the state machine needs: the
// persisted snapshot of {step, partners, darkMode}.
type Store interface {
	SaveSnapshot(models.Snapshot) error
	LoadSnapshot() (models.Snapshot, bool, error)
	DeleteSnapshot() error
}

// Option configures a Manager.
type Option func(*Manager)

// WithStrictOrder makes SetStep enforce the documented linear progression:
// a step may only be reached from its direct predecessor (reset excepted).
// The default preserves the prototype's free-jump behavior.
func WithStrictOrder() Option {
	return func(m *Manager) { m.strictOrder = true }
}

// NewManager creates a Manager, restoring any persisted snapshot. A corrupt
// or missing snapshot yields the initial state (onboarding, no partners).
func NewManager(st Store, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		step:  models.StepOnboarding,
		store: st,
		log:   log,
		subs:  make(map[int]func()),
	}
	for _, opt := range opts {
		opt(m)
	}

	if st != nil {
		snap, ok, err := st.LoadSnapshot()
		if err != nil {
			log.Warn().Err(err).Msg("failed to load session snapshot")
		} else if ok && snap.Step.Valid() {
			m.step = snap.Step
			m.darkMode = snap.DarkMode
			if snap.Partners[0].Name != "" && snap.Partners[1].Name != "" {
				a, b := snap.Partners[0], snap.Partners[1]
				m.partners = [2]*models.Partner{&a, &b}
			}
		}
	}
	return m
}

// Subscribe registers fn to run after every successful mutation and returns
// an unsubscribe func. Callbacks run synchronously outside the lock.
func (m *Manager) Subscribe(fn func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Step returns the current journey step.
func (m *Manager) Step() models.Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// Partners returns copies of the two partner slots; a nil entry means the
// slot is unpopulated.
func (m *Manager) Partners() [2]*models.Partner {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [2]*models.Partner
	for i, p := range m.partners {
		if p != nil {
			cp := *p
			out[i] = &cp
		}
	}
	return out
}

// Session returns a deep copy of the active conflict session, or nil.
func (m *Manager) Session() *models.ConflictSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySession(m.session)
}

// DarkMode reports the persisted display-mode flag.
func (m *Manager) DarkMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.darkMode
}

// SetStep moves the journey to step. Without strict ordering any valid step
// is accepted, matching the prototype's free navigation. The snapshot is
// persisted; the conflict session itself never is.
func (m *Manager) SetStep(step models.Step) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}
	m.mu.Lock()
	if m.strictOrder && step != m.step {
		if step.Index() != m.step.Index()+1 {
			cur := m.step
			m.mu.Unlock()
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur, step)
		}
	}
	m.step = step
	m.persistLocked()
	m.mu.Unlock()

	m.log.Debug().Str("step", string(step)).Msg("step changed")
	m.notify()
	return nil
}

// SetPartners replaces both partner slots atomically. Must happen before
// StartSession; replacing partners mid-session is rejected.
func (m *Manager) SetPartners(a, b models.Partner) error {
	if a.Name == "" || b.Name == "" {
		return ErrPartnersNotSet
	}
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return ErrSessionActive
	}
	if a.ID == "" {
		a.ID = "partner_a"
	}
	if b.ID == "" {
		b.ID = "partner_b"
	}
	m.partners = [2]*models.Partner{&a, &b}
	m.persistLocked()
	m.mu.Unlock()

	m.notify()
	return nil
}

// StartSession creates a fresh conflict session in the truth phase and moves
// the journey to the conflict step. Requires both partner slots.
func (m *Manager) StartSession() (*models.ConflictSession, error) {
	m.mu.Lock()
	if m.partners[0] == nil || m.partners[1] == nil {
		m.mu.Unlock()
		return nil, ErrPartnersNotSet
	}
	if m.session != nil {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	sess := &models.ConflictSession{
		ID:              uuid.NewString(),
		StartTime:       time.Now().UTC(),
		Partners:        [2]models.Partner{*m.partners[0], *m.partners[1]},
		CurrentPhase:    models.PhaseTruth,
		TruthStatements: []models.TruthStatement{},
		QualiaEvents:    []models.QualiaEvent{},
		Agreements:      []models.Agreement{},
	}
	m.session = sess
	m.step = models.StepConflict
	m.persistLocked()
	out := copySession(sess)
	m.mu.Unlock()

	m.log.Info().Str("session", sess.ID).Msg("conflict session started")
	m.notify()
	return out, nil
}

// SetPhase moves the active session to one of the six pillars.
func (m *Manager) SetPhase(phase models.Phase) error {
	if !phase.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	m.session.CurrentPhase = phase
	m.mu.Unlock()

	m.notify()
	return nil
}

// AddTruthStatement appends a statement for partnerID. The statement starts
// unverified; MarkVerified flips it once asynchronous processing finishes.
func (m *Manager) AddTruthStatement(partnerID, text string) (models.TruthStatement, error) {
	st := models.TruthStatement{
		ID:        uuid.NewString(),
		PartnerID: partnerID,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return models.TruthStatement{}, ErrNoActiveSession
	}
	m.session.TruthStatements = append(m.session.TruthStatements, st)
	m.mu.Unlock()

	m.notify()
	return st, nil
}

// MarkVerified sets the verified flag on an existing statement and attaches
// optional commentary. The only mutation append-only entries ever see.
func (m *Manager) MarkVerified(statementID, commentary string) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	for i := range m.session.TruthStatements {
		if m.session.TruthStatements[i].ID == statementID {
			m.session.TruthStatements[i].Verified = true
			m.session.TruthStatements[i].Commentary = commentary
			m.mu.Unlock()
			m.notify()
			return nil
		}
	}
	m.mu.Unlock()
	return ErrUnknownStatement
}

// AddQualiaEvent appends a felt-sense data point after range-checking the
// valence, arousal and body-zone inputs.
func (m *Manager) AddQualiaEvent(partnerID string, valence, arousal int, bodyZone, metaphor string) (models.QualiaEvent, error) {
	if valence < -5 || valence > 5 {
		return models.QualiaEvent{}, fmt.Errorf("%w: %d", ErrValenceRange, valence)
	}
	if arousal < 0 || arousal > 100 {
		return models.QualiaEvent{}, fmt.Errorf("%w: %d", ErrArousalRange, arousal)
	}
	if !validBodyZone(bodyZone) {
		return models.QualiaEvent{}, fmt.Errorf("%w: %q", ErrUnknownBodyZone, bodyZone)
	}
	ev := models.QualiaEvent{
		ID:        uuid.NewString(),
		PartnerID: partnerID,
		Valence:   valence,
		Arousal:   arousal,
		BodyZone:  bodyZone,
		Metaphor:  metaphor,
		Timestamp: time.Now().UTC(),
	}
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return models.QualiaEvent{}, ErrNoActiveSession
	}
	m.session.QualiaEvents = append(m.session.QualiaEvents, ev)
	m.mu.Unlock()

	m.notify()
	return ev, nil
}

// AddAgreement appends a co-signed agreement.
func (m *Manager) AddAgreement(text string, signedBy []string) (models.Agreement, error) {
	ag := models.Agreement{
		ID:        uuid.NewString(),
		Text:      text,
		SignedBy:  append([]string(nil), signedBy...),
		Timestamp: time.Now().UTC(),
	}
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return models.Agreement{}, ErrNoActiveSession
	}
	m.session.Agreements = append(m.session.Agreements, ag)
	m.mu.Unlock()

	m.notify()
	return ag, nil
}

// SetDarkMode updates the persisted display-mode flag.
func (m *Manager) SetDarkMode(on bool) {
	m.mu.Lock()
	m.darkMode = on
	m.persistLocked()
	m.mu.Unlock()
	m.notify()
}

// Reset returns the machine to its initial state and removes the persisted
// snapshot. The conflict session and its lists are discarded.
func (m *Manager) Reset() error {
	m.mu.Lock()
	m.step = models.StepOnboarding
	m.partners = [2]*models.Partner{}
	m.session = nil
	m.darkMode = false
	var err error
	if m.store != nil {
		err = m.store.DeleteSnapshot()
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	m.log.Info().Msg("session reset")
	m.notify()
	return nil
}

// persistLocked writes the snapshot; callers hold m.mu. Persistence failures
// are logged, not surfaced: the in-memory state is already updated.
func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	snap := models.Snapshot{Step: m.step, DarkMode: m.darkMode}
	if m.partners[0] != nil && m.partners[1] != nil {
		snap.Partners = [2]models.Partner{*m.partners[0], *m.partners[1]}
	}
	if err := m.store.SaveSnapshot(snap); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist session snapshot")
	}
}

func validBodyZone(zone string) bool {
	for _, z := range models.BodyZones {
		if zone == z {
			return true
		}
	}
	return false
}

func copySession(s *models.ConflictSession) *models.ConflictSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.TruthStatements = append([]models.TruthStatement(nil), s.TruthStatements...)
	cp.QualiaEvents = append([]models.QualiaEvent(nil), s.QualiaEvents...)
	cp.Agreements = append([]models.Agreement(nil), s.Agreements...)
	return &cp
}
