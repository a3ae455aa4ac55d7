// Package pairing establishes a shared session between two devices via a
// short join code and keeps a small set of fields loosely synchronized
// through a shared, polled, append-only event log.
//
// The protocol is deliberately best effort: last writer wins, events are
// delivered only while they sit inside the look-back window, and nothing is
// deduplicated. Consumers must be idempotent.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/equa-app/truthkeeper/internal/models"
	"github.com/equa-app/truthkeeper/internal/store"
)

var (
	ErrCodeNotFound  = errors.New("join code not found")
	ErrNoPairSession = errors.New("no current pairing session")
	ErrUnknownField  = errors.New("unknown shared field")
)

const (
	joinCodeLength = 6

	// DefaultPollInterval is how often the shared event log is scanned.
	DefaultPollInterval = 1 * time.Second
	// DefaultEventWindow is the look-back window: events older than this at
	// poll time are never delivered.
	DefaultEventWindow = 5 * time.Second
)

// SharedField names one of the closed set of synchronized values.
type SharedField string

const (
	FieldConflictDescription SharedField = "conflict_description"
	FieldPactSignedA         SharedField = "pact_signed_a"
	FieldPactSignedB         SharedField = "pact_signed_b"
	FieldActivePrompt        SharedField = "active_prompt"
)

// Handler receives sync events, both locally emitted and remotely polled.
type Handler func(models.SyncEvent)

// Service is one device's view of the pairing exchange. Two Services sharing
// one store emulate the two-device setup.
type Service struct {
	mu       sync.Mutex
	store    store.Store
	deviceID string
	current  *models.MultiplayerSession

	handlers map[models.EventKind]map[int]Handler
	nextSub  int

	pollInterval time.Duration
	eventWindow  time.Duration

	log  zerolog.Logger
	done chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithPollInterval overrides the event-log scan interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) { s.pollInterval = d }
}

// WithEventWindow overrides the look-back window for remote events.
func WithEventWindow(d time.Duration) Option {
	return func(s *Service) { s.eventWindow = d }
}

// NewService creates a pairing service for the device identified by
// deviceID. Use LoadOrCreateDeviceID to obtain a stable identifier.
func NewService(st store.Store, deviceID string, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:        st,
		deviceID:     deviceID,
		handlers:     make(map[models.EventKind]map[int]Handler),
		pollInterval: DefaultPollInterval,
		eventWindow:  DefaultEventWindow,
		log:          log,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeviceID returns this device's identifier.
func (s *Service) DeviceID() string { return s.deviceID }

// CreateSession registers a new shared session with the caller as partner A
// and returns the join code partner B enters on the other device.
func (s *Service) CreateSession(nameA, nameB string) (string, error) {
	now := time.Now().UTC()
	sess := models.MultiplayerSession{
		ID: uuid.NewString(),
		PartnerA: models.PairPartner{
			ID:          "partner_a",
			Name:        nameA,
			DeviceID:    s.deviceID,
			IsConnected: true,
		},
		PartnerB: models.PairPartner{
			ID:   "partner_b",
			Name: nameB,
		},
		CurrentStep:  models.StepOnboarding,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := s.store.PutPairSession(sess); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	code := randomCode(joinCodeLength)
	if err := s.store.PutJoinCode(code, sess.ID); err != nil {
		return "", fmt.Errorf("failed to store join code: %w", err)
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()

	s.log.Info().Str("session", sess.ID).Str("code", code).Msg("pairing session created")
	return code, nil
}

// JoinSession resolves a join code on a second device, claims the partner B
// slot and announces the join to the host. Unknown codes yield
// ErrCodeNotFound.
func (s *Service) JoinSession(joinCode, name string) (*models.MultiplayerSession, error) {
	id, err := s.store.ResolveJoinCode(joinCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to resolve join code: %w", err)
	}
	sess, err := s.store.GetPairSession(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess.PartnerB.Name = name
	sess.PartnerB.DeviceID = s.deviceID
	sess.PartnerB.IsConnected = true
	sess.LastActivity = time.Now().UTC()
	if err := s.store.PutPairSession(sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()

	s.emit(models.SyncEvent{
		Kind:     models.EventPartnerAction,
		Payload:  map[string]string{"action": "partner_joined", "partnerName": name},
		SenderID: s.deviceID,
	})

	s.log.Info().Str("session", sess.ID).Str("code", joinCode).Msg("joined pairing session")
	out := sess
	return &out, nil
}

// CurrentSession returns a copy of the current session record, or nil.
func (s *Service) CurrentSession() *models.MultiplayerSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	out := *s.current
	return &out
}

// Role reports which partner slot this device occupies.
func (s *Service) Role() models.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.current == nil:
		return models.RoleNone
	case s.current.PartnerA.DeviceID == s.deviceID:
		return models.RoleA
	case s.current.PartnerB.DeviceID == s.deviceID:
		return models.RoleB
	default:
		return models.RoleNone
	}
}

// PartnerInfo returns the other slot's partner record, or nil when this
// device is not part of a session.
func (s *Service) PartnerInfo() *models.PairPartner {
	role := s.Role()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch role {
	case models.RoleA:
		out := s.current.PartnerB
		return &out
	case models.RoleB:
		out := s.current.PartnerA
		return &out
	default:
		return nil
	}
}

// UpdateStep mirrors a journey-step change into the shared record and event
// log.
func (s *Service) UpdateStep(step models.Step) error {
	return s.mutate(func(sess *models.MultiplayerSession) models.SyncEvent {
		sess.CurrentStep = step
		return models.SyncEvent{
			Kind:    models.EventStepChange,
			Payload: map[string]string{"step": string(step)},
		}
	})
}

// UpdateSpeaker mirrors the current-speaker marker.
func (s *Service) UpdateSpeaker(speaker models.Role) error {
	return s.mutate(func(sess *models.MultiplayerSession) models.SyncEvent {
		sess.CurrentSpeaker = speaker
		return models.SyncEvent{
			Kind:    models.EventSpeakerChange,
			Payload: map[string]string{"speaker": string(speaker)},
		}
	})
}

// UpdateShared sets one of the closed shared fields. Boolean fields take
// "true"/"false"; unknown fields are rejected.
func (s *Service) UpdateShared(field SharedField, value string) error {
	apply, err := sharedSetter(field, value)
	if err != nil {
		return err
	}
	return s.mutate(func(sess *models.MultiplayerSession) models.SyncEvent {
		apply(&sess.Shared)
		sess.Shared.Version++
		return models.SyncEvent{
			Kind:    models.EventDataUpdate,
			Payload: map[string]string{"field": string(field), "value": value},
		}
	})
}

// SendNotification appends a notification event without touching session
// state.
func (s *Service) SendNotification(message string, kind string) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoPairSession
	}
	s.mu.Unlock()
	s.emit(models.SyncEvent{
		Kind:     models.EventNotification,
		Payload:  map[string]string{"message": message, "notificationType": kind},
		SenderID: s.deviceID,
	})
	return nil
}

// On registers a handler for an event kind and returns a subscription id for
// Off. Handlers fire synchronously for local emits and during polling for
// remote events.
func (s *Service) On(kind models.EventKind, h Handler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers[kind] == nil {
		s.handlers[kind] = make(map[int]Handler)
	}
	id := s.nextSub
	s.nextSub++
	s.handlers[kind][id] = h
	return id
}

// Off removes a handler registered with On.
func (s *Service) Off(kind models.EventKind, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers[kind], id)
}

// StartPolling scans the shared event log at the configured interval until
// ctx is done or the service is closed. Remote events are delivered only
// while they are younger than the look-back window; there is no
// deduplication, so a slow consumer can see an event more than once and a
// stalled one not at all.
func (s *Service) StartPolling(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.poll()
			}
		}
	}()
}

func (s *Service) poll() {
	events, err := s.store.Events()
	if err != nil {
		s.log.Warn().Err(err).Msg("event poll failed")
		return
	}
	cutoff := time.Now().UTC().Add(-s.eventWindow)
	for _, ev := range events {
		if ev.SenderID == s.deviceID {
			continue
		}
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		s.dispatch(ev)
	}
}

// Disconnect marks this device's slot disconnected and drops all handlers.
func (s *Service) Disconnect() {
	role := s.Role()
	s.mu.Lock()
	if s.current != nil {
		switch role {
		case models.RoleA:
			s.current.PartnerA.IsConnected = false
		case models.RoleB:
			s.current.PartnerB.IsConnected = false
		}
		if err := s.store.PutPairSession(*s.current); err != nil {
			s.log.Warn().Err(err).Msg("failed to persist disconnect")
		}
	}
	s.handlers = make(map[models.EventKind]map[int]Handler)
	s.mu.Unlock()
	close(s.done)
	s.log.Info().Msg("pairing service disconnected")
}

// mutate applies fn to the current session, persists it and emits the
// returned event. Callers without a session get ErrNoPairSession.
func (s *Service) mutate(fn func(*models.MultiplayerSession) models.SyncEvent) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoPairSession
	}
	ev := fn(s.current)
	s.current.LastActivity = time.Now().UTC()
	sess := *s.current
	s.mu.Unlock()

	if err := s.store.PutPairSession(sess); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	ev.SenderID = s.deviceID
	s.emit(ev)
	return nil
}

// emit appends an event to the shared log and fires local handlers.
func (s *Service) emit(ev models.SyncEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := s.store.AppendEvent(ev); err != nil {
		s.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("failed to append event")
	}
	s.dispatch(ev)
}

func (s *Service) dispatch(ev models.SyncEvent) {
	s.mu.Lock()
	hs := make([]Handler, 0, len(s.handlers[ev.Kind]))
	for _, h := range s.handlers[ev.Kind] {
		hs = append(hs, h)
	}
	s.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func sharedSetter(field SharedField, value string) (func(*models.SharedState), error) {
	switch field {
	case FieldConflictDescription:
		return func(st *models.SharedState) { st.ConflictDescription = value }, nil
	case FieldActivePrompt:
		return func(st *models.SharedState) { st.ActivePrompt = value }, nil
	case FieldPactSignedA, FieldPactSignedB:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s wants a boolean, got %q", ErrUnknownField, field, value)
		}
		if field == FieldPactSignedA {
			return func(st *models.SharedState) { st.PactSignedA = b }, nil
		}
		return func(st *models.SharedState) { st.PactSignedB = b }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
}

func randomCode(n int) string {
	letters := []rune("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
