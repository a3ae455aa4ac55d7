// Package store provides the durable storage backends for the TruthKeeper
// core: the state-machine snapshot, the shared pairing records with their
// join-code mappings, the append-only sync event log, and the token ledger.
//
// Two implementations exist: an SQLite-backed store for real deployments and
// an in-memory store for tests. Two pairing service instances that share one
// Store see each other's writes, which is how the two-device exchange works.
package store

import (
	"errors"
	"sync"

	"github.com/equa-app/truthkeeper/internal/models"
)

var (
	// ErrNotFound signals a lookup miss for sessions and join codes.
	ErrNotFound = errors.New("store: not found")
)

// Store is the persistence contract shared by the session state machine, the
// pairing service, and the token ledger.
type Store interface {
	// State-machine snapshot, kept under a single key.
	SaveSnapshot(snap models.Snapshot) error
	LoadSnapshot() (models.Snapshot, bool, error)
	DeleteSnapshot() error

	// Pairing records and join codes.
	PutPairSession(sess models.MultiplayerSession) error
	GetPairSession(id string) (models.MultiplayerSession, error)
	PutJoinCode(code, sessionID string) error
	ResolveJoinCode(code string) (string, error)

	// Shared sync event log. Append-only; Events returns entries in
	// storage-write order.
	AppendEvent(ev models.SyncEvent) error
	Events() ([]models.SyncEvent, error)

	// Token ledger, kept under a single key.
	SaveLedger(l models.TokenLedger) error
	LoadLedger() (models.TokenLedger, bool, error)

	Close() error
}

// MemoryStore is an in-memory Store for tests and throwaway runs.
type MemoryStore struct {
	mu        sync.Mutex
	snapshot  *models.Snapshot
	sessions  map[string]models.MultiplayerSession
	joinCodes map[string]string
	events    []models.SyncEvent
	ledger    *models.TokenLedger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]models.MultiplayerSession),
		joinCodes: make(map[string]string),
	}
}

func (m *MemoryStore) SaveSnapshot(snap models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = &snap
	return nil
}

func (m *MemoryStore) LoadSnapshot() (models.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return models.Snapshot{}, false, nil
	}
	return *m.snapshot, true, nil
}

func (m *MemoryStore) DeleteSnapshot() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = nil
	return nil
}

func (m *MemoryStore) PutPairSession(sess models.MultiplayerSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	return nil
}

func (m *MemoryStore) GetPairSession(id string) (models.MultiplayerSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return models.MultiplayerSession{}, ErrNotFound
	}
	return sess, nil
}

func (m *MemoryStore) PutJoinCode(code, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinCodes[code] = sessionID
	return nil
}

func (m *MemoryStore) ResolveJoinCode(code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.joinCodes[code]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (m *MemoryStore) AppendEvent(ev models.SyncEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryStore) Events() ([]models.SyncEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.SyncEvent, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *MemoryStore) SaveLedger(l models.TokenLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = &l
	return nil
}

func (m *MemoryStore) LoadLedger() (models.TokenLedger, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledger == nil {
		return models.TokenLedger{}, false, nil
	}
	return *m.ledger, true, nil
}

func (m *MemoryStore) Close() error { return nil }
