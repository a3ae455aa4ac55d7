package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/equa-app/truthkeeper/internal/models"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

const (
	snapshotKey = "truthkeeper_session"
	ledgerKey   = "truthkeeper_tokens"

	dirPermissions = 0755
)

// SQLiteStore persists all core state in a single SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (and if necessary creates) the database at path and
// applies the embedded migrations.
func NewSQLiteStore(path string, log zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path not set")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Debug().Str("path", path).Msg("sqlite store ready")
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) SaveSnapshot(snap models.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO snapshots (key, body) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body`,
		snapshotKey, string(body))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted snapshot, or ok=false when none exists
// or when the stored shape no longer decodes. A corrupt snapshot is treated
// as absent rather than an error so startup falls back to defaults.
func (s *SQLiteStore) LoadSnapshot() (models.Snapshot, bool, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM snapshots WHERE key = ?`, snapshotKey).Scan(&body)
	if err == sql.ErrNoRows {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		s.log.Warn().Err(err).Msg("discarding undecodable snapshot")
		return models.Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *SQLiteStore) DeleteSnapshot() error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE key = ?`, snapshotKey); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PutPairSession(sess models.MultiplayerSession) error {
	body, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode pair session: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO pair_sessions (id, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		sess.ID, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save pair session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPairSession(id string) (models.MultiplayerSession, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM pair_sessions WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return models.MultiplayerSession{}, ErrNotFound
	}
	if err != nil {
		return models.MultiplayerSession{}, fmt.Errorf("failed to load pair session %s: %w", id, err)
	}
	var sess models.MultiplayerSession
	if err := json.Unmarshal([]byte(body), &sess); err != nil {
		return models.MultiplayerSession{}, fmt.Errorf("failed to decode pair session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) PutJoinCode(code, sessionID string) error {
	_, err := s.db.Exec(
		`INSERT INTO join_codes (code, session_id) VALUES (?, ?)
		 ON CONFLICT(code) DO UPDATE SET session_id = excluded.session_id`,
		code, sessionID)
	if err != nil {
		return fmt.Errorf("failed to save join code: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResolveJoinCode(code string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT session_id FROM join_codes WHERE code = ?`, code).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve join code: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) AppendEvent(ev models.SyncEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sync_events (kind, payload, timestamp, sender_id) VALUES (?, ?, ?, ?)`,
		string(ev.Kind), string(payload), ev.Timestamp.UTC(), ev.SenderID)
	if err != nil {
		return fmt.Errorf("failed to append sync event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Events() ([]models.SyncEvent, error) {
	rows, err := s.db.Query(`SELECT kind, payload, timestamp, sender_id FROM sync_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync events: %w", err)
	}
	defer rows.Close()

	var out []models.SyncEvent
	for rows.Next() {
		var (
			kind    string
			payload string
			ev      models.SyncEvent
		)
		if err := rows.Scan(&kind, &payload, &ev.Timestamp, &ev.SenderID); err != nil {
			return nil, fmt.Errorf("failed to scan sync event: %w", err)
		}
		ev.Kind = models.EventKind(kind)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveLedger(l models.TokenLedger) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to encode token ledger: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO token_ledgers (key, body) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body`,
		ledgerKey, string(body))
	if err != nil {
		return fmt.Errorf("failed to save token ledger: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadLedger() (models.TokenLedger, bool, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM token_ledgers WHERE key = ?`, ledgerKey).Scan(&body)
	if err == sql.ErrNoRows {
		return models.TokenLedger{}, false, nil
	}
	if err != nil {
		return models.TokenLedger{}, false, fmt.Errorf("failed to load token ledger: %w", err)
	}
	var l models.TokenLedger
	if err := json.Unmarshal([]byte(body), &l); err != nil {
		s.log.Warn().Err(err).Msg("discarding undecodable token ledger")
		return models.TokenLedger{}, false, nil
	}
	return l, true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
