// Package audit persists the condition engine's state-transition history to
// SQLite for post-hoc inspection, the write-only audit trail described by
// the rules-engine specification: it observes transitions but never feeds
// them back into live condition state.
package audit

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"

	"github.com/lumenhome/condrules/pkg/engine"
	"github.com/lumenhome/condrules/pkg/logx"
)

// Store records every condition transition to a SQLite database,
// implementing engine.Recorder. Each row also carries a blake2b hash over
// its own fields chained with the previous row's hash, so a row altered or
// deleted out from under the log breaks the chain at that point — cheap
// tamper evidence for an audit trail, not cryptographic non-repudiation.
type Store struct {
	db     *sql.DB
	logger *logx.Logger

	mu       sync.Mutex
	lastHash [blake2b.Size256]byte
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string, logger *logx.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const createTableSQL = `
	CREATE TABLE IF NOT EXISTS condition_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id INTEGER NOT NULL,
		identifier TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		transitioned_at DATETIME NOT NULL,
		chain_hash TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_condition_transitions_instance ON condition_transitions(instance_id);
	CREATE INDEX IF NOT EXISTS idx_condition_transitions_time ON condition_transitions(transitioned_at);
	`
	_, err := s.db.Exec(createTableSQL)
	return err
}

// RecordTransition implements engine.Recorder. It never returns an error to
// the engine's actor loop; write failures are logged and dropped, since the
// audit trail must not be able to stall condition evaluation.
func (s *Store) RecordTransition(instanceID int64, identifier string, from, to engine.ConditionState, at time.Time) {
	s.mu.Lock()
	hash := s.chainHash(instanceID, identifier, from, to, at)
	s.lastHash = hash
	s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO condition_transitions (instance_id, identifier, from_state, to_state, transitioned_at, chain_hash) VALUES (?, ?, ?, ?, ?, ?)`,
		instanceID, identifier, from.String(), to.String(), at, hex.EncodeToString(hash[:]),
	)
	if err != nil {
		s.logger.Warn("failed to record condition transition", "instance_id", instanceID, "error", err)
	}
}

func (s *Store) chainHash(instanceID int64, identifier string, from, to engine.ConditionState, at time.Time) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)
	h.Write(s.lastHash[:])
	fmt.Fprintf(h, "%d|%s|%s|%s|%d", instanceID, identifier, from.String(), to.String(), at.UnixNano())
	var out [blake2b.Size256]byte
	copy(out[:], h.Sum(nil))
	return out
}

// History returns the most recent transitions for instanceID, newest first,
// capped at limit rows.
func (s *Store) History(instanceID int64, limit int) ([]Transition, error) {
	rows, err := s.db.Query(
		`SELECT identifier, from_state, to_state, transitioned_at FROM condition_transitions
		 WHERE instance_id = ? ORDER BY transitioned_at DESC LIMIT ?`,
		instanceID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.Identifier, &t.From, &t.To, &t.At); err != nil {
			return nil, err
		}
		t.InstanceID = instanceID
		out = append(out, t)
	}
	return out, rows.Err()
}

// Transition is a single recorded condition state change.
type Transition struct {
	InstanceID int64
	Identifier string
	From       string
	To         string
	At         time.Time
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
