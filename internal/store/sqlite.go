package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/agentproctor/agentproctor/internal/constraint"
)

// Store defines the persistence interface for graded sessions.
type Store interface {
	// Initialize creates tables and indexes.
	Initialize() error
	// Close cleanly shuts down the store.
	Close() error

	SaveResult(rec *SessionRecord, violations []constraint.Violation) error
	GetResult(sessionID string) (*SessionRecord, error)
	ListResults(limit int) ([]*SessionRecord, error)
	ListViolations(sessionID string) ([]*ViolationRecord, error)

	// VerifyLedger checks the hash chain over all stored sessions and,
	// when broken, returns the id of the first bad record.
	VerifyLedger() (bool, string, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed result store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		test_id         TEXT NOT NULL,
		agent_id        TEXT,
		started_at      DATETIME NOT NULL,
		finished_at     DATETIME NOT NULL,
		score           REAL NOT NULL,
		security_score  REAL NOT NULL,
		workflow_score  REAL NOT NULL,
		pass_threshold  REAL NOT NULL,
		passed          INTEGER NOT NULL,
		tool_sequence   TEXT,
		hash            TEXT NOT NULL,
		prev_hash       TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS violations (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL,
		constraint_id   TEXT NOT NULL,
		message         TEXT,
		penalty         INTEGER NOT NULL,
		tool_name       TEXT,
		tool_args       TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_test ON sessions(test_id);
	CREATE INDEX IF NOT EXISTS idx_violations_session ON violations(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult stores one graded session and its violations atomically.
func (s *SQLiteStore) SaveResult(rec *SessionRecord, violations []constraint.Violation) error {
	seq, err := json.Marshal(rec.ToolCallSequence)
	if err != nil {
		return fmt.Errorf("failed to marshal tool sequence: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Chain to the latest ledger entry. Reading inside the transaction
	// keeps concurrent saves from sharing a prev_hash.
	prev := LedgerSeed()
	err = tx.QueryRow(`SELECT hash FROM sessions ORDER BY rowid DESC LIMIT 1`).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read ledger head: %w", err)
	}
	rec.PrevHash = prev
	rec.Hash = RecordHash(rec)

	_, err = tx.Exec(`
		INSERT INTO sessions
			(id, test_id, agent_id, started_at, finished_at, score,
			 security_score, workflow_score, pass_threshold, passed, tool_sequence,
			 hash, prev_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TestID, rec.AgentID, rec.StartedAt, rec.FinishedAt,
		rec.Score, rec.SecurityScore, rec.WorkflowScore, rec.PassThreshold,
		rec.Passed, string(seq), rec.Hash, rec.PrevHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for _, v := range violations {
		args, err := json.Marshal(v.ToolArgs)
		if err != nil {
			return fmt.Errorf("failed to marshal violation args: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO violations
				(id, session_id, constraint_id, message, penalty, tool_name, tool_args)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ulid.Make().String(), rec.ID, v.ConstraintID, v.Message, v.Penalty,
			v.ToolName, string(args),
		)
		if err != nil {
			return fmt.Errorf("failed to insert violation: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetResult(sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, test_id, agent_id, started_at, finished_at, score,
		       security_score, workflow_score, pass_threshold, passed, tool_sequence,
		       hash, prev_hash
		FROM sessions WHERE id = ?`, sessionID)

	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) ListResults(limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, test_id, agent_id, started_at, finished_at, score,
		       security_score, workflow_score, pass_threshold, passed, tool_sequence,
		       hash, prev_hash
		FROM sessions ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// VerifyLedger loads every session in insertion order and verifies the
// hash chain end to end.
func (s *SQLiteStore) VerifyLedger() (bool, string, error) {
	rows, err := s.db.Query(`
		SELECT id, test_id, agent_id, started_at, finished_at, score,
		       security_score, workflow_score, pass_threshold, passed, tool_sequence,
		       hash, prev_hash
		FROM sessions ORDER BY rowid ASC`)
	if err != nil {
		return false, "", fmt.Errorf("failed to load ledger: %w", err)
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return false, "", err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return false, "", err
	}

	valid, brokenAt := VerifyChain(records)
	if !valid {
		return false, records[brokenAt].ID, nil
	}
	return true, "", nil
}

func (s *SQLiteStore) ListViolations(sessionID string) ([]*ViolationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, constraint_id, message, penalty, tool_name, tool_args
		FROM violations WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var out []*ViolationRecord
	for rows.Next() {
		var rec ViolationRecord
		var args string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ConstraintID,
			&rec.Message, &rec.Penalty, &rec.ToolName, &args); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		if args != "" && args != "null" {
			if err := json.Unmarshal([]byte(args), &rec.ToolArgs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal violation args: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanSession.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(sc scanner) (*SessionRecord, error) {
	var rec SessionRecord
	var seq string
	if err := sc.Scan(&rec.ID, &rec.TestID, &rec.AgentID, &rec.StartedAt,
		&rec.FinishedAt, &rec.Score, &rec.SecurityScore, &rec.WorkflowScore,
		&rec.PassThreshold, &rec.Passed, &seq, &rec.Hash, &rec.PrevHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if seq != "" && seq != "null" {
		if err := json.Unmarshal([]byte(seq), &rec.ToolCallSequence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool sequence: %w", err)
		}
	}
	return &rec, nil
}
