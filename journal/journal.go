// Package journal records unit executions in SQLite. A Journal is a
// loader.Hooks: attach it with loader.WithHooks and every body execution
// becomes a row in the loads table, with a per-unit rollup in units.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"go-require/loader"
)

const (
	// MaxConsecutiveErrors marks a unit as failing after this many failed
	// executions in a row.
	MaxConsecutiveErrors = 3

	StatusOK    = "ok"
	StatusError = "error"
)

var ErrUnknownUnit = errors.New("unit has no journal entries")

// Entry is one recorded execution.
type Entry struct {
	ID         string        `json:"id"`
	Identity   string        `json:"identity"`
	File       string        `json:"file"`
	Mode       string        `json:"mode"`
	Epoch      uint64        `json:"epoch"`
	Generation int           `json:"generation"`
	FromCache  bool          `json:"from_cache"`
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
}

// UnitStatus is the rollup for one identity.
type UnitStatus struct {
	Identity     string    `json:"identity"`
	Loads        int       `json:"loads"`
	ErrorCount   int       `json:"error_count"`
	Status       string    `json:"status"`
	LastError    string    `json:"last_error,omitempty"`
	LastLoadedAt time.Time `json:"last_loaded_at"`
}

type pending struct {
	id      string
	file    string
	started time.Time
}

// Journal writes execution records. Write failures are logged and never
// affect the load being recorded.
type Journal struct {
	db      *sql.DB
	mu      sync.Mutex
	pending map[*loader.Unit]pending
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Printf("Warning: Failed to enable WAL mode: %v", err)
	}

	j, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// New creates the journal tables in db if needed.
func New(db *sql.DB) (*Journal, error) {
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Journal{db: db, pending: make(map[*loader.Unit]pending)}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS loads (
		id TEXT PRIMARY KEY,
		identity TEXT NOT NULL,
		file TEXT NOT NULL,
		mode TEXT NOT NULL,
		epoch INTEGER NOT NULL DEFAULT 0,
		generation INTEGER NOT NULL DEFAULT 0,
		ok INTEGER NOT NULL,
		from_cache INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create loads table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_loads_identity ON loads(identity)`); err != nil {
		log.Printf("Warning: Failed to create loads index: %v", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS units (
		identity TEXT PRIMARY KEY,
		loads INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'ok',
		last_error TEXT,
		last_loaded_at DATETIME
	)`); err != nil {
		return fmt.Errorf("failed to create units table: %w", err)
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) BeforeExec(_ *loader.Session, u *loader.Unit, res loader.Resolved) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	j.mu.Lock()
	j.pending[u] = pending{id: id.String(), file: res.Load, started: time.Now().UTC()}
	j.mu.Unlock()
}

func (j *Journal) AfterExec(_ *loader.Session, u *loader.Unit, execErr error) {
	j.mu.Lock()
	p, ok := j.pending[u]
	delete(j.pending, u)
	j.mu.Unlock()
	if !ok {
		return
	}

	var epoch uint64
	if ctx := u.Context(); ctx != nil {
		epoch = ctx.Epoch
	}
	var msg sql.NullString
	if execErr != nil {
		msg = sql.NullString{String: execErr.Error(), Valid: true}
	}

	if _, err := j.db.Exec(`INSERT INTO loads
		(id, identity, file, mode, epoch, generation, from_cache, ok, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.id, u.Identity, p.file, Mode(u.Context()), epoch, u.Generation(), u.FromCache(),
		execErr == nil, msg, p.started, time.Since(p.started).Milliseconds(),
	); err != nil {
		log.Printf("Warning: Failed to journal load of %s: %v", u.Identity, err)
		return
	}

	if execErr != nil {
		j.recordError(u.Identity, msg.String)
	} else {
		j.recordSuccess(u.Identity, p.started)
	}
}

func (j *Journal) recordError(identity, msg string) {
	if _, err := j.db.Exec(`INSERT INTO units (identity, loads, error_count, last_error)
		VALUES (?, 1, 1, ?)
		ON CONFLICT(identity) DO UPDATE SET
			loads = loads + 1,
			error_count = error_count + 1,
			last_error = excluded.last_error`,
		identity, msg,
	); err != nil {
		log.Printf("Warning: Failed to record error for %s: %v", identity, err)
		return
	}

	var errorCount int
	if err := j.db.QueryRow("SELECT error_count FROM units WHERE identity = ?", identity).Scan(&errorCount); err != nil {
		log.Printf("Warning: Failed to read error count for %s: %v", identity, err)
		return
	}

	if errorCount >= MaxConsecutiveErrors {
		if _, err := j.db.Exec("UPDATE units SET status = ? WHERE identity = ?", StatusError, identity); err != nil {
			log.Printf("Warning: Failed to mark %s as failing: %v", identity, err)
			return
		}
		log.Printf("Unit %s failed %d times in a row", identity, errorCount)
	}
}

func (j *Journal) recordSuccess(identity string, at time.Time) {
	if _, err := j.db.Exec(`INSERT INTO units (identity, loads, error_count, status, last_loaded_at)
		VALUES (?, 1, 0, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			loads = loads + 1,
			error_count = 0,
			status = excluded.status,
			last_error = NULL,
			last_loaded_at = excluded.last_loaded_at`,
		identity, StatusOK, at,
	); err != nil {
		log.Printf("Warning: Failed to record load of %s: %v", identity, err)
	}
}

// Mode names how a unit was executed, from its load context.
func Mode(ctx *loader.Context) string {
	switch {
	case ctx == nil || !ctx.Reload:
		return "load"
	case ctx.Cascade && ctx.InPlace:
		return "cascade-inplace"
	case ctx.Cascade:
		return "cascade"
	case ctx.InPlace:
		return "reload-inplace"
	}
	return "reload"
}

// Recent returns up to limit entries for identity, newest first. An empty
// identity returns entries for every unit.
func (j *Journal) Recent(identity string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, identity, file, mode, epoch, generation, from_cache, ok,
		COALESCE(error, ''), started_at, duration_ms FROM loads`
	args := []interface{}{}
	if identity != "" {
		query += " WHERE identity = ?"
		args = append(args, identity)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loads: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.Identity, &e.File, &e.Mode, &e.Epoch, &e.Generation,
			&e.FromCache, &e.OK, &e.Error, &e.StartedAt, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan load: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Status returns the rollup for identity.
func (j *Journal) Status(identity string) (UnitStatus, error) {
	s := UnitStatus{Identity: identity}
	var lastError sql.NullString
	var lastLoaded sql.NullTime
	err := j.db.QueryRow(`SELECT loads, error_count, status, last_error, last_loaded_at
		FROM units WHERE identity = ?`, identity,
	).Scan(&s.Loads, &s.ErrorCount, &s.Status, &lastError, &lastLoaded)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: %s", ErrUnknownUnit, identity)
	}
	if err != nil {
		return s, fmt.Errorf("failed to query unit status: %w", err)
	}
	s.LastError = lastError.String
	s.LastLoadedAt = lastLoaded.Time
	return s, nil
}

// Failing lists identities whose status is error.
func (j *Journal) Failing() ([]string, error) {
	rows, err := j.db.Query("SELECT identity FROM units WHERE status = ? ORDER BY identity", StatusError)
	if err != nil {
		return nil, fmt.Errorf("failed to query failing units: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
