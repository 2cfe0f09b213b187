// Package audit records an append-only trail of serviced requests, join
// attempts, and redirect dispatches to a local sqlite database. This is
// operational/observability state, separate from and outliving no part of
// the in-memory netchannel session state, which remains unpersisted.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/breadpudding/matchmaking/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	elapsed_micros INTEGER NOT NULL,
	recorded_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS joins (
	id TEXT PRIMARY KEY,
	addr TEXT NOT NULL,
	name TEXT NOT NULL,
	accepted INTEGER NOT NULL,
	recorded_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS redirects (
	id TEXT PRIMARY KEY,
	addr TEXT NOT NULL,
	backend TEXT NOT NULL,
	score INTEGER NOT NULL,
	recorded_at DATETIME NOT NULL
);
`

// Recorder is a sqlite-backed audit trail. It implements
// dispatch.Recorder.
type Recorder struct {
	db  *sql.DB
	log *logging.Logger
}

// Open creates or opens the audit database at path and ensures its schema
// exists.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: creating schema: %w", err)
	}
	return &Recorder{db: db, log: logging.New("audit")}, nil
}

// Close releases the underlying database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// RecordRequest logs one serviced datagram's kind and processing time.
func (r *Recorder) RecordRequest(kind string, elapsed time.Duration) {
	_, err := r.db.Exec(
		`INSERT INTO requests (id, kind, elapsed_micros, recorded_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), kind, elapsed.Microseconds(), time.Now().UTC(),
	)
	if err != nil {
		r.log.Errorf("recording request: %v", err)
	}
}

// RecordJoin logs a favorites-tab join attempt, accepted or rejected.
func (r *Recorder) RecordJoin(addr, name string, accepted bool) {
	_, err := r.db.Exec(
		`INSERT INTO joins (id, addr, name, accepted, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), addr, name, accepted, time.Now().UTC(),
	)
	if err != nil {
		r.log.Errorf("recording join: %v", err)
	}
}

// RecordRedirect logs a matchmaking redirect dispatch.
func (r *Recorder) RecordRedirect(addr, backend string, score int) {
	_, err := r.db.Exec(
		`INSERT INTO redirects (id, addr, backend, score, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), addr, backend, score, time.Now().UTC(),
	)
	if err != nil {
		r.log.Errorf("recording redirect: %v", err)
	}
}
