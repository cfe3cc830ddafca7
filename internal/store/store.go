package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/votelab/votepipe/internal/config"
	"github.com/votelab/votepipe/internal/model"
)

// Error wraps any I/O or constraint failure from the durable store.
// The expected conflict-then-update path of the upsert is not an error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

const schema = `
CREATE TABLE IF NOT EXISTS votes (
    id TEXT PRIMARY KEY,
    vote TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Store is a handle on the relational vote store. Each component opens
// its own Store so ingestion writes and tally reads never contend for
// the same connection.
type Store struct {
	db *sql.DB
}

// Connect opens a single-connection handle and idempotently ensures the
// votes schema exists. Safe to call on every startup and reconnect.
func Connect(ctx context.Context, cfg config.Database) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL())
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &Error{Op: "ping", Err: err}
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the votes table if it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return &Error{Op: "ensure schema", Err: err}
	}
	return nil
}

// NewWithDB wraps an existing database handle. The schema is assumed to
// be in place; used by tests and by callers that manage the pool.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// HealthCheck reports whether the connection can complete a trivial
// round trip. It never returns an error; false means reconnect.
func (s *Store) HealthCheck(ctx context.Context) bool {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	return err == nil
}

// UpsertVote records the voter's choice, overwriting any earlier choice
// and its timestamp for the same voter. Last write wins.
func (s *Store) UpsertVote(ctx context.Context, voterID string, choice model.Choice) error {
	const q = `
		INSERT INTO votes (id, vote) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET vote = EXCLUDED.vote, created_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, voterID, string(choice)); err != nil {
		return &Error{Op: "upsert vote", Err: err}
	}
	return nil
}

// Tally recomputes the aggregate count per option from scratch.
func (s *Store) Tally(ctx context.Context) (model.Tally, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT vote, COUNT(*) FROM votes GROUP BY vote")
	if err != nil {
		return model.Tally{}, &Error{Op: "tally", Err: err}
	}
	defer rows.Close()

	var tally model.Tally
	for rows.Next() {
		var vote string
		var count int
		if err := rows.Scan(&vote, &count); err != nil {
			return model.Tally{}, &Error{Op: "tally scan", Err: err}
		}
		switch choice, _ := model.ParseChoice(vote); choice {
		case model.ChoiceA:
			tally.A = count
		case model.ChoiceB:
			tally.B = count
		}
	}
	if err := rows.Err(); err != nil {
		return model.Tally{}, &Error{Op: "tally", Err: err}
	}
	return tally, nil
}

// Check implements health.Checker.
func (s *Store) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !s.HealthCheck(ctx) {
		return &Error{Op: "health check", Err: fmt.Errorf("round trip failed")}
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}
