// Package db is the append-only relational store for raw behaviour
// events (spec.md §1, §4.4): every discrete client event is written to
// Postgres's behavior_events table before scoring, independent of
// whether scoring later finds it suspicious, so the table can feed
// classifier retraining (grounded in the Python original's
// behavior_consumer.py::_persist_event).
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/ocx/proctoring-ai/internal/circuitbreaker"
)

// EventStore appends raw behavior events. Every call is best-effort: a
// store outage must never block or crash the behavior consumer
// (spec.md §7, Degraded capability class).
type EventStore interface {
	AppendEvent(ctx context.Context, sessionID, eventType string, at time.Time, metadata map[string]any) error
}

// PostgresEventStore is the production EventStore, guarded by a circuit
// breaker so a stuck database stops burning request latency on every
// behavior event once it is clearly down.
type PostgresEventStore struct {
	db *sql.DB
	cb *circuitbreaker.CircuitBreaker
}

// NewPostgresEventStore opens the connection pool and registers its
// circuit breaker on breakers, so /health can report this collaborator's
// trip state alongside every other guarded call.
func NewPostgresEventStore(databaseURL string, breakers *circuitbreaker.Manager) (*PostgresEventStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	cfg := circuitbreaker.DefaultConfig("behavior-events-store")
	cfg.OnStateChange = nil // this store logs its own failures; avoid double-logging

	return &PostgresEventStore{
		db: db,
		cb: breakers.GetOrCreate("behavior-events-store", cfg),
	}, nil
}

// AppendEvent inserts one row inside its own transaction. Any failure —
// including the circuit breaker being open — is returned to the caller,
// who is expected to log and continue (spec.md §7).
func (s *PostgresEventStore) AppendEvent(ctx context.Context, sessionID, eventType string, at time.Time, metadata map[string]any) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = circuitbreaker.ExecuteWithFallback(s.cb,
		func() (struct{}, error) {
			return struct{}{}, s.insert(ctx, sessionID, eventType, at, metaJSON)
		},
		func(cbErr error) (struct{}, error) {
			return struct{}{}, cbErr
		},
	)
	return err
}

func (s *PostgresEventStore) insert(ctx context.Context, sessionID, eventType string, at time.Time, metaJSON []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO behavior_events (session_id, event_type, "timestamp", metadata)
		VALUES ($1, $2, $3, $4)
	`, sessionID, eventType, at, metaJSON)
	if err != nil {
		return fmt.Errorf("insert behavior_events: %w", err)
	}

	return tx.Commit()
}

// Ping reports whether the database is currently reachable, for the
// /health endpoint. It bypasses the circuit breaker deliberately: health
// checks need the database's actual current state, not a cached trip.
func (s *PostgresEventStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *PostgresEventStore) Close() error {
	return s.db.Close()
}
