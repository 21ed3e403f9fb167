// Package persistence writes the settlement event log to Postgres.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/boltfi/protocol-v1/internal/event"
)

// EventRow is one row of vault_log.events.
type EventRow struct {
	Sequence  int64
	EventType string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

// RowFromEnvelope flattens an event envelope into its storage row.
func RowFromEnvelope(env event.Envelope) (EventRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal payload seq=%d: %w", env.Sequence, err)
	}
	return EventRow{
		Sequence:  env.Sequence,
		EventType: env.Type.String(),
		Payload:   payload,
		Timestamp: env.Timestamp,
	}, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter batch-inserts event rows. Multi-row INSERT with
// ON CONFLICT DO NOTHING makes replays after a crash idempotent:
// the sequence is the primary key and re-writes of an already
// persisted event are silently skipped.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteBatch inserts a batch of event rows through ex (a *sql.Tx when
// the caller wants the batch atomic, or the DB itself).
func (w *EventLogWriter) WriteBatch(ctx context.Context, ex execer, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO vault_log.events
		(sequence, event_type, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*4)
	for i, r := range rows {
		base := i * 4
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4,
		))
		args = append(args, r.Sequence, r.EventType, r.Payload, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest persisted event sequence, or zero
// when the log is empty.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM vault_log.events`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}
