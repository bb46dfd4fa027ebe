package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tradectl/controlplane/internal/metrics"
)

// execer is the slice of *pgxpool.Pool this sink needs, so tests can
// substitute pgxmock.PgxPoolIface without a real Postgres instance.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertEventSQL = `
	INSERT INTO audit_events (
		id, timestamp, event_type, severity, actor, resource,
		action, success, error_message, metadata
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// PostgresSink persists every event to Postgres via pgx, grounded on the
// teacher's persistEvent. It never returns an error to the caller: Log
// swallows its own write failures (after metrics+logging it) because an
// audit-write failure must not block trading control flow (spec §2.B).
type PostgresSink struct {
	db  execer
	log zerolog.Logger
}

// NewPostgresSink wraps an already-connected pool. The caller owns the
// pool's lifecycle (pgxpool.New / pool.Close).
func NewPostgresSink(pool *pgxpool.Pool, log zerolog.Logger) *PostgresSink {
	return newPostgresSink(pool, log)
}

func newPostgresSink(db execer, log zerolog.Logger) *PostgresSink {
	return &PostgresSink{db: db, log: log.With().Str("component", "audit").Logger()}
}

func (s *PostgresSink) Log(ctx context.Context, event Event) {
	start := time.Now()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to marshal audit metadata")
			metadataJSON = []byte("{}")
		}
	}

	_, err := s.db.Exec(ctx, insertEventSQL,
		event.ID, event.Timestamp, event.EventType, event.Severity,
		event.Actor, event.Resource, event.Action, event.Success,
		event.ErrorMsg, metadataJSON,
	)

	durationMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		s.log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to persist audit event")
		metrics.RecordAuditLog(string(event.EventType), false, durationMs)
		metrics.RecordAuditLogFailure("persist_error", string(event.EventType))
		return
	}
	metrics.RecordAuditLog(string(event.EventType), true, durationMs)
}
