package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent represents a record stored in audit_logs. Diff carries the
// field-level change set so that "why was this allowed/denied" and "what
// changed" never require re-deriving state from application logs.
type AuditEvent struct {
	EntityType string
	EntityID   string
	Action     string
	ActorID    int64
	Diff       map[string]any
	TenantID   *int64
	ProgramID  *int64
	At         time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

const auditInsert = `INSERT INTO audit_logs (entity_type, entity_id, action, actor_id, diff, tenant_id, program_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE(NULLIF($8::timestamptz, '0001-01-01'::timestamptz), NOW()))`

// Record persists the event using the pool.
func (l *AuditLogger) Record(ctx context.Context, ev AuditEvent) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	diffJSON, err := marshalEvent(ev)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, auditInsert, ev.EntityType, ev.EntityID, ev.Action, ev.ActorID, diffJSON, ev.TenantID, ev.ProgramID, ev.At)
	return err
}

// RecordTx persists the event inside an existing transaction so that a
// mutation and its audit trail commit together or not at all.
func (l *AuditLogger) RecordTx(ctx context.Context, tx pgx.Tx, ev AuditEvent) error {
	diffJSON, err := marshalEvent(ev)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, auditInsert, ev.EntityType, ev.EntityID, ev.Action, ev.ActorID, diffJSON, ev.TenantID, ev.ProgramID, ev.At)
	return err
}

func marshalEvent(ev AuditEvent) ([]byte, error) {
	if ev.Action == "" || ev.EntityType == "" || ev.EntityID == "" {
		return nil, errors.New("audit event requires action/entity_type/entity_id (action=" + strconv.Quote(ev.Action) + ")")
	}
	return json.Marshal(ev.Diff)
}
