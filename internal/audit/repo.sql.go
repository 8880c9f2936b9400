package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLRepository membaca audit_logs yang ditulis oleh shared.AuditLogger.
type SQLRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository membuat repository audit berbasis pgx.
func NewSQLRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{pool: pool}
}

const timelineBaseQuery = `
SELECT occurred_at, actor_id, action, entity_type, entity_id, tenant_id, program_id, COALESCE(diff::text, '')
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2 + INTERVAL '1 day')
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::bigint IS NULL OR tenant_id = $4)
  AND ($5::text IS NULL OR entity_type = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, entity_id DESC`

// TimelineWindow mengambil satu jendela halaman.
func (r *SQLRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	query := timelineBaseQuery + " OFFSET $7 LIMIT $8"
	args := append(filterArgs(filters), offset, limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline window: %w", err)
	}
	defer rows.Close()
	return collectTimelineRows(rows)
}

// TimelineAll mengambil seluruh baris yang cocok, untuk ekspor.
func (r *SQLRepository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineBaseQuery, filterArgs(filters)...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline all: %w", err)
	}
	defer rows.Close()
	return collectTimelineRows(rows)
}

func filterArgs(filters TimelineFilters) []any {
	return []any{
		toPgTime(filters.From),
		toPgTime(filters.To),
		optionalID(filters.ActorID),
		optionalID(filters.TenantID),
		optionalText(filters.EntityType),
		optionalText(filters.Action),
	}
}

func collectTimelineRows(rows pgx.Rows) ([]TimelineRow, error) {
	var result []TimelineRow
	for rows.Next() {
		var (
			row      TimelineRow
			tenantID pgtype.Int8
			program  pgtype.Int8
		)
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.EntityType, &row.EntityID, &tenantID, &program, &row.Diff); err != nil {
			return nil, fmt.Errorf("audit: scan timeline row: %w", err)
		}
		if tenantID.Valid {
			row.TenantID = strconv.FormatInt(tenantID.Int64, 10)
		}
		if program.Valid {
			row.ProgramID = strconv.FormatInt(program.Int64, 10)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate timeline rows: %w", err)
	}
	return result, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalID(id int64) pgtype.Int8 {
	if id <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: id, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
