package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/tracemesh/tracemesh/internal/model"
)

const spanColumns = `span_id, trace_id, parent_span_id, operation_name, service_name,
	 agent_id, agent_type, start_time, end_time, duration_ms, status,
	 communication_type, container_id, namespace, tags, logs, created_at, updated_at`

// maxSpansPerTrace caps enrichment fan-in for a single trace. Callers can
// detect truncation by comparing the result length against this cap.
const maxSpansPerTrace = 10000

// InsertSpan inserts a new span row.
func (db *DB) InsertSpan(ctx context.Context, s model.Span) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO spans (`+spanColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.SpanID, s.TraceID, s.ParentSpanID, s.OperationName, s.ServiceName,
		s.AgentID, s.AgentType, s.StartTime, s.EndTime, s.DurationMs, string(s.Status),
		s.CommunicationType, s.ContainerID, s.Namespace,
		encodeTags(s.Tags), encodeLogs(s.Logs), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert span: %w", err)
	}
	return nil
}

// GetSpan retrieves a span by id. Returns ErrNotFound if absent.
func (db *DB) GetSpan(ctx context.Context, spanID string) (model.Span, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+spanColumns+` FROM spans WHERE span_id = $1`, spanID)
	s, err := db.scanSpan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Span{}, ErrNotFound
		}
		return model.Span{}, fmt.Errorf("storage: get span: %w", err)
	}
	return s, nil
}

// UpdateSpan applies a partial update and returns the updated row.
// Returns ErrNotFound if the id does not resolve.
func (db *DB) UpdateSpan(ctx context.Context, spanID string, upd model.SpanUpdate) (model.Span, error) {
	sets := []string{"updated_at = now()"}
	var args []any
	idx := 1

	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if upd.OperationName != nil {
		add("operation_name", *upd.OperationName)
	}
	if upd.AgentType != nil {
		add("agent_type", *upd.AgentType)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.EndTime != nil {
		add("end_time", *upd.EndTime)
	}
	if upd.DurationMs != nil {
		add("duration_ms", *upd.DurationMs)
	}
	if upd.Tags != nil {
		add("tags", encodeTags(upd.Tags))
	}
	if upd.Logs != nil {
		add("logs", encodeLogs(upd.Logs))
	}

	args = append(args, spanID)
	query := fmt.Sprintf(
		`UPDATE spans SET %s WHERE span_id = $%d RETURNING `+spanColumns,
		strings.Join(sets, ", "), idx,
	)

	s, err := db.scanSpan(db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Span{}, ErrNotFound
		}
		return model.Span{}, fmt.Errorf("storage: update span: %w", err)
	}
	return s, nil
}

// QuerySpans executes a filtered span query ordered by start time ascending
// (causal order within a trace) with limit/offset pagination.
func (db *DB) QuerySpans(ctx context.Context, f model.SpanFilter) ([]model.Span, error) {
	where, args := buildSpanWhere(f, 1)

	limit, offset := normalizePage(f.Limit, f.Offset, model.DefaultSpanLimit)
	query := fmt.Sprintf(
		`SELECT `+spanColumns+` FROM spans%s ORDER BY start_time ASC LIMIT %d OFFSET %d`,
		where, limit, offset,
	)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query spans: %w", err)
	}
	defer rows.Close()

	return db.collectSpans(rows)
}

// SpansByTrace returns all spans for a trace ordered by start time
// ascending, optionally narrowed by enrichment criteria.
func (db *DB) SpansByTrace(ctx context.Context, traceID string, c model.SpanCriteria) ([]model.Span, error) {
	conditions := []string{"trace_id = $1"}
	args := []any{traceID}
	idx := 2

	add := func(col string, val string) {
		conditions = append(conditions, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if c.AgentID != nil {
		add("agent_id", *c.AgentID)
	}
	if c.AgentType != nil {
		add("agent_type", *c.AgentType)
	}
	if c.CommunicationType != nil {
		add("communication_type", *c.CommunicationType)
	}
	if c.ContainerID != nil {
		add("container_id", *c.ContainerID)
	}
	if c.Namespace != nil {
		add("namespace", *c.Namespace)
	}

	query := fmt.Sprintf(
		`SELECT `+spanColumns+` FROM spans WHERE %s ORDER BY start_time ASC LIMIT %d`,
		strings.Join(conditions, " AND "), maxSpansPerTrace,
	)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: spans by trace: %w", err)
	}
	defer rows.Close()

	return db.collectSpans(rows)
}

func buildSpanWhere(f model.SpanFilter, startArgIdx int) (string, []any) {
	var conditions []string
	var args []any
	idx := startArgIdx

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, idx))
		args = append(args, val)
		idx++
	}

	if f.TraceID != nil {
		add("trace_id = $%d", *f.TraceID)
	}
	if f.SpanID != nil {
		add("span_id = $%d", *f.SpanID)
	}
	if f.ParentSpanID != nil {
		add("parent_span_id = $%d", *f.ParentSpanID)
	}
	if f.OperationName != nil {
		// Substring match; every other span criterion is exact.
		add("operation_name ILIKE $%d", "%"+*f.OperationName+"%")
	}
	if f.ServiceName != nil {
		add("service_name = $%d", *f.ServiceName)
	}
	if f.AgentID != nil {
		add("agent_id = $%d", *f.AgentID)
	}
	if f.AgentType != nil {
		add("agent_type = $%d", *f.AgentType)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.CommunicationType != nil {
		add("communication_type = $%d", *f.CommunicationType)
	}
	if f.ContainerID != nil {
		add("container_id = $%d", *f.ContainerID)
	}
	if f.Namespace != nil {
		add("namespace = $%d", *f.Namespace)
	}
	if f.StartTimeMin != nil {
		add("start_time >= $%d", *f.StartTimeMin)
	}
	if f.StartTimeMax != nil {
		add("start_time <= $%d", *f.StartTimeMax)
	}
	if f.EndTimeMin != nil {
		add("end_time >= $%d", *f.EndTimeMin)
	}
	if f.EndTimeMax != nil {
		add("end_time <= $%d", *f.EndTimeMax)
	}
	if f.DurationMinMs != nil {
		add("duration_ms >= $%d", *f.DurationMinMs)
	}
	if f.DurationMaxMs != nil {
		add("duration_ms <= $%d", *f.DurationMaxMs)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (db *DB) collectSpans(rows pgx.Rows) ([]model.Span, error) {
	var spans []model.Span
	for rows.Next() {
		s, err := db.scanSpan(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan span: %w", err)
		}
		spans = append(spans, s)
	}
	return spans, rows.Err()
}

func (db *DB) scanSpan(row pgx.Row) (model.Span, error) {
	var s model.Span
	var status, tagsRaw, logsRaw string
	if err := row.Scan(
		&s.SpanID, &s.TraceID, &s.ParentSpanID, &s.OperationName, &s.ServiceName,
		&s.AgentID, &s.AgentType, &s.StartTime, &s.EndTime, &s.DurationMs, &status,
		&s.CommunicationType, &s.ContainerID, &s.Namespace, &tagsRaw, &logsRaw,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return model.Span{}, err
	}
	s.Status = model.SpanStatus(status)
	s.Tags = db.decodeTags("span.tags", s.SpanID, tagsRaw)
	s.Logs = db.decodeLogs("span.logs", s.SpanID, logsRaw)
	return s, nil
}
