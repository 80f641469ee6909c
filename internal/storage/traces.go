package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/tracemesh/tracemesh/internal/model"
)

const traceColumns = `trace_id, root_span_id, service_name, status, start_time, end_time,
	 duration_ms, agent_count, service_count, container_count, error_count,
	 metadata, total_cost, total_tokens, created_at, updated_at`

// InsertTrace inserts a new trace row.
func (db *DB) InsertTrace(ctx context.Context, t model.Trace) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO traces (`+traceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.TraceID, t.RootSpanID, t.ServiceName, string(t.Status), t.StartTime, t.EndTime,
		t.DurationMs, t.AgentCount, t.ServiceCount, t.ContainerCount, t.ErrorCount,
		encodeObject(t.Metadata), t.TotalCost, t.TotalTokens, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert trace: %w", err)
	}
	return nil
}

// EnsureTrace inserts the trace row only if one with the same id does not
// already exist. Safe under concurrent first-activity for the same trace id:
// exactly one row survives, the losing writers are no-ops.
func (db *DB) EnsureTrace(ctx context.Context, t model.Trace) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO traces (`+traceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (trace_id) DO NOTHING`,
		t.TraceID, t.RootSpanID, t.ServiceName, string(t.Status), t.StartTime, t.EndTime,
		t.DurationMs, t.AgentCount, t.ServiceCount, t.ContainerCount, t.ErrorCount,
		encodeObject(t.Metadata), t.TotalCost, t.TotalTokens, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: ensure trace: %w", err)
	}
	return nil
}

// GetTrace retrieves a trace by id. Returns ErrNotFound if absent.
func (db *DB) GetTrace(ctx context.Context, traceID string) (model.Trace, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+traceColumns+` FROM traces WHERE trace_id = $1`, traceID)
	t, err := db.scanTrace(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Trace{}, ErrNotFound
		}
		return model.Trace{}, fmt.Errorf("storage: get trace: %w", err)
	}
	return t, nil
}

// UpdateTrace applies a partial update and returns the updated row.
// Returns ErrNotFound if the id does not resolve. Metadata is merged into
// the stored map; the merge is a read-modify-write with last-write-wins
// semantics under concurrent updates.
func (db *DB) UpdateTrace(ctx context.Context, traceID string, upd model.TraceUpdate) (model.Trace, error) {
	sets := []string{"updated_at = now()"}
	var args []any
	idx := 1

	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if upd.RootSpanID != nil {
		add("root_span_id", *upd.RootSpanID)
	}
	if upd.ServiceName != nil {
		add("service_name", *upd.ServiceName)
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
	if upd.AgentCount != nil {
		add("agent_count", *upd.AgentCount)
	}
	if upd.ServiceCount != nil {
		add("service_count", *upd.ServiceCount)
	}
	if upd.ContainerCount != nil {
		add("container_count", *upd.ContainerCount)
	}
	if upd.ErrorCount != nil {
		add("error_count", *upd.ErrorCount)
	}
	if upd.TotalCost != nil {
		add("total_cost", *upd.TotalCost)
	}
	if upd.TotalTokens != nil {
		add("total_tokens", *upd.TotalTokens)
	}
	if upd.Metadata != nil {
		current, err := db.GetTrace(ctx, traceID)
		if err != nil {
			return model.Trace{}, err
		}
		merged := current.Metadata
		if merged == nil {
			merged = map[string]any{}
		}
		for k, v := range upd.Metadata {
			merged[k] = v
		}
		add("metadata", encodeObject(merged))
	}

	args = append(args, traceID)
	query := fmt.Sprintf(
		`UPDATE traces SET %s WHERE trace_id = $%d RETURNING `+traceColumns,
		strings.Join(sets, ", "), idx,
	)

	t, err := db.scanTrace(db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Trace{}, ErrNotFound
		}
		return model.Trace{}, fmt.Errorf("storage: update trace: %w", err)
	}
	return t, nil
}

// QueryTraces executes a filtered trace query ordered by start time
// descending (most recent first) with limit/offset pagination.
func (db *DB) QueryTraces(ctx context.Context, f model.TraceFilter) ([]model.Trace, error) {
	where, args := buildTraceWhere(f, 1)

	limit, offset := normalizePage(f.Limit, f.Offset, model.DefaultTraceLimit)
	query := fmt.Sprintf(
		`SELECT `+traceColumns+` FROM traces%s ORDER BY start_time DESC LIMIT %d OFFSET %d`,
		where, limit, offset,
	)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query traces: %w", err)
	}
	defer rows.Close()

	var traces []model.Trace
	for rows.Next() {
		t, err := db.scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan trace: %w", err)
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

func buildTraceWhere(f model.TraceFilter, startArgIdx int) (string, []any) {
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
	if f.ServiceName != nil {
		add("service_name = $%d", *f.ServiceName)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.StartTimeMin != nil {
		add("start_time >= $%d", *f.StartTimeMin)
	}
	if f.StartTimeMax != nil {
		add("start_time <= $%d", *f.StartTimeMax)
	}
	if f.DurationMinMs != nil {
		add("duration_ms >= $%d", *f.DurationMinMs)
	}
	if f.DurationMaxMs != nil {
		add("duration_ms <= $%d", *f.DurationMaxMs)
	}
	if f.HasErrors {
		conditions = append(conditions, "error_count > 0")
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (db *DB) scanTrace(row pgx.Row) (model.Trace, error) {
	var t model.Trace
	var status, metadataRaw string
	if err := row.Scan(
		&t.TraceID, &t.RootSpanID, &t.ServiceName, &status, &t.StartTime, &t.EndTime,
		&t.DurationMs, &t.AgentCount, &t.ServiceCount, &t.ContainerCount, &t.ErrorCount,
		&metadataRaw, &t.TotalCost, &t.TotalTokens, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return model.Trace{}, err
	}
	t.Status = model.TraceStatus(status)
	t.Metadata = db.decodeObject("trace.metadata", t.TraceID, metadataRaw)
	return t, nil
}

// normalizePage applies the per-entity default limit, caps the limit, and
// clamps a negative offset to zero.
func normalizePage(limit, offset, defaultLimit int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > model.MaxLimit {
		limit = model.MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
