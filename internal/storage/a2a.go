package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/tracemesh/tracemesh/internal/model"
)

const a2aColumns = `id, trace_id, source_agent_id, target_agent_id, source_span_id,
	 target_span_id, communication_type, protocol, status, start_time, duration_ms,
	 payload, response, error_message, created_at, updated_at`

// maxA2APerSpan caps enrichment fan-in for a single span.
const maxA2APerSpan = 10000

// InsertA2A inserts a new A2A communication row.
func (db *DB) InsertA2A(ctx context.Context, c model.A2ACommunication) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO a2a_communications (`+a2aColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		c.ID, c.TraceID, c.SourceAgentID, c.TargetAgentID, c.SourceSpanID,
		c.TargetSpanID, c.CommunicationType, c.Protocol, string(c.Status), c.StartTime, c.DurationMs,
		encodeObject(c.Payload), encodeObject(c.Response), c.ErrorMessage, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert a2a: %w", err)
	}
	return nil
}

// GetA2A retrieves an A2A communication by id. Returns ErrNotFound if absent.
func (db *DB) GetA2A(ctx context.Context, id string) (model.A2ACommunication, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+a2aColumns+` FROM a2a_communications WHERE id = $1`, id)
	c, err := db.scanA2A(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.A2ACommunication{}, ErrNotFound
		}
		return model.A2ACommunication{}, fmt.Errorf("storage: get a2a: %w", err)
	}
	return c, nil
}

// UpdateA2A applies a partial update and returns the updated row.
// Returns ErrNotFound if the id does not resolve. Status propagation to the
// target span is the ingestion service's job, not the store's.
func (db *DB) UpdateA2A(ctx context.Context, id string, upd model.A2AUpdate) (model.A2ACommunication, error) {
	sets := []string{"updated_at = now()"}
	var args []any
	idx := 1

	add := func(col string, val any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.DurationMs != nil {
		add("duration_ms", *upd.DurationMs)
	}
	if upd.Response != nil {
		add("response", encodeObject(upd.Response))
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE a2a_communications SET %s WHERE id = $%d RETURNING `+a2aColumns,
		strings.Join(sets, ", "), idx,
	)

	c, err := db.scanA2A(db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.A2ACommunication{}, ErrNotFound
		}
		return model.A2ACommunication{}, fmt.Errorf("storage: update a2a: %w", err)
	}
	return c, nil
}

// QueryA2A executes a filtered A2A query ordered by start time descending
// (most recent first) with limit/offset pagination.
func (db *DB) QueryA2A(ctx context.Context, f model.A2AFilter) ([]model.A2ACommunication, error) {
	where, args := buildA2AWhere(f, 1)

	limit, offset := normalizePage(f.Limit, f.Offset, model.DefaultA2ALimit)
	query := fmt.Sprintf(
		`SELECT `+a2aColumns+` FROM a2a_communications%s ORDER BY start_time DESC LIMIT %d OFFSET %d`,
		where, limit, offset,
	)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query a2a: %w", err)
	}
	defer rows.Close()

	return db.collectA2A(rows)
}

// A2ABySpan returns every A2A communication where the span is the source or
// the target, ordered by start time ascending.
func (db *DB) A2ABySpan(ctx context.Context, spanID string) ([]model.A2ACommunication, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+a2aColumns+` FROM a2a_communications
		 WHERE source_span_id = $1 OR target_span_id = $1
		 ORDER BY start_time ASC LIMIT `+fmt.Sprint(maxA2APerSpan), spanID)
	if err != nil {
		return nil, fmt.Errorf("storage: a2a by span: %w", err)
	}
	defer rows.Close()

	return db.collectA2A(rows)
}

func buildA2AWhere(f model.A2AFilter, startArgIdx int) (string, []any) {
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
	if f.SourceAgentID != nil {
		add("source_agent_id = $%d", *f.SourceAgentID)
	}
	if f.TargetAgentID != nil {
		add("target_agent_id = $%d", *f.TargetAgentID)
	}
	if f.CommunicationType != nil {
		add("communication_type = $%d", *f.CommunicationType)
	}
	if f.Protocol != nil {
		add("protocol = $%d", *f.Protocol)
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

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (db *DB) collectA2A(rows pgx.Rows) ([]model.A2ACommunication, error) {
	var comms []model.A2ACommunication
	for rows.Next() {
		c, err := db.scanA2A(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan a2a: %w", err)
		}
		comms = append(comms, c)
	}
	return comms, rows.Err()
}

func (db *DB) scanA2A(row pgx.Row) (model.A2ACommunication, error) {
	var c model.A2ACommunication
	var status, payloadRaw, responseRaw string
	if err := row.Scan(
		&c.ID, &c.TraceID, &c.SourceAgentID, &c.TargetAgentID, &c.SourceSpanID,
		&c.TargetSpanID, &c.CommunicationType, &c.Protocol, &status, &c.StartTime, &c.DurationMs,
		&payloadRaw, &responseRaw, &c.ErrorMessage, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return model.A2ACommunication{}, err
	}
	c.Status = model.A2AStatus(status)
	c.Payload = db.decodeObject("a2a.payload", c.ID, payloadRaw)
	c.Response = db.decodeObject("a2a.response", c.ID, responseRaw)
	return c, nil
}
