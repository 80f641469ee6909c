package storage

import (
	"encoding/json"

	"github.com/tracemesh/tracemesh/internal/model"
)

// Blob columns hold serialized JSON text. Encoding always succeeds for the
// map/slice shapes we store; decoding is defensive: a stored blob that
// fails to parse falls back to the empty structure for that field rather
// than failing the whole page. Parse failures are logged for operator
// visibility but never surfaced to the caller.

func encodeObject(m map[string]any) string {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func encodeTags(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func encodeLogs(l []model.LogEntry) string {
	if l == nil {
		l = []model.LogEntry{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func (db *DB) decodeObject(field, id, raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		db.logger.Warn("storage: undecodable blob, substituting empty object",
			"field", field, "id", id, "error", err)
		return map[string]any{}
	}
	return m
}

func (db *DB) decodeTags(field, id, raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		db.logger.Warn("storage: undecodable blob, substituting empty object",
			"field", field, "id", id, "error", err)
		return map[string]string{}
	}
	return m
}

func (db *DB) decodeLogs(field, id, raw string) []model.LogEntry {
	if raw == "" {
		return []model.LogEntry{}
	}
	var l []model.LogEntry
	if err := json.Unmarshal([]byte(raw), &l); err != nil || l == nil {
		db.logger.Warn("storage: undecodable blob, substituting empty array",
			"field", field, "id", id, "error", err)
		return []model.LogEntry{}
	}
	return l
}
