// Package record defines the concrete log record type every transport in
// this module speaks in terms of.
package record

import "time"

// LogRecord is the one concrete record type flowing through every transport.
// A level, a message, and a keyed metadata bag — nothing else. Values are
// treated as immutable once constructed: callers build a new LogRecord per
// log call rather than mutating one in place across goroutines.
type LogRecord struct {
	Level   string
	Message string
	Meta    map[string]any
}

// New builds a record with an empty metadata map.
func New(level, message string) LogRecord {
	return LogRecord{Level: level, Message: message, Meta: map[string]any{}}
}

// WithMeta returns a copy of r with key set in its metadata.
func (r LogRecord) WithMeta(key string, value any) LogRecord {
	out := r.Clone()
	out.Meta[key] = value
	return out
}

// Clone returns a deep-enough copy: a fresh Meta map, same scalar values.
func (r LogRecord) Clone() LogRecord {
	meta := make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		meta[k] = v
	}
	return LogRecord{Level: r.Level, Message: r.Message, Meta: meta}
}

// Timestamp extracts the "timestamp" metadata key as an RFC3339 instant. The
// second return is false when the key is absent, not a string, or fails to
// parse — the sole source of record time per the data model.
func (r LogRecord) Timestamp() (time.Time, bool) {
	raw, ok := r.Meta["timestamp"]
	if !ok {
		return time.Time{}, false
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Tree projects the record into a JSON-like map, the shape the predicate DSL
// and field-path extraction operate over. "level" and "message" are
// first-class keys; everything else comes from Meta.
func (r LogRecord) Tree() map[string]any {
	tree := make(map[string]any, len(r.Meta)+2)
	for k, v := range r.Meta {
		tree[k] = v
	}
	tree["level"] = r.Level
	tree["message"] = r.Message
	return tree
}

// Get looks up a named field: "level"/"message" are first-class, anything
// else is looked up in Meta. Used by LogQuery.Project.
func (r LogRecord) Get(field string) (any, bool) {
	switch field {
	case "level":
		return r.Level, true
	case "message":
		return r.Message, true
	default:
		v, ok := r.Meta[field]
		return v, ok
	}
}
