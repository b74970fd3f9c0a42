// Package transport defines the capability contract every log sink in this
// module implements: single-record log, batch log, flush, query, and
// level/format accessors.
package transport

import "logtransport/query"
import "logtransport/record"

// Transport is the capability contract a sink exposes. Log must be safe to
// call concurrently from multiple producers and must never fail at the type
// level — any I/O error is the transport's private concern. Flush and Query
// may block.
type Transport interface {
	// Log accepts one record. Non-failing.
	Log(r record.LogRecord)
	// LogBatch accepts a contiguous sequence of records.
	LogBatch(records []record.LogRecord)
	// Flush forces any buffered state to the underlying medium.
	Flush() error
	// Query returns records matching q.
	Query(q query.LogQuery) ([]record.LogRecord, error)
	// GetLevel returns the transport's level threshold, if any.
	GetLevel() (string, bool)
	// GetFormat returns the transport's format handle, if any.
	GetFormat() (any, bool)
}

// BaseTransport supplies default method bodies for most of Transport:
// Flush reports success, Query returns empty, and the accessors return
// "not set". Embedding it leaves a concrete sink with just Log and
// LogBatch to implement; the LogBatch helper here takes the sink's own
// Log as a callback, since an embedded struct cannot reach the outer
// type's methods.
type BaseTransport struct {
	Level  string
	HasLvl bool
	Format any
	HasFmt bool
}

// LogBatch iterates Log. Concrete sinks wrapping an io.Writer typically
// override this to acquire their lock once instead of once per record.
func (b *BaseTransport) LogBatch(records []record.LogRecord, log func(record.LogRecord)) {
	for _, r := range records {
		log(r)
	}
}

// Flush is a no-op success. Override when the sink has buffered state.
func (b *BaseTransport) Flush() error { return nil }

// Query returns no records. Override when the sink supports retrospective
// query.
func (b *BaseTransport) Query(q query.LogQuery) ([]record.LogRecord, error) {
	return nil, nil
}

// GetLevel returns the configured level threshold, if any.
func (b *BaseTransport) GetLevel() (string, bool) { return b.Level, b.HasLvl }

// GetFormat returns the configured format handle, if any.
func (b *BaseTransport) GetFormat() (any, bool) { return b.Format, b.HasFmt }

// SetLevel sets the level threshold.
func (b *BaseTransport) SetLevel(level string) { b.Level, b.HasLvl = level, true }

// SetFormat sets the format handle.
func (b *BaseTransport) SetFormat(format any) { b.Format, b.HasFmt = format, true }
