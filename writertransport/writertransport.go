// Package writertransport adapts between the transport.Transport interface
// and io.Writer, in both directions: WriterTransport turns any io.Writer
// into a Transport, and TransportWriter turns any Transport into an
// io.Writer.
//
// Each direction comes in two variants. The shared constructors
// (NewWriterTransport, NewTransportWriter) leave the wrapped resource's
// lifecycle with the caller; the owned constructors (NewOwnedWriterTransport,
// NewOwnedTransportWriter) take Close responsibility, so closing the
// adapter also closes or shuts down what it wraps.
package writertransport

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"logtransport/query"
	"logtransport/record"
	"logtransport/transport"
)

// WriterTransport logs by writing one line per record to an underlying
// io.Writer. Writes are serialized with a mutex since io.Writer
// implementations are not assumed to be safe for concurrent use.
type WriterTransport struct {
	transport.BaseTransport

	mu     sync.Mutex
	writer io.Writer
	logger *logrus.Logger
	owned  bool
}

// NewWriterTransport wraps w so it can be used as a transport.Transport.
// The writer's lifecycle stays with the caller: Close flushes but never
// closes w.
func NewWriterTransport(w io.Writer, logger *logrus.Logger) *WriterTransport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WriterTransport{writer: w, logger: logger}
}

// NewOwnedWriterTransport wraps w and takes Close responsibility for it:
// Close flushes and then closes w when it implements io.Closer.
func NewOwnedWriterTransport(w io.Writer, logger *logrus.Logger) *WriterTransport {
	t := NewWriterTransport(w, logger)
	t.owned = true
	return t
}

// WithLevel sets the minimum level this transport reports via GetLevel.
func (t *WriterTransport) WithLevel(level string) *WriterTransport {
	t.SetLevel(level)
	return t
}

// WithFormat attaches an opaque formatter, mirroring the teacher's format
// field; logtransport does not interpret it.
func (t *WriterTransport) WithFormat(format any) *WriterTransport {
	t.SetFormat(format)
	return t
}

func (t *WriterTransport) Log(r record.LogRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintln(t.writer, r.Message); err != nil {
		t.logger.WithError(err).Error("writertransport: failed to write log entry")
	}
}

func (t *WriterTransport) LogBatch(records []record.LogRecord) {
	if len(records) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range records {
		if _, err := fmt.Fprintln(t.writer, r.Message); err != nil {
			t.logger.WithError(err).Error("writertransport: failed to write batch entry")
		}
	}
}

func (t *WriterTransport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.writer.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	if s, ok := t.writer.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func (t *WriterTransport) Query(query.LogQuery) ([]record.LogRecord, error) {
	return nil, nil
}

// Close flushes the writer. The owned variant then also closes it when
// it implements io.Closer; the shared variant stops at the flush.
func (t *WriterTransport) Close() error {
	err := t.Flush()
	if !t.owned {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.writer.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ transport.Transport = (*WriterTransport)(nil)
var _ io.Closer = (*WriterTransport)(nil)

// TransportWriter adapts a transport.Transport into an io.Writer. Because
// io.Writer.Write receives arbitrary byte slices that may split a log line
// across multiple calls, it buffers partial lines internally and emits one
// record per completed line; Close flushes any trailing partial line.
type TransportWriter struct {
	mu        sync.Mutex
	transport transport.Transport
	level     string
	partial   bytes.Buffer
	owned     bool
}

// NewTransportWriter wraps t so it can be written to like an io.Writer.
// Every newline-terminated chunk written becomes one INFO-level record
// (or level, if set) logged to t. The transport's lifecycle stays with
// the caller: Close flushes but never shuts the transport down.
func NewTransportWriter(t transport.Transport) *TransportWriter {
	return &TransportWriter{transport: t, level: "INFO"}
}

// NewOwnedTransportWriter wraps t and takes Close responsibility for it:
// after flushing, Close also finalizes the transport through its Close or
// Shutdown method, whichever it exposes.
func NewOwnedTransportWriter(t transport.Transport) *TransportWriter {
	w := NewTransportWriter(t)
	w.owned = true
	return w
}

// WithLevel overrides the level recorded for lines written through this
// adapter.
func (w *TransportWriter) WithLevel(level string) *TransportWriter {
	w.level = level
	return w
}

func (w *TransportWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial.Write(p)
	for {
		buf := w.partial.Bytes()
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := string(buf[:idx])
		w.transport.Log(record.New(w.level, line))
		w.partial.Next(idx + 1)
	}
	return len(p), nil
}

// Flush pushes any buffered partial line out as a record and flushes the
// underlying transport.
func (w *TransportWriter) Flush() error {
	w.mu.Lock()
	if w.partial.Len() > 0 {
		w.transport.Log(record.New(w.level, w.partial.String()))
		w.partial.Reset()
	}
	w.mu.Unlock()
	return w.transport.Flush()
}

// Close flushes any trailing partial line. The owned variant then also
// finalizes the wrapped transport: a transport exposing Close (a leaf
// sink, a BatchedTransport) is closed, one exposing Shutdown (a
// ThreadedTransport) is shut down. The shared variant leaves the
// transport running.
func (w *TransportWriter) Close() error {
	err := w.Flush()
	if !w.owned {
		return err
	}
	var ferr error
	switch t := w.transport.(type) {
	case io.Closer:
		ferr = t.Close()
	case interface{ Shutdown() error }:
		ferr = t.Shutdown()
	}
	if err == nil {
		err = ferr
	}
	return err
}

var _ io.WriteCloser = (*TransportWriter)(nil)
