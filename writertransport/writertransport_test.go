package writertransport

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logtransport/query"
	"logtransport/record"
)

func TestWriterTransportLogWritesOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWriterTransport(&buf, nil)

	tr.Log(record.New("INFO", "first"))
	tr.Log(record.New("INFO", "second"))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "first", lines[0])
	assert.Equal(t, "second", lines[1])
}

func TestWriterTransportLogBatch(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWriterTransport(&buf, nil)

	tr.LogBatch([]record.LogRecord{
		record.New("INFO", "a"),
		record.New("INFO", "b"),
		record.New("INFO", "c"),
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}

func TestWriterTransportLogBatchEmptyIsNoop(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWriterTransport(&buf, nil)

	tr.LogBatch(nil)

	assert.Equal(t, "", buf.String())
}

func TestWriterTransportWithLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWriterTransport(&buf, nil).WithLevel("WARN").WithFormat("json")

	level, ok := tr.GetLevel()
	assert.True(t, ok)
	assert.Equal(t, "WARN", level)

	format, ok := tr.GetFormat()
	assert.True(t, ok)
	assert.Equal(t, "json", format)
}

func TestWriterTransportFlushNoopWithoutFlushableWriter(t *testing.T) {
	var buf bytes.Buffer
	tr := NewWriterTransport(&buf, nil)
	assert.NoError(t, tr.Flush())
}

type flushRecorder struct {
	bytes.Buffer
	flushed bool
}

func (f *flushRecorder) Flush() error {
	f.flushed = true
	return nil
}

func TestWriterTransportFlushDelegatesToFlushableWriter(t *testing.T) {
	fr := &flushRecorder{}
	tr := NewWriterTransport(fr, nil)
	require.NoError(t, tr.Flush())
	assert.True(t, fr.flushed)
}

func TestTransportWriterBuffersPartialLines(t *testing.T) {
	var buf bytes.Buffer
	mock := NewWriterTransport(&buf, nil)
	tw := NewTransportWriter(mock)

	n, err := tw.Write([]byte("hel"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, buf.String(), "no newline yet, nothing should be emitted")

	_, err = tw.Write([]byte("lo\nworld\nno-newline-ye"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "hello", lines[0])
	assert.Equal(t, "world", lines[1])
}

func TestTransportWriterCloseFlushesTrailingPartialLine(t *testing.T) {
	var buf bytes.Buffer
	mock := NewWriterTransport(&buf, nil)
	tw := NewTransportWriter(mock)

	_, err := tw.Write([]byte("trailing-no-newline"))
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	require.NoError(t, tw.Close())
	assert.Equal(t, "trailing-no-newline\n", buf.String())
}

func TestTransportWriterWithLevel(t *testing.T) {
	var captured []record.LogRecord
	sink := &capturingTransport{logFn: func(r record.LogRecord) { captured = append(captured, r) }}
	tw := NewTransportWriter(sink).WithLevel("DEBUG")

	_, err := tw.Write([]byte("line\n"))
	require.NoError(t, err)

	require.Len(t, captured, 1)
	assert.Equal(t, "DEBUG", captured[0].Level)
	assert.Equal(t, "line", captured[0].Message)
}

// capturingTransport is a minimal Transport used to assert the exact
// records TransportWriter produces.
type capturingTransport struct {
	logFn func(record.LogRecord)
}

func (c *capturingTransport) Log(r record.LogRecord) { c.logFn(r) }
func (c *capturingTransport) LogBatch(records []record.LogRecord) {
	for _, r := range records {
		c.logFn(r)
	}
}
func (c *capturingTransport) Flush() error { return nil }
func (c *capturingTransport) Query(q query.LogQuery) ([]record.LogRecord, error) {
	return nil, nil
}
func (c *capturingTransport) GetLevel() (string, bool) { return "", false }
func (c *capturingTransport) GetFormat() (any, bool)   { return nil, false }

type closeRecorder struct {
	bytes.Buffer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestOwnedWriterTransportClosesWriter(t *testing.T) {
	cr := &closeRecorder{}
	tr := NewOwnedWriterTransport(cr, nil)

	require.NoError(t, tr.Close())
	assert.True(t, cr.closed)
}

func TestSharedWriterTransportLeavesWriterOpen(t *testing.T) {
	cr := &closeRecorder{}
	tr := NewWriterTransport(cr, nil)

	require.NoError(t, tr.Close())
	assert.False(t, cr.closed)
}

// closableTransport records whether its owner finalized it via Close.
type closableTransport struct {
	capturingTransport
	closed bool
}

func (c *closableTransport) Close() error {
	c.closed = true
	return nil
}

// shutdownTransport records whether its owner finalized it via Shutdown.
type shutdownTransport struct {
	capturingTransport
	shutdown bool
}

func (s *shutdownTransport) Shutdown() error {
	s.shutdown = true
	return nil
}

func TestOwnedTransportWriterClosesWrappedTransport(t *testing.T) {
	sink := &closableTransport{capturingTransport: capturingTransport{logFn: func(record.LogRecord) {}}}
	tw := NewOwnedTransportWriter(sink)

	require.NoError(t, tw.Close())
	assert.True(t, sink.closed)
}

func TestOwnedTransportWriterShutsDownWrappedTransport(t *testing.T) {
	sink := &shutdownTransport{capturingTransport: capturingTransport{logFn: func(record.LogRecord) {}}}
	tw := NewOwnedTransportWriter(sink)

	require.NoError(t, tw.Close())
	assert.True(t, sink.shutdown)
}

func TestSharedTransportWriterLeavesTransportRunning(t *testing.T) {
	sink := &closableTransport{capturingTransport: capturingTransport{logFn: func(record.LogRecord) {}}}
	tw := NewTransportWriter(sink)

	require.NoError(t, tw.Close())
	assert.False(t, sink.closed)
}
