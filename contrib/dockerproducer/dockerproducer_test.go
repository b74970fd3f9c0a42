package dockerproducer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logtransport/query"
	"logtransport/record"
)

type capturingTransport struct {
	records []record.LogRecord
}

func (c *capturingTransport) Log(r record.LogRecord)         { c.records = append(c.records, r) }
func (c *capturingTransport) LogBatch(rs []record.LogRecord) { c.records = append(c.records, rs...) }
func (c *capturingTransport) Flush() error                   { return nil }
func (c *capturingTransport) Query(q query.LogQuery) ([]record.LogRecord, error) {
	return nil, nil
}
func (c *capturingTransport) GetLevel() (string, bool) { return "", false }
func (c *capturingTransport) GetFormat() (any, bool)   { return nil, false }

func TestStreamWriterSplitsCompleteLines(t *testing.T) {
	sink := &capturingTransport{}
	w := &streamWriter{sink: sink, containerID: "abc123def456789", stream: "stdout"}

	n, err := w.Write([]byte("first line\nsecond line\n"))
	require.NoError(t, err)
	assert.Equal(t, 23, n)

	require.Len(t, sink.records, 2)
	assert.Equal(t, "first line", sink.records[0].Message)
	assert.Equal(t, "second line", sink.records[1].Message)
	assert.Equal(t, "INFO", sink.records[0].Level)
	assert.Equal(t, "abc123def456", sink.records[0].Meta["container_id"])
	assert.Equal(t, "stdout", sink.records[0].Meta["stream"])
}

func TestStreamWriterBuffersPartialLines(t *testing.T) {
	sink := &capturingTransport{}
	w := &streamWriter{sink: sink, containerID: "abc", stream: "stderr"}

	_, err := w.Write([]byte("partial "))
	require.NoError(t, err)
	assert.Empty(t, sink.records)

	_, err = w.Write([]byte("line\n"))
	require.NoError(t, err)
	require.Len(t, sink.records, 1)
	assert.Equal(t, "partial line", sink.records[0].Message)
	assert.Equal(t, "ERROR", sink.records[0].Level)
}

func TestStreamWriterMultipleNewlinesInOneWrite(t *testing.T) {
	sink := &capturingTransport{}
	w := &streamWriter{sink: sink, containerID: "abc", stream: "stdout"}

	_, err := w.Write([]byte("a\nb\nc\n"))
	require.NoError(t, err)
	require.Len(t, sink.records, 3)
	assert.Equal(t, "a", sink.records[0].Message)
	assert.Equal(t, "b", sink.records[1].Message)
	assert.Equal(t, "c", sink.records[2].Message)
}

func TestShortIDTruncatesTo12Chars(t *testing.T) {
	assert.Equal(t, "abc123def456", shortID("abc123def456789xyz"))
	assert.Equal(t, "short", shortID("short"))
}

func TestStopCollectingUnknownContainerIsNoop(t *testing.T) {
	p := &Producer{collectors: make(map[string]context.CancelFunc)}
	p.StopCollecting("never-started")
}
