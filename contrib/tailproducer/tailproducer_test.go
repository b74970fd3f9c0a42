package tailproducer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"logtransport/query"
	"logtransport/record"
)

type capturingSink struct {
	mu      sync.Mutex
	records []record.LogRecord
}

func (s *capturingSink) Log(r record.LogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}
func (s *capturingSink) LogBatch(rs []record.LogRecord) {
	for _, r := range rs {
		s.Log(r)
	}
}
func (s *capturingSink) Flush() error { return nil }
func (s *capturingSink) Query(q query.LogQuery) ([]record.LogRecord, error) {
	return nil, nil
}
func (s *capturingSink) GetLevel() (string, bool) { return "", false }
func (s *capturingSink) GetFormat() (any, bool)   { return nil, false }

func (s *capturingSink) snapshot() []record.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.LogRecord, len(s.records))
	copy(out, s.records)
	return out
}

func TestProducerForwardsExistingLines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("github.com/nxadm/tail.(*Tail).tailFileSync"))

	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0644))

	sink := &capturingSink{}
	ctx, cancel := context.WithCancel(context.Background())

	p, err := New(ctx, Config{Paths: []string{path}, Seek: SeekBeginning}, sink, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	p.Wait()

	records := sink.snapshot()
	require.Len(t, records, 2)
	assert.Equal(t, "line one", records[0].Message)
	assert.Equal(t, "line two", records[1].Message)
	assert.Equal(t, path, records[0].Meta["source_path"])
}

func TestProducerAppliesConfiguredLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	sink := &capturingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := New(ctx, Config{Paths: []string{path}, Level: "DEBUG", Seek: SeekBeginning}, sink, nil)
	require.NoError(t, err)
	defer func() {
		cancel()
		p.Wait()
	}()

	assert.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	records := sink.snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, "DEBUG", records[0].Level)
}

func TestNewRejectsUnreadablePath(t *testing.T) {
	sink := &capturingSink{}
	_, err := New(context.Background(), Config{Paths: []string{"/nonexistent/dir/file.log"}}, sink, nil)
	assert.Error(t, err)
}
