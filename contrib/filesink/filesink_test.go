package filesink

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logtransport/query"
	"logtransport/record"
)

func newTestSink(t *testing.T, cfg Config) *Sink {
	t.Helper()
	if cfg.Directory == "" {
		cfg.Directory = t.TempDir()
	}
	s, err := New(cfg, logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestLogWritesOneJSONLinePerRecord(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Config{Directory: dir, Compress: false})

	s.Log(record.New("INFO", "hello"))
	s.Log(record.New("INFO", "world"))
	require.NoError(t, s.Close())

	lines := readLines(t, filepath.Join(dir, "INFO.log"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "hello", first["message"])
}

func TestLogSeparatesByLevel(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Config{Directory: dir, Compress: false})

	s.Log(record.New("INFO", "a"))
	s.Log(record.New("ERROR", "b"))
	require.NoError(t, s.Close())

	assert.FileExists(t, filepath.Join(dir, "INFO.log"))
	assert.FileExists(t, filepath.Join(dir, "ERROR.log"))
}

func TestRotationTriggersAtMaxSize(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Config{Directory: dir, MaxSizeMB: 1, Compress: false, RetainFiles: 5})
	s.Log(record.New("INFO", "first"))

	s.mu.Lock()
	f := s.files[filepath.Join(dir, "INFO.log")]
	s.mu.Unlock()
	require.NotNil(t, f)
	f.mu.Lock()
	f.size = 2 * 1024 * 1024
	f.mu.Unlock()

	s.Log(record.New("INFO", "triggers rotation"))

	matches, err := filepath.Glob(filepath.Join(dir, "INFO.log.*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRotationCompressesWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Config{Directory: dir, MaxSizeMB: 1, Compress: true, RetainFiles: 5})
	s.Log(record.New("INFO", "first"))

	s.mu.Lock()
	f := s.files[filepath.Join(dir, "INFO.log")]
	s.mu.Unlock()
	f.mu.Lock()
	f.size = 2 * 1024 * 1024
	f.mu.Unlock()

	s.Log(record.New("INFO", "triggers rotation"))

	matches, err := filepath.Glob(filepath.Join(dir, "INFO.log.*.gz"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	gf, err := os.Open(matches[0])
	require.NoError(t, err)
	defer gf.Close()
	gz, err := gzip.NewReader(gf)
	require.NoError(t, err)
	defer gz.Close()
}

func TestMaxOpenFilesEvictsLRU(t *testing.T) {
	dir := t.TempDir()
	s := newTestSink(t, Config{Directory: dir, MaxOpenFiles: 2, Compress: false})

	s.Log(record.New("INFO", "a"))
	s.Log(record.New("WARN", "b"))
	s.Log(record.New("ERROR", "c"))

	s.mu.Lock()
	count := len(s.files)
	s.mu.Unlock()
	assert.LessOrEqual(t, count, 2)
}

func TestFlushIsNoop(t *testing.T) {
	s := newTestSink(t, Config{})
	assert.NoError(t, s.Flush())
}

func TestQueryReturnsNoRecords(t *testing.T) {
	s := newTestSink(t, Config{})
	results, err := s.Query(query.New())
	require.NoError(t, err)
	assert.Nil(t, results)
}
