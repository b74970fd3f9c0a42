// Package filesink writes records to rotated, optionally gzip-compressed
// log files on local disk, with a bound on simultaneously open file
// descriptors enforced by closing the least-recently-written file first.
package filesink

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"logtransport/metrics"
	"logtransport/query"
	"logtransport/record"
	"logtransport/transport"
)

// Config controls directory placement, rotation, and descriptor limits.
type Config struct {
	Directory     string `yaml:"directory"`
	MaxSizeMB     int64  `yaml:"max_size_mb"`
	MaxOpenFiles  int    `yaml:"max_open_files"`
	Compress      bool   `yaml:"compress"`
	RetainFiles   int    `yaml:"retain_files"`
}

// DefaultConfig rotates at 100MB, keeps at most 100 fds open, retains the
// 10 newest rotated files, and compresses rotated output.
func DefaultConfig() Config {
	return Config{
		Directory:    "./logs",
		MaxSizeMB:    100,
		MaxOpenFiles: 100,
		Compress:     true,
		RetainFiles:  10,
	}
}

type openFile struct {
	mu        sync.Mutex
	file      *os.File
	size      int64
	lastWrite time.Time
}

// Sink is a transport.Transport that appends JSON-encoded records, one
// per line, to a file named after the record's level, rotating by size.
type Sink struct {
	transport.BaseTransport

	cfg    Config
	logger *logrus.Logger

	mu    sync.Mutex
	files map[string]*openFile
}

// New builds a Sink writing into cfg.Directory, creating it if absent.
func New(cfg Config, logger *logrus.Logger) (*Sink, error) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = DefaultConfig().MaxSizeMB
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = DefaultConfig().MaxOpenFiles
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("filesink: create directory: %w", err)
	}
	return &Sink{cfg: cfg, logger: logger, files: make(map[string]*openFile)}, nil
}

func (s *Sink) pathFor(level string) string {
	name := level
	if name == "" {
		name = "default"
	}
	return filepath.Join(s.cfg.Directory, name+".log")
}

// Log appends one record as a JSON line to the file matching r.Level.
func (s *Sink) Log(r record.LogRecord) {
	line, err := json.Marshal(r.Tree())
	if err != nil {
		metrics.ObserveError("filesink", "transient_io")
		s.logger.WithError(err).Warn("filesink: failed to marshal record")
		return
	}
	line = append(line, '\n')

	path := s.pathFor(r.Level)
	f, err := s.getOrOpen(path)
	if err != nil {
		metrics.ObserveError("filesink", "transient_io")
		s.logger.WithError(err).WithField("path", path).Warn("filesink: failed to open file")
		return
	}

	f.mu.Lock()
	n, err := f.file.Write(line)
	if err != nil {
		f.mu.Unlock()
		metrics.ObserveError("filesink", "transient_io")
		s.logger.WithError(err).WithField("path", path).Warn("filesink: write failed")
		return
	}
	f.size += int64(n)
	f.lastWrite = time.Now()
	needsRotate := f.size > s.cfg.MaxSizeMB*1024*1024
	f.mu.Unlock()

	if needsRotate {
		s.rotate(path)
	}
}

// LogBatch appends every record. Records fan out across per-level files,
// so there is no single lock to hold for the whole batch.
func (s *Sink) LogBatch(records []record.LogRecord) {
	for _, r := range records {
		s.Log(r)
	}
}

func (s *Sink) getOrOpen(path string) (*openFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[path]; ok {
		return f, nil
	}

	if len(s.files) >= s.cfg.MaxOpenFiles {
		s.closeLeastRecentlyUsedLocked()
	}

	handle, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		return nil, err
	}

	f := &openFile{file: handle, size: info.Size(), lastWrite: time.Now()}
	s.files[path] = f
	return f, nil
}

// closeLeastRecentlyUsedLocked evicts the file with the oldest lastWrite
// to stay under MaxOpenFiles. Caller holds s.mu.
func (s *Sink) closeLeastRecentlyUsedLocked() {
	var oldestPath string
	var oldestTime time.Time
	first := true
	for path, f := range s.files {
		f.mu.Lock()
		lw := f.lastWrite
		f.mu.Unlock()
		if first || lw.Before(oldestTime) {
			oldestPath, oldestTime, first = path, lw, false
		}
	}
	if oldestPath != "" {
		s.files[oldestPath].file.Close()
		delete(s.files, oldestPath)
	}
}

// rotate closes path's handle, renames it aside with a timestamp suffix
// (optionally gzip-compressing it), and prunes to cfg.RetainFiles.
func (s *Sink) rotate(path string) {
	s.mu.Lock()
	f, ok := s.files[path]
	if ok {
		delete(s.files, path)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	f.mu.Lock()
	f.file.Close()
	f.mu.Unlock()

	rotated := fmt.Sprintf("%s.%s", path, time.Now().Format("20060102-150405"))
	if s.cfg.Compress {
		if err := s.compressTo(path, rotated+".gz"); err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("filesink: rotation compress failed")
		}
	} else if err := os.Rename(path, rotated); err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("filesink: rotation rename failed")
	}

	s.pruneOldRotations(path)
}

func (s *Sink) compressTo(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func (s *Sink) pruneOldRotations(basePath string) {
	if s.cfg.RetainFiles <= 0 {
		return
	}
	matches, err := filepath.Glob(basePath + ".*")
	if err != nil || len(matches) <= s.cfg.RetainFiles {
		return
	}
	sort.Strings(matches)
	excess := len(matches) - s.cfg.RetainFiles
	for _, old := range matches[:excess] {
		if err := os.Remove(old); err != nil {
			s.logger.WithError(err).WithField("path", old).Warn("filesink: cleanup failed")
		}
	}
}

// Flush is a no-op: every write already goes straight to the OS file
// handle, which buffers independently of this sink.
func (s *Sink) Flush() error { return nil }

// Query always returns no records: this sink is write-only.
func (s *Sink) Query(query.LogQuery) ([]record.LogRecord, error) { return nil, nil }

// Close closes every open file handle.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, f := range s.files {
		f.mu.Lock()
		f.file.Close()
		f.mu.Unlock()
		delete(s.files, path)
	}
	return nil
}

var _ transport.Transport = (*Sink)(nil)
