// Package tailproducer feeds a transport.Transport from one or more
// tailed log files, following rotation the way tail(1) -F does. Each
// line becomes one record at a configurable level; the file path is
// attached as metadata so a downstream query can filter by source.
package tailproducer

import (
	"context"
	"io"
	"sync"

	"github.com/nxadm/tail"
	"github.com/sirupsen/logrus"

	"logtransport/metrics"
	"logtransport/record"
	"logtransport/transport"
)

// SeekStrategy controls where a newly opened tailer starts reading from.
type SeekStrategy int

const (
	// SeekBeginning reads the whole file from the start.
	SeekBeginning SeekStrategy = iota
	// SeekEnd only reports lines written after the tailer starts.
	SeekEnd
)

// Config configures a Producer.
type Config struct {
	Paths []string
	Level string // level attached to every record; defaults to "INFO"
	Seek  SeekStrategy
}

// Producer tails Config.Paths and forwards every line to a
// transport.Transport as a LogRecord.
type Producer struct {
	cfg       Config
	sink      transport.Transport
	logger    *logrus.Logger
	wg        sync.WaitGroup
	tailers   []*tail.Tail
	tailersMu sync.Mutex
}

// New starts tailing every path in cfg.Paths and forwarding lines to sink.
// Use ctx to stop every tailer; Wait blocks until they have all exited.
func New(ctx context.Context, cfg Config, sink transport.Transport, logger *logrus.Logger) (*Producer, error) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}

	p := &Producer{cfg: cfg, sink: sink, logger: logger}

	for _, path := range cfg.Paths {
		t, err := tail.TailFile(path, tail.Config{
			Follow:    true,
			ReOpen:    true,
			Poll:      false,
			MustExist: true,
			Location:  seekInfo(cfg.Seek),
		})
		if err != nil {
			p.stopAll()
			return nil, err
		}
		p.tailersMu.Lock()
		p.tailers = append(p.tailers, t)
		p.tailersMu.Unlock()

		p.wg.Add(1)
		go p.run(ctx, t, path)
	}

	return p, nil
}

func seekInfo(s SeekStrategy) *tail.SeekInfo {
	if s == SeekEnd {
		return &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}
	return &tail.SeekInfo{Offset: 0, Whence: io.SeekStart}
}

func (p *Producer) run(ctx context.Context, t *tail.Tail, path string) {
	defer p.wg.Done()
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			if err := t.Stop(); err != nil && p.logger != nil {
				p.logger.WithError(err).WithField("path", path).Warn("tailproducer: stop failed")
			}
			return

		case line, ok := <-t.Lines:
			if !ok {
				if err := t.Err(); err != nil {
					metrics.ObserveError("tailproducer", "transient_io")
					if p.logger != nil {
						p.logger.WithError(err).WithField("path", path).Warn("tailproducer: tailer closed with error")
					}
				}
				return
			}
			if line.Err != nil {
				metrics.ObserveError("tailproducer", "transient_io")
				continue
			}

			r := record.New(p.cfg.Level, line.Text).WithMeta("source_path", path)
			p.sink.Log(r)
		}
	}
}

func (p *Producer) stopAll() {
	p.tailersMu.Lock()
	defer p.tailersMu.Unlock()
	for _, t := range p.tailers {
		_ = t.Stop()
	}
}

// Wait blocks until every tailer goroutine has exited, which happens once
// the context passed to New is canceled.
func (p *Producer) Wait() { p.wg.Wait() }
