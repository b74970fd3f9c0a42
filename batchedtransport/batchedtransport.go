// Package batchedtransport wraps a transport.Transport so individual Log
// calls accumulate into batches, flushed to the wrapped transport's
// LogBatch either when the batch reaches a size threshold or when a time
// budget since the last flush elapses, whichever comes first.
package batchedtransport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"logtransport/errs"
	"logtransport/metrics"
	"logtransport/query"
	"logtransport/record"
	"logtransport/transport"
)

// ErrShutdown is returned by Flush/Query once the worker has stopped.
var ErrShutdown = errors.New("batchedtransport: worker has shut down")

// BatchConfig controls when a pending batch is flushed to the wrapped
// transport.
type BatchConfig struct {
	MaxBatchSize int
	MaxBatchTime time.Duration
	// FlushOnDrop controls what Close does with a non-empty pending
	// batch: true flushes it to the wrapped transport, false discards it.
	FlushOnDrop bool
}

// DefaultBatchConfig mirrors the reference defaults: batches of up to 100
// records, flushed at least every 500ms, and flushed on Close.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxBatchSize: 100,
		MaxBatchTime: 500 * time.Millisecond,
		FlushOnDrop:  true,
	}
}

// BatchConfigBuilder builds a BatchConfig from DefaultBatchConfig().
type BatchConfigBuilder struct {
	cfg BatchConfig
}

// NewBatchConfigBuilder starts from DefaultBatchConfig().
func NewBatchConfigBuilder() *BatchConfigBuilder {
	return &BatchConfigBuilder{cfg: DefaultBatchConfig()}
}

func (b *BatchConfigBuilder) MaxBatchSize(n int) *BatchConfigBuilder {
	b.cfg.MaxBatchSize = n
	return b
}

func (b *BatchConfigBuilder) MaxBatchTime(d time.Duration) *BatchConfigBuilder {
	b.cfg.MaxBatchTime = d
	return b
}

func (b *BatchConfigBuilder) FlushOnDrop(flush bool) *BatchConfigBuilder {
	b.cfg.FlushOnDrop = flush
	return b
}

func (b *BatchConfigBuilder) Build() BatchConfig { return b.cfg }

type messageKind int

const (
	msgLog messageKind = iota
	msgFlush
	msgQuery
	msgClose
)

type message struct {
	record  record.LogRecord
	query   query.LogQuery
	flushCh chan error
	queryCh chan queryResult
	kind    messageKind
}

type queryResult struct {
	records []record.LogRecord
	err     error
}

const queueSize = 4096

// BatchedTransport accumulates records from possibly many producers and
// flushes them to the wrapped transport in batches. Handle returns a
// cloneable producer handle that can log, flush and query but has no
// Close; only the *BatchedTransport returned by the constructor closes
// the worker.
type BatchedTransport struct {
	inner   transport.Transport
	cfg     BatchConfig
	name    string
	queue   chan message
	discard chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	level   string
	hasLvl  bool
	format  any
	hasFmt  bool

	closeMu sync.Mutex
	closed  bool

	termMu  sync.Mutex
	termErr error
}

// New wraps inner with DefaultBatchConfig().
func New(inner transport.Transport) *BatchedTransport {
	return NewWithConfig(inner, DefaultBatchConfig())
}

// NewWithConfig wraps inner using the given batching configuration.
func NewWithConfig(inner transport.Transport, cfg BatchConfig) *BatchedTransport {
	return NewNamed(inner, cfg, "batchedtransport")
}

// IntoBatched is a standalone-function analog of the reference
// implementation's `into_batched` extension-trait method: Go has no way to
// add a method to a foreign type, so the same wrapping is exposed here as a
// plain function instead. Equivalent to New.
func IntoBatched(inner transport.Transport) *BatchedTransport {
	return New(inner)
}

// IntoBatchedWithConfig is the IntoBatched analog of NewWithConfig.
func IntoBatchedWithConfig(inner transport.Transport, cfg BatchConfig) *BatchedTransport {
	return NewWithConfig(inner, cfg)
}

// IntoBatchedNamed is the IntoBatched analog of NewNamed.
func IntoBatchedNamed(inner transport.Transport, cfg BatchConfig, name string) *BatchedTransport {
	return NewNamed(inner, cfg, name)
}

// NewNamed is equivalent to NewWithConfig but labels this transport's
// metrics under name instead of the generic default.
func NewNamed(inner transport.Transport, cfg BatchConfig, name string) *BatchedTransport {
	level, hasLvl := inner.GetLevel()
	format, hasFmt := inner.GetFormat()

	t := &BatchedTransport{
		inner:   inner,
		cfg:     cfg,
		name:    name,
		queue:   make(chan message, queueSize),
		discard: make(chan struct{}),
		done:    make(chan struct{}),
		level:   level,
		hasLvl:  hasLvl,
		format:  format,
		hasFmt:  hasFmt,
	}

	t.wg.Add(1)
	go t.run()
	return t
}

// Config returns the batching configuration this transport was built with.
func (t *BatchedTransport) Config() BatchConfig { return t.cfg }

func (t *BatchedTransport) run() {
	defer t.wg.Done()
	defer close(t.done)

	batch := make([]record.LogRecord, 0, t.cfg.MaxBatchSize)
	lastFlush := time.Now()

	// flushBatch recovers from any panic raised by the wrapped transport
	// so a misbehaving inner.LogBatch/Flush cannot crash the process; it
	// reports the panic as an error instead of leaving it to unwind.
	flushBatch := func(trigger string) error {
		n := len(batch)
		if err := t.safeCall(func() {
			if n > 0 {
				t.inner.LogBatch(batch)
			}
			_ = t.inner.Flush()
		}); err != nil {
			return err
		}
		batch = batch[:0]
		metrics.ObserveFlush(t.name, trigger, n)
		return nil
	}

	for {
		var timer *time.Timer
		var timerC <-chan time.Time
		if len(batch) > 0 {
			remaining := t.cfg.MaxBatchTime - time.Since(lastFlush)
			if remaining < 0 {
				remaining = 0
			}
			timer = time.NewTimer(remaining)
			timerC = timer.C
		}

		select {
		case <-t.discard:
			if timer != nil {
				timer.Stop()
			}
			// Close's FlushOnDrop=false path: discard whatever is
			// buffered rather than flushing it.
			if n := len(batch); n > 0 {
				metrics.ObserveDrop(t.name, "discarded_on_close", n)
			}
			batch = batch[:0]
			return

		case m := <-t.queue:
			if timer != nil {
				timer.Stop()
			}
			switch m.kind {
			case msgLog:
				batch = append(batch, m.record)
				if len(batch) >= t.cfg.MaxBatchSize {
					if err := flushBatch("size"); err != nil {
						t.fail(err, nil, nil)
						return
					}
					lastFlush = time.Now()
				}
			case msgFlush:
				err := flushBatch("explicit")
				lastFlush = time.Now()
				if err != nil {
					t.fail(err, m.flushCh, nil)
					return
				}
				m.flushCh <- nil
			case msgQuery:
				if err := flushBatch("explicit"); err != nil {
					t.fail(err, nil, m.queryCh)
					return
				}
				lastFlush = time.Now()
				var records []record.LogRecord
				var qerr error
				if err := t.safeCall(func() { records, qerr = t.inner.Query(m.query) }); err != nil {
					t.fail(err, nil, m.queryCh)
					return
				}
				m.queryCh <- queryResult{records: records, err: qerr}
			case msgClose:
				// Sent only on the FlushOnDrop=true path: flush
				// whatever is buffered before exiting.
				if err := flushBatch("shutdown"); err != nil {
					t.setTerminal(err)
				}
				return
			}

		case <-timerC:
			if len(batch) > 0 && time.Since(lastFlush) >= t.cfg.MaxBatchTime {
				if err := flushBatch("time"); err != nil {
					t.setTerminal(err)
					return
				}
				lastFlush = time.Now()
			}
		}
	}
}

// safeCall runs fn, converting any panic raised by the wrapped transport
// into an error instead of letting it unwind past the worker goroutine and
// crash the process.
func (t *BatchedTransport) safeCall(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveError(t.name, "worker_panic")
			err = errs.New(errs.KindWorkerDead, t.name, "worker", fmt.Sprintf("panic: %v", r))
		}
	}()
	fn()
	return nil
}

// fail records err as the terminal state, answers the message that
// triggered it (if it was waiting on a reply channel) so its caller never
// blocks forever, then answers every other Flush/Query request still
// queued with the same error.
func (t *BatchedTransport) fail(err error, flushCh chan error, queryCh chan queryResult) {
	t.setTerminal(err)
	if flushCh != nil {
		flushCh <- err
	}
	if queryCh != nil {
		queryCh <- queryResult{err: err}
	}
	t.drainPending()
}

// drainPending answers every Flush/Query message still sitting in the
// queue with the terminal error instead of leaving their callers blocked
// forever after the worker has stopped processing.
func (t *BatchedTransport) drainPending() {
	err := t.terminalErr()
	for {
		select {
		case m := <-t.queue:
			switch m.kind {
			case msgFlush:
				m.flushCh <- err
			case msgQuery:
				m.queryCh <- queryResult{err: err}
			}
		default:
			return
		}
	}
}

func (t *BatchedTransport) setTerminal(err error) {
	t.termMu.Lock()
	if t.termErr == nil {
		t.termErr = err
	}
	t.termMu.Unlock()
}

func (t *BatchedTransport) terminalErr() error {
	t.termMu.Lock()
	defer t.termMu.Unlock()
	return t.termErr
}

// Log enqueues r for batching. Never blocks on the wrapped transport.
func (t *BatchedTransport) Log(r record.LogRecord) {
	select {
	case t.queue <- message{kind: msgLog, record: r}:
		metrics.ObserveQueueDepth(t.name, len(t.queue))
	default:
		metrics.ObserveDrop(t.name, "queue_full", 1)
	}
}

// LogBatch enqueues each record individually so the normal batching
// thresholds still apply.
func (t *BatchedTransport) LogBatch(records []record.LogRecord) {
	for _, r := range records {
		t.Log(r)
	}
}

// Flush forces the pending batch out immediately and blocks until it has
// been applied to the wrapped transport. If a prior flush panicked, the
// first call to reach here after that returns the recorded terminal error
// instead of enqueueing anything.
func (t *BatchedTransport) Flush() error {
	if err := t.terminalErr(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case t.queue <- message{kind: msgFlush, flushCh: reply}:
	case <-t.done:
		return t.doneErr()
	}
	select {
	case err := <-reply:
		return err
	case <-t.done:
		return t.doneErr()
	}
}

// Query flushes the pending batch first, then delegates to the wrapped
// transport so queries observe everything logged before this call. If a
// prior operation panicked, the first call to reach here after that
// returns the recorded terminal error instead of enqueueing anything.
func (t *BatchedTransport) Query(q query.LogQuery) ([]record.LogRecord, error) {
	if err := t.terminalErr(); err != nil {
		return nil, err
	}
	reply := make(chan queryResult, 1)
	select {
	case t.queue <- message{kind: msgQuery, query: q, queryCh: reply}:
	case <-t.done:
		return nil, t.doneErr()
	}
	select {
	case res := <-reply:
		return res.records, res.err
	case <-t.done:
		return nil, t.doneErr()
	}
}

// doneErr reports why the worker has stopped: the panic that terminated it,
// if any, otherwise a channel-send error wrapping ErrShutdown so callers
// can still match it with errors.Is.
func (t *BatchedTransport) doneErr() error {
	if err := t.terminalErr(); err != nil {
		return err
	}
	return errs.Wrap(errs.KindChannelSend, t.name, "send", ErrShutdown)
}

func (t *BatchedTransport) GetLevel() (string, bool) { return t.level, t.hasLvl }
func (t *BatchedTransport) GetFormat() (any, bool)   { return t.format, t.hasFmt }

// Close stops the worker. When cfg.FlushOnDrop is true, Close sends a
// shutdown message that the worker processes after everything already
// enqueued, flushing the pending batch before exiting. When false, Close
// signals the worker directly: it discards whatever is currently buffered
// without flushing and exits without draining the rest of the queue. The
// producer channel itself is never closed, so producers racing a Close
// observe a stopped worker (their sends simply stop being consumed)
// rather than a panic on a closed channel. Close is idempotent: a second
// call returns an error.
func (t *BatchedTransport) Close() error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return fmt.Errorf("batchedtransport: already closed")
	}
	t.closed = true
	t.closeMu.Unlock()

	if t.cfg.FlushOnDrop {
		select {
		case t.queue <- message{kind: msgClose}:
		case <-t.done:
			return nil
		}
	} else {
		close(t.discard)
	}
	t.wg.Wait()
	return nil
}

var _ transport.Transport = (*BatchedTransport)(nil)

// Handle is a producer-only view of a BatchedTransport: it can log, flush,
// and query, but cannot Close the worker. Handle() returns any number of
// independent handles that are all safe to use concurrently; only the
// BatchedTransport value itself (its owner) should call Close.
type Handle struct {
	t *BatchedTransport
}

// Handle returns a new producer handle sharing this transport's worker.
func (t *BatchedTransport) Handle() Handle { return Handle{t: t} }

func (h Handle) Log(r record.LogRecord)              { h.t.Log(r) }
func (h Handle) LogBatch(records []record.LogRecord) { h.t.LogBatch(records) }
func (h Handle) Flush() error                        { return h.t.Flush() }
func (h Handle) Query(q query.LogQuery) ([]record.LogRecord, error) {
	return h.t.Query(q)
}
func (h Handle) GetLevel() (string, bool) { return h.t.GetLevel() }
func (h Handle) GetFormat() (any, bool)   { return h.t.GetFormat() }

var _ transport.Transport = Handle{}
