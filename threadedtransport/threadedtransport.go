// Package threadedtransport wraps a transport.Transport so every operation
// runs on a dedicated background goroutine, making Log non-blocking for the
// caller regardless of how slow the wrapped transport is.
package threadedtransport

import (
	"errors"
	"fmt"
	"sync"

	"logtransport/errs"
	"logtransport/metrics"
	"logtransport/query"
	"logtransport/record"
	"logtransport/transport"
)

// ErrShutdown is returned by Flush/Query once the background goroutine has
// stopped.
var ErrShutdown = errors.New("threadedtransport: worker has shut down")

const messageQueueSize = 1024

type messageKind int

const (
	msgLog messageKind = iota
	msgLogBatch
	msgFlush
	msgQuery
	msgShutdown
)

type message struct {
	kind    messageKind
	record  record.LogRecord
	records []record.LogRecord
	query   query.LogQuery
	flushCh chan error
	queryCh chan queryResult
}

type queryResult struct {
	records []record.LogRecord
	err     error
}

// ThreadedTransport runs all operations on the wrapped transport serially
// on a single background goroutine, reached through a buffered channel.
// Log and LogBatch never block on the wrapped transport's own latency;
// Flush and Query do block, since their callers need the result.
type ThreadedTransport struct {
	inner   transport.Transport
	name    string
	queue   chan message
	done    chan struct{}
	wg      sync.WaitGroup
	level   string
	hasLvl  bool
	format  any
	hasFmt  bool
	shutMu  sync.Mutex
	shutOk  bool

	termMu  sync.Mutex
	termErr error
}

// New wraps inner so its operations run on a background goroutine.
func New(inner transport.Transport) *ThreadedTransport {
	return newNamed(inner, "threadedtransport")
}

// NewNamed is equivalent to New but labels this transport's metrics under
// name instead of the generic default.
func NewNamed(inner transport.Transport, name string) *ThreadedTransport {
	return newNamed(inner, name)
}

// IntoThreaded is a standalone-function analog of the reference
// implementation's `into_threaded` extension-trait method: Go has no way to
// add a method to a foreign type, so the same wrapping is exposed here as a
// plain function instead. Equivalent to New.
func IntoThreaded(inner transport.Transport) *ThreadedTransport {
	return New(inner)
}

// IntoThreadedNamed is the IntoThreaded analog of NewNamed.
func IntoThreadedNamed(inner transport.Transport, name string) *ThreadedTransport {
	return NewNamed(inner, name)
}

func newNamed(inner transport.Transport, name string) *ThreadedTransport {
	level, hasLvl := inner.GetLevel()
	format, hasFmt := inner.GetFormat()

	t := &ThreadedTransport{
		inner:  inner,
		name:   name,
		queue:  make(chan message, messageQueueSize),
		done:   make(chan struct{}),
		level:  level,
		hasLvl: hasLvl,
		format: format,
		hasFmt: hasFmt,
	}

	t.wg.Add(1)
	go t.run()
	return t
}

func (t *ThreadedTransport) run() {
	defer t.wg.Done()
	defer close(t.done)
	for {
		m := <-t.queue
		switch m.kind {
		case msgLog:
			if err := t.safeCall(func() { t.inner.Log(m.record) }); err != nil {
				t.fail(err, nil, nil)
				t.drainPending()
				return
			}
		case msgLogBatch:
			if err := t.safeCall(func() { t.inner.LogBatch(m.records) }); err != nil {
				t.fail(err, nil, nil)
				t.drainPending()
				return
			}
		case msgFlush:
			var ferr error
			if err := t.safeCall(func() { ferr = t.inner.Flush() }); err != nil {
				t.fail(err, m.flushCh, nil)
				t.drainPending()
				return
			}
			m.flushCh <- ferr
		case msgQuery:
			var records []record.LogRecord
			var qerr error
			if err := t.safeCall(func() { records, qerr = t.inner.Query(m.query) }); err != nil {
				t.fail(err, nil, m.queryCh)
				t.drainPending()
				return
			}
			m.queryCh <- queryResult{records: records, err: qerr}
		case msgShutdown:
			// Shutdown rides the same FIFO queue, so every message
			// enqueued before it has already been applied by the
			// time the final flush runs.
			_ = t.safeCall(func() { _ = t.inner.Flush() })
			return
		}
	}
}

// safeCall runs fn, converting any panic raised by the wrapped transport
// into an error instead of letting it unwind past the worker goroutine and
// crash the process.
func (t *ThreadedTransport) safeCall(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveError(t.name, "worker_panic")
			err = errs.New(errs.KindWorkerDead, t.name, "worker", fmt.Sprintf("panic: %v", r))
		}
	}()
	fn()
	return nil
}

// fail records err as the terminal state and, if the message that
// triggered it was waiting on a reply channel, answers it with err so its
// caller never blocks forever.
func (t *ThreadedTransport) fail(err error, flushCh chan error, queryCh chan queryResult) {
	t.setTerminal(err)
	if flushCh != nil {
		flushCh <- err
	}
	if queryCh != nil {
		queryCh <- queryResult{err: err}
	}
}

// drainPending answers every Flush/Query message still sitting in the
// queue with the terminal error instead of leaving their callers blocked
// forever after the worker has stopped processing.
func (t *ThreadedTransport) drainPending() {
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

func (t *ThreadedTransport) setTerminal(err error) {
	t.termMu.Lock()
	if t.termErr == nil {
		t.termErr = err
	}
	t.termMu.Unlock()
}

func (t *ThreadedTransport) terminalErr() error {
	t.termMu.Lock()
	defer t.termMu.Unlock()
	return t.termErr
}

// Log enqueues r for the background worker. It never blocks on the
// wrapped transport; if the queue is momentarily full the record is
// dropped rather than stalling the caller, mirroring the reference
// implementation's non-blocking send.
func (t *ThreadedTransport) Log(r record.LogRecord) {
	select {
	case t.queue <- message{kind: msgLog, record: r}:
		metrics.ObserveQueueDepth(t.name, len(t.queue))
	default:
		metrics.ObserveDrop(t.name, "queue_full", 1)
	}
}

// LogBatch enqueues records as a single unit so they are applied in order
// relative to one another.
func (t *ThreadedTransport) LogBatch(records []record.LogRecord) {
	if len(records) == 0 {
		return
	}
	select {
	case t.queue <- message{kind: msgLogBatch, records: records}:
	default:
		metrics.ObserveDrop(t.name, "queue_full", len(records))
	}
}

// Flush blocks until every message enqueued before this call has been
// applied, then flushes the wrapped transport. If a prior operation
// panicked, the first call to reach here after that returns the recorded
// terminal error instead of enqueueing anything.
func (t *ThreadedTransport) Flush() error {
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

// Query blocks until the wrapped transport answers q. If a prior operation
// panicked, the first call to reach here after that returns the recorded
// terminal error instead of enqueueing anything.
func (t *ThreadedTransport) Query(q query.LogQuery) ([]record.LogRecord, error) {
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
func (t *ThreadedTransport) doneErr() error {
	if err := t.terminalErr(); err != nil {
		return err
	}
	return errs.Wrap(errs.KindChannelSend, t.name, "send", ErrShutdown)
}

func (t *ThreadedTransport) GetLevel() (string, bool) { return t.level, t.hasLvl }
func (t *ThreadedTransport) GetFormat() (any, bool)   { return t.format, t.hasFmt }

// Shutdown drains the queue, performs a final flush on the wrapped
// transport, and waits for the worker goroutine to exit. The producer
// channel is never closed, so producers racing a Shutdown observe a
// stopped worker (their sends stop being consumed and eventually drop)
// rather than a panic on a closed channel. Shutdown runs only once: a
// second call returns an error.
func (t *ThreadedTransport) Shutdown() error {
	t.shutMu.Lock()
	if t.shutOk {
		t.shutMu.Unlock()
		return fmt.Errorf("threadedtransport: already shut down")
	}
	t.shutOk = true
	t.shutMu.Unlock()

	select {
	case t.queue <- message{kind: msgShutdown}:
	case <-t.done:
	}
	t.wg.Wait()
	return nil
}

var _ transport.Transport = (*ThreadedTransport)(nil)
