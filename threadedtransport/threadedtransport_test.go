package threadedtransport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"logtransport/errs"
	"logtransport/query"
	"logtransport/record"
)

type mockTransport struct {
	mu       sync.Mutex
	messages []string
	delay    time.Duration
}

func newMockTransport() *mockTransport { return &mockTransport{} }

func newMockTransportWithDelay(d time.Duration) *mockTransport {
	return &mockTransport{delay: d}
}

func (m *mockTransport) Log(r record.LogRecord) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	m.messages = append(m.messages, r.Message)
	m.mu.Unlock()
}

func (m *mockTransport) LogBatch(records []record.LogRecord) {
	for _, r := range records {
		m.Log(r)
	}
}

func (m *mockTransport) Flush() error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return nil
}

func (m *mockTransport) Query(query.LogQuery) ([]record.LogRecord, error) { return nil, nil }
func (m *mockTransport) GetLevel() (string, bool)                        { return "", false }
func (m *mockTransport) GetFormat() (any, bool)                          { return nil, false }

func (m *mockTransport) getMessages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	copy(out, m.messages)
	return out
}

func TestThreadedTransportBasicLogging(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := newMockTransport()
	th := New(mock)

	th.Log(record.New("INFO", "Message 1"))
	th.Log(record.New("INFO", "Message 2"))
	th.Log(record.New("INFO", "Message 3"))

	require.NoError(t, th.Flush())
	require.NoError(t, th.Shutdown())

	messages := mock.getMessages()
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"Message 1", "Message 2", "Message 3"}, messages)
}

func TestThreadedTransportNonBlocking(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := newMockTransportWithDelay(100 * time.Millisecond)
	th := New(mock)

	start := time.Now()
	th.Log(record.New("INFO", "Slow message 1"))
	th.Log(record.New("INFO", "Slow message 2"))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 50*time.Millisecond)

	require.NoError(t, th.Flush())
	require.NoError(t, th.Shutdown())

	assert.Len(t, mock.getMessages(), 2)
}

func TestThreadedTransportGracefulShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := newMockTransport()
	th := NewNamed(mock, "test-logger")

	th.Log(record.New("INFO", "Before shutdown"))
	require.NoError(t, th.Shutdown())

	messages := mock.getMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Before shutdown", messages[0])
}

func TestThreadedTransportShutdownTwiceErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	th := New(newMockTransport())
	require.NoError(t, th.Shutdown())
	assert.Error(t, th.Shutdown())
}

func TestThreadedTransportFlushAfterShutdownReturnsErrShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	th := New(newMockTransport())
	require.NoError(t, th.Shutdown())

	err := th.Flush()
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestThreadedTransportCarriesLevelAndFormat(t *testing.T) {
	defer goleak.VerifyNone(t)

	inner := &levelledMock{level: "WARN", hasLevel: true, format: "json", hasFormat: true}
	th := New(inner)
	defer th.Shutdown()

	level, ok := th.GetLevel()
	assert.True(t, ok)
	assert.Equal(t, "WARN", level)

	format, ok := th.GetFormat()
	assert.True(t, ok)
	assert.Equal(t, "json", format)
}

// panicTransport panics from whichever method panicOn names, to exercise
// the worker's panic recovery.
type panicTransport struct {
	panicOn string
}

func (p *panicTransport) Log(record.LogRecord) {
	if p.panicOn == "log" {
		panic("mock sink failure")
	}
}

func (p *panicTransport) LogBatch(records []record.LogRecord) {
	for _, r := range records {
		p.Log(r)
	}
}

func (p *panicTransport) Flush() error {
	if p.panicOn == "flush" {
		panic("mock sink failure")
	}
	return nil
}

func (p *panicTransport) Query(query.LogQuery) ([]record.LogRecord, error) {
	if p.panicOn == "query" {
		panic("mock sink failure")
	}
	return nil, nil
}

func (p *panicTransport) GetLevel() (string, bool) { return "", false }
func (p *panicTransport) GetFormat() (any, bool)   { return nil, false }

func TestThreadedTransportRecoversFromLogPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	th := New(&panicTransport{panicOn: "log"})
	th.Log(record.New("INFO", "triggers panic"))

	var err error
	require.Eventually(t, func() bool {
		err = th.Flush()
		return err != nil
	}, time.Second, time.Millisecond)
	assert.NotErrorIs(t, err, ErrShutdown)

	_, qerr := th.Query(query.New())
	require.Error(t, qerr)

	require.NoError(t, th.Shutdown())
}

func TestWorkerPanicSurfacesStructuredTerminalError(t *testing.T) {
	defer goleak.VerifyNone(t)

	th := New(&panicTransport{panicOn: "flush"})

	err := th.Flush()
	require.Error(t, err)

	var se *errs.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, errs.KindWorkerDead, se.Kind)
	assert.False(t, se.Recoverable())

	require.NoError(t, th.Shutdown())
}

func TestFlushAfterShutdownIsChannelSendKind(t *testing.T) {
	defer goleak.VerifyNone(t)

	th := New(newMockTransport())
	require.NoError(t, th.Shutdown())

	err := th.Flush()
	var se *errs.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, errs.KindChannelSend, se.Kind)
	assert.False(t, se.Recoverable())
}

func TestThreadedTransportRecoversFromFlushPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	th := New(&panicTransport{panicOn: "flush"})

	err := th.Flush()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrShutdown)

	require.NoError(t, th.Shutdown())
}

func TestThreadedTransportRecoversFromQueryPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	th := New(&panicTransport{panicOn: "query"})

	_, err := th.Query(query.New())
	require.Error(t, err)

	require.NoError(t, th.Shutdown())
}

func TestThreadedTransportDrainsPendingRepliesAfterPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	th := New(&panicTransport{panicOn: "log"})
	th.Log(record.New("INFO", "triggers panic"))

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			errs[i] = th.Flush()
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.Error(t, err)
	}
	require.NoError(t, th.Shutdown())
}

type levelledMock struct {
	level     string
	hasLevel  bool
	format    any
	hasFormat bool
}

func (l *levelledMock) Log(record.LogRecord)       {}
func (l *levelledMock) LogBatch([]record.LogRecord) {}
func (l *levelledMock) Flush() error               { return nil }
func (l *levelledMock) Query(query.LogQuery) ([]record.LogRecord, error) {
	return nil, nil
}
func (l *levelledMock) GetLevel() (string, bool) { return l.level, l.hasLevel }
func (l *levelledMock) GetFormat() (any, bool)    { return l.format, l.hasFormat }
