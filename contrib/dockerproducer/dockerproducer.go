// Package dockerproducer feeds a transport.Transport from one or more
// running containers' stdout/stderr streams, demultiplexed the way the
// Docker Engine API multiplexes them when no TTY is attached.
package dockerproducer

import (
	"context"
	"io"
	"sync"

	dockerTypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"

	"logtransport/metrics"
	"logtransport/record"
	"logtransport/transport"
)

// contextReader checks ctx before every Read and returns ctx's error once
// it is canceled. stdcopy.StdCopy reads through this so a container's
// collector goroutine stops at the next Read after Stop; a Read already
// blocked on the Docker daemon is not interrupted by this wrapper.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Producer streams logs from a set of containers into a transport.Transport,
// one collector goroutine per container.
type Producer struct {
	cli    *client.Client
	sink   transport.Transport
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	collectors map[string]context.CancelFunc
	wg         sync.WaitGroup
}

// New builds a Producer against the Docker daemon reachable at host (an
// empty host uses the client library's default, typically
// unix:///var/run/docker.sock).
func New(ctx context.Context, host string, sink transport.Transport, logger *logrus.Logger) (*Producer, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithCancel(ctx)
	return &Producer{
		cli:        cli,
		sink:       sink,
		logger:     logger,
		ctx:        pctx,
		cancel:     cancel,
		collectors: make(map[string]context.CancelFunc),
	}, nil
}

// StartCollecting begins streaming containerID's logs. A second call for
// the same container ID is a no-op.
func (p *Producer) StartCollecting(containerID string) {
	p.mu.Lock()
	if _, exists := p.collectors[containerID]; exists {
		p.mu.Unlock()
		return
	}
	collectCtx, cancel := context.WithCancel(p.ctx)
	p.collectors[containerID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.collect(collectCtx, containerID)
}

func (p *Producer) collect(ctx context.Context, containerID string) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.collectors, containerID)
		p.mu.Unlock()
	}()

	logStream, err := p.cli.ContainerLogs(ctx, containerID, dockerTypes.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: false,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ObserveError("dockerproducer", "transient_io")
		if p.logger != nil {
			p.logger.WithError(err).WithField("container_id", shortID(containerID)).Warn("dockerproducer: failed to open log stream")
		}
		return
	}
	defer logStream.Close()

	wrapped := &contextReader{ctx: ctx, r: logStream}
	stdout := &streamWriter{sink: p.sink, containerID: containerID, stream: "stdout"}
	stderr := &streamWriter{sink: p.sink, containerID: containerID, stream: "stderr"}

	_, err = stdcopy.StdCopy(stdout, stderr, wrapped)
	if err != nil && err != context.Canceled && ctx.Err() == nil {
		metrics.ObserveError("dockerproducer", "transient_io")
		if p.logger != nil {
			p.logger.WithError(err).WithField("container_id", shortID(containerID)).Warn("dockerproducer: log copy ended with error")
		}
	}
}

// StopCollecting cancels containerID's collector goroutine. A container
// ID that isn't being collected is a no-op.
func (p *Producer) StopCollecting(containerID string) {
	p.mu.Lock()
	cancel, exists := p.collectors[containerID]
	p.mu.Unlock()
	if exists {
		cancel()
	}
}

// Close stops every collector and waits for their goroutines to exit.
func (p *Producer) Close() error {
	p.cancel()
	p.wg.Wait()
	return p.cli.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// streamWriter turns one container's demultiplexed byte stream into
// LogRecords, splitting on newlines the way writertransport's
// TransportWriter does for a generic io.Writer.
type streamWriter struct {
	sink        transport.Transport
	containerID string
	stream      string
	partial     []byte
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)
	for {
		idx := indexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		line := string(w.partial[:idx])
		w.partial = w.partial[idx+1:]
		w.emit(line)
	}
	return len(p), nil
}

func (w *streamWriter) emit(line string) {
	level := "INFO"
	if w.stream == "stderr" {
		level = "ERROR"
	}
	r := record.New(level, line).
		WithMeta("container_id", shortID(w.containerID)).
		WithMeta("stream", w.stream)
	w.sink.Log(r)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
