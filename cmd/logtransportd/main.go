// Command logtransportd runs a demo log transport pipeline: an always-on
// rotated file sink, optional Kafka/tail/Docker producers, an optional
// self-diagnostics monitor, and an optional HTTP query server — all wired
// together from one YAML config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"logtransport/batchedtransport"
	"logtransport/config"
	"logtransport/contrib/dockerproducer"
	"logtransport/contrib/filesink"
	"logtransport/contrib/kafkasink"
	"logtransport/contrib/queryserver"
	"logtransport/contrib/selfdiag"
	"logtransport/contrib/tailproducer"
	"logtransport/contrib/tracing"
	"logtransport/query"
	"logtransport/record"
	"logtransport/threadedtransport"
	"logtransport/transport"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	resolved := config.ResolveConfigFile(configFile)
	if resolved == "" {
		resolved = "./configs/config.yaml"
		if _, err := os.Stat(resolved); err != nil {
			resolved = ""
		}
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logtransportd: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := run(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "logtransportd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error

	base, err := buildBaseTransport(cfg, logger)
	if err != nil {
		return fmt.Errorf("build base transport: %w", err)
	}

	tracingMgr, err := tracing.NewManager(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    "jaeger",
		Endpoint:    cfg.Tracing.JaegerURL,
		SampleRate:  1.0,
	}, logger)
	if err != nil {
		return fmt.Errorf("build tracing manager: %w", err)
	}
	closers = append(closers, func() error { return tracingMgr.Shutdown(context.Background()) })

	sink := tracingMgr.Wrap(base)

	batched := batchedtransport.NewWithConfig(sink, batchedtransport.NewBatchConfigBuilder().
		MaxBatchSize(cfg.Transport.MaxBatchSize).
		MaxBatchTime(cfg.Transport.MaxBatchTime).
		FlushOnDrop(cfg.Transport.FlushOnDrop).
		Build())
	closers = append(closers, batched.Close)

	threaded := threadedtransport.New(batched)
	closers = append(closers, threaded.Shutdown)

	var pipeline transport.Transport = threaded

	if cfg.Tail.Enabled && len(cfg.Tail.Paths) > 0 {
		tailer, err := tailproducer.New(ctx, tailproducer.Config{Paths: cfg.Tail.Paths}, pipeline, logger)
		if err != nil {
			return fmt.Errorf("start tail producer: %w", err)
		}
		closers = append(closers, func() error { tailer.Wait(); return nil })
	}

	if cfg.Docker.Enabled {
		docker, err := dockerproducer.New(ctx, cfg.Docker.Host, pipeline, logger)
		if err != nil {
			return fmt.Errorf("start docker producer: %w", err)
		}
		for _, id := range cfg.Docker.Containers {
			docker.StartCollecting(id)
		}
		closers = append(closers, docker.Close)
	}

	var diag *selfdiag.Monitor
	if cfg.Diagnostics.Enabled {
		diag, err = selfdiag.New(selfdiag.Config{CheckInterval: cfg.Diagnostics.Interval}, pipeline)
		if err != nil {
			return fmt.Errorf("build selfdiag monitor: %w", err)
		}
		diag.Start(ctx)
		closers = append(closers, func() error { diag.Stop(); return nil })
	}

	var qs *queryserver.Server
	if cfg.QueryServer.Enabled {
		qs = queryserver.New(queryserver.Config{Addr: cfg.QueryServer.Addr}, pipeline, logger)
		go func() {
			if err := qs.ListenAndServe(); err != nil {
				logger.WithError(err).Error("query server stopped")
			}
		}()
		closers = append(closers, func() error { return qs.Shutdown(context.Background()) })
	}

	logger.Info("logtransportd started")
	<-ctx.Done()
	logger.Info("logtransportd shutting down")

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.WithError(err).Warn("error during shutdown")
		}
	}
	return nil
}

// buildBaseTransport returns the always-on file sink, optionally fanning
// out to Kafka when enabled. Kafka sits behind its own threaded transport
// so a slow broker cannot backpressure the file sink.
func buildBaseTransport(cfg *config.Config, logger *logrus.Logger) (transport.Transport, error) {
	fileSink, err := filesink.New(filesink.Config{
		Directory:    cfg.FileSink.Directory,
		MaxSizeMB:    cfg.FileSink.MaxSizeMB,
		MaxOpenFiles: cfg.FileSink.MaxOpenFiles,
		Compress:     cfg.FileSink.Compress,
		RetainFiles:  cfg.FileSink.RetainFiles,
	}, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.Kafka.Enabled {
		return fileSink, nil
	}

	kafka, err := kafkasink.New(kafkasink.Config{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		Compression: cfg.Kafka.Compression,
		Auth: kafkasink.AuthConfig{
			Enabled:  cfg.Kafka.SASLUser != "",
			Username: cfg.Kafka.SASLUser,
			Password: cfg.Kafka.SASLPass,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build kafka sink: %w", err)
	}

	return &fanOutTransport{primary: fileSink, secondary: threadedtransport.New(kafka)}, nil
}

// fanOutTransport logs to both primary and secondary, reading/flushing
// only from primary.
type fanOutTransport struct {
	primary   transport.Transport
	secondary transport.Transport
}

func (f *fanOutTransport) Log(r record.LogRecord) {
	f.primary.Log(r)
	f.secondary.Log(r)
}

func (f *fanOutTransport) LogBatch(records []record.LogRecord) {
	f.primary.LogBatch(records)
	f.secondary.LogBatch(records)
}

func (f *fanOutTransport) Flush() error { return f.primary.Flush() }

func (f *fanOutTransport) Query(q query.LogQuery) ([]record.LogRecord, error) {
	return f.primary.Query(q)
}

func (f *fanOutTransport) GetLevel() (string, bool) { return f.primary.GetLevel() }

func (f *fanOutTransport) GetFormat() (any, bool) { return f.primary.GetFormat() }

var _ transport.Transport = (*fanOutTransport)(nil)
