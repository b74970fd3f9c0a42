// Package kafkasink adapts an Apache Kafka topic to transport.Transport,
// so a Kafka-backed sink composes with the same threadedtransport/
// batchedtransport wrappers as every other sink in this module. Batching
// itself is left to batchedtransport; this package only knows how to turn
// one LogBatch call into one Kafka produce call.
package kafkasink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"logtransport/metrics"
	"logtransport/record"
	"logtransport/transport"
)

// AuthConfig configures SASL authentication against the Kafka cluster.
type AuthConfig struct {
	Enabled   bool
	Username  string
	Password  string
	Mechanism string // "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"
}

// Config configures a Transport.
type Config struct {
	Brokers         []string
	Topic           string
	Compression     string // "gzip", "snappy", "lz4", "zstd", "" (none)
	RequiredAcks    int16
	MaxMessageBytes int
	Timeout         time.Duration
	Auth            AuthConfig
	TLSEnabled      bool
}

// Transport produces log records to a single Kafka topic using a
// synchronous producer — batching is the caller's responsibility (wrap
// with batchedtransport), not this package's.
type Transport struct {
	transport.BaseTransport
	topic    string
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

// New builds the underlying sarama client and connects to cfg.Brokers.
func New(cfg Config, logger *logrus.Logger) (*Transport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafkasink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafkasink: no topic configured")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	if cfg.RequiredAcks != 0 {
		saramaCfg.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	}
	if cfg.MaxMessageBytes > 0 {
		saramaCfg.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	}
	if cfg.Timeout > 0 {
		saramaCfg.Net.DialTimeout = cfg.Timeout
		saramaCfg.Net.ReadTimeout = cfg.Timeout
		saramaCfg.Net.WriteTimeout = cfg.Timeout
	}

	switch strings.ToLower(cfg.Compression) {
	case "gzip":
		saramaCfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaCfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaCfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaCfg.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaCfg.Producer.Compression = sarama.CompressionNone
	}

	if cfg.Auth.Enabled {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.Auth.Username
		saramaCfg.Net.SASL.Password = cfg.Auth.Password

		switch strings.ToUpper(cfg.Auth.Mechanism) {
		case "PLAIN":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha256Generator}
			}
		case "SCRAM-SHA-512":
			saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: sha512Generator}
			}
		}
	}

	if cfg.TLSEnabled {
		saramaCfg.Net.TLS.Enable = true
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("kafkasink: creating producer: %w", err)
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"brokers":     cfg.Brokers,
			"topic":       cfg.Topic,
			"compression": cfg.Compression,
		}).Info("kafka transport initialized")
	}

	return &Transport{topic: cfg.Topic, producer: producer, logger: logger}, nil
}

func (t *Transport) encode(r record.LogRecord) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: t.topic,
		Value: sarama.ByteEncoder(payload),
	}, nil
}

// Log produces r to the configured topic. Failures are logged and
// counted, never returned, per the Transport contract.
func (t *Transport) Log(r record.LogRecord) {
	msg, err := t.encode(r)
	if err != nil {
		t.reportError(err, "encode")
		return
	}
	if _, _, err := t.producer.SendMessage(msg); err != nil {
		t.reportError(err, "send")
	}
}

// LogBatch produces every record as one batched Kafka produce call.
func (t *Transport) LogBatch(records []record.LogRecord) {
	if len(records) == 0 {
		return
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(records))
	for _, r := range records {
		msg, err := t.encode(r)
		if err != nil {
			t.reportError(err, "encode")
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}
	if err := t.producer.SendMessages(msgs); err != nil {
		t.reportError(err, "send_batch")
	}
}

// Flush is a no-op: sarama's SyncProducer has already confirmed every
// send by the time Log/LogBatch returns.
func (t *Transport) Flush() error { return nil }

func (t *Transport) reportError(err error, op string) {
	metrics.ObserveError("kafkasink", "transient_io")
	if t.logger != nil {
		t.logger.WithError(err).WithField("op", op).Error("kafka transport send failed")
	}
}

// Close shuts down the underlying producer. Safe to call once.
func (t *Transport) Close() error {
	return t.producer.Close()
}

var _ transport.Transport = (*Transport)(nil)
