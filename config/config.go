// Package config loads the YAML configuration for the optional
// cmd/logtransportd demo binary: which contrib producers and sinks to
// wire together, batching and compression settings, and the query
// server's listen address. Every section fills in defaults for
// whatever the YAML file left blank, then accepts environment variable
// overrides on top of that — the same two-pass convention the rest of
// this module's transports follow for their own construction.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ConfigFileEnvVar is the environment variable cmd/logtransportd checks
// for a config file path when none is given on the command line.
const ConfigFileEnvVar = "LOGTRANSPORT_CONFIG_FILE"

// Config is the root of the demo binary's YAML configuration.
type Config struct {
	Transport   TransportConfig   `yaml:"transport"`
	Compression CompressionConfig `yaml:"compression"`
	FileSink    FileSinkConfig    `yaml:"file_sink"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Tail        TailConfig        `yaml:"tail"`
	Docker      DockerConfig      `yaml:"docker"`
	QueryServer QueryServerConfig `yaml:"query_server"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// TransportConfig configures the batching layer every sink is wrapped
// with.
type TransportConfig struct {
	MaxBatchSize int           `yaml:"max_batch_size"`
	MaxBatchTime time.Duration `yaml:"max_batch_time"`
	FlushOnDrop  bool          `yaml:"flush_on_drop"`
}

// CompressionConfig configures payload compression before a sink write.
type CompressionConfig struct {
	DefaultAlgorithm string `yaml:"default_algorithm"`
	MinBytes         int    `yaml:"min_bytes"`
	Level            int    `yaml:"level"`
}

// FileSinkConfig configures the always-on rotated local file sink.
type FileSinkConfig struct {
	Directory    string `yaml:"directory"`
	MaxSizeMB    int64  `yaml:"max_size_mb"`
	MaxOpenFiles int    `yaml:"max_open_files"`
	Compress     bool   `yaml:"compress"`
	RetainFiles  int    `yaml:"retain_files"`
}

// KafkaConfig configures the optional Kafka sink.
type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	SASLUser    string   `yaml:"sasl_user"`
	SASLPass    string   `yaml:"sasl_pass"`
	Compression string   `yaml:"compression"`
}

// TailConfig configures the optional file-tailing producer.
type TailConfig struct {
	Enabled bool     `yaml:"enabled"`
	Paths   []string `yaml:"paths"`
}

// DockerConfig configures the optional container-log producer.
type DockerConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Containers []string `yaml:"containers"`
	Host       string   `yaml:"host"`
}

// QueryServerConfig configures the optional HTTP query server.
type QueryServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DiagnosticsConfig configures the self-diagnostic resource monitor.
type DiagnosticsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// TracingConfig configures the optional OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	JaegerURL   string `yaml:"jaeger_endpoint"`
}

// DefaultConfig returns a Config with every field set to its documented
// default, matching what an empty or missing YAML file would produce.
func DefaultConfig() Config {
	return Config{
		Transport: TransportConfig{
			MaxBatchSize: 100,
			MaxBatchTime: 500 * time.Millisecond,
			FlushOnDrop:  true,
		},
		Compression: CompressionConfig{
			DefaultAlgorithm: "gzip",
			MinBytes:         1024,
			Level:            6,
		},
		FileSink: FileSinkConfig{
			Directory:    "./logs",
			MaxSizeMB:    100,
			MaxOpenFiles: 100,
			Compress:     true,
			RetainFiles:  10,
		},
		Kafka: KafkaConfig{
			Topic:       "logs",
			Compression: "snappy",
		},
		QueryServer: QueryServerConfig{
			Addr: ":8089",
		},
		Diagnostics: DiagnosticsConfig{
			Interval: 30 * time.Second,
		},
		Tracing: TracingConfig{
			ServiceName: "logtransportd",
		},
	}
}

// Load reads configFile (if non-empty) as YAML over DefaultConfig(),
// then applies environment variable overrides. A missing or empty
// configFile is not an error: Load falls back to defaults plus env
// overrides, same as the reference binary's behavior when no config
// file is given.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", configFile, err)
		}
	}

	applyEnvironmentOverrides(&cfg)
	return &cfg, nil
}

// ResolveConfigFile returns the explicit flag value if non-empty,
// otherwise the value of ConfigFileEnvVar, otherwise "".
func ResolveConfigFile(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(ConfigFileEnvVar)
}

func applyEnvironmentOverrides(cfg *Config) {
	cfg.Transport.MaxBatchSize = getEnvInt("LOGTRANSPORT_MAX_BATCH_SIZE", cfg.Transport.MaxBatchSize)
	cfg.Transport.MaxBatchTime = getEnvDuration("LOGTRANSPORT_MAX_BATCH_TIME", cfg.Transport.MaxBatchTime)
	cfg.Transport.FlushOnDrop = getEnvBool("LOGTRANSPORT_FLUSH_ON_DROP", cfg.Transport.FlushOnDrop)

	cfg.Compression.DefaultAlgorithm = getEnvString("LOGTRANSPORT_COMPRESSION_ALGORITHM", cfg.Compression.DefaultAlgorithm)
	cfg.Compression.MinBytes = getEnvInt("LOGTRANSPORT_COMPRESSION_MIN_BYTES", cfg.Compression.MinBytes)

	cfg.FileSink.Directory = getEnvString("LOGTRANSPORT_FILESINK_DIRECTORY", cfg.FileSink.Directory)
	cfg.FileSink.Compress = getEnvBool("LOGTRANSPORT_FILESINK_COMPRESS", cfg.FileSink.Compress)

	cfg.Kafka.Enabled = getEnvBool("LOGTRANSPORT_KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = getEnvStringSlice("LOGTRANSPORT_KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = getEnvString("LOGTRANSPORT_KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.SASLUser = getEnvString("LOGTRANSPORT_KAFKA_SASL_USER", cfg.Kafka.SASLUser)
	cfg.Kafka.SASLPass = getEnvString("LOGTRANSPORT_KAFKA_SASL_PASS", cfg.Kafka.SASLPass)

	cfg.Tail.Enabled = getEnvBool("LOGTRANSPORT_TAIL_ENABLED", cfg.Tail.Enabled)
	cfg.Tail.Paths = getEnvStringSlice("LOGTRANSPORT_TAIL_PATHS", cfg.Tail.Paths)

	cfg.Docker.Enabled = getEnvBool("LOGTRANSPORT_DOCKER_ENABLED", cfg.Docker.Enabled)
	cfg.Docker.Host = getEnvString("LOGTRANSPORT_DOCKER_HOST", cfg.Docker.Host)

	cfg.QueryServer.Enabled = getEnvBool("LOGTRANSPORT_QUERY_SERVER_ENABLED", cfg.QueryServer.Enabled)
	cfg.QueryServer.Addr = getEnvString("LOGTRANSPORT_QUERY_SERVER_ADDR", cfg.QueryServer.Addr)

	cfg.Diagnostics.Enabled = getEnvBool("LOGTRANSPORT_DIAGNOSTICS_ENABLED", cfg.Diagnostics.Enabled)

	cfg.Tracing.Enabled = getEnvBool("LOGTRANSPORT_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.JaegerURL = getEnvString("LOGTRANSPORT_JAEGER_ENDPOINT", cfg.Tracing.JaegerURL)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
