// Package compression picks a compression algorithm for a payload and
// applies it using pooled, reusable codec writers. A payload below a
// configurable size threshold, or targeting a sink with compression
// disabled, passes through untouched.
package compression

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"logtransport/metrics"
)

// Algorithm names a compression codec.
type Algorithm string

const (
	AlgorithmGzip   Algorithm = "gzip"
	AlgorithmZlib   Algorithm = "zlib"
	AlgorithmZstd   Algorithm = "zstd"
	AlgorithmLZ4    Algorithm = "lz4"
	AlgorithmSnappy Algorithm = "snappy"
	AlgorithmAuto   Algorithm = "auto"
	AlgorithmNone   Algorithm = "none"
)

// AlgorithmConfig controls one algorithm's availability.
type AlgorithmConfig struct {
	Enabled bool `yaml:"enabled"`
	Level   int  `yaml:"level"`
	MinSize int  `yaml:"min_size"`
}

// SinkConfig overrides the default algorithm choice for a single named
// sink, or disables compression for it entirely.
type SinkConfig struct {
	Algorithm Algorithm `yaml:"algorithm"`
	Enabled   bool      `yaml:"enabled"`
}

// Config configures a Compressor.
type Config struct {
	DefaultAlgorithm Algorithm                      `yaml:"default_algorithm"`
	MinBytes         int                            `yaml:"min_bytes"`
	Level            int                            `yaml:"level"`
	Algorithms       map[Algorithm]AlgorithmConfig  `yaml:"algorithms"`
	PerSink          map[string]SinkConfig          `yaml:"per_sink"`
}

// DefaultConfig returns gzip at level 6, a 1KB minimum, and every
// algorithm enabled.
func DefaultConfig() Config {
	return Config{
		DefaultAlgorithm: AlgorithmGzip,
		MinBytes:         1024,
		Level:            6,
		Algorithms: map[Algorithm]AlgorithmConfig{
			AlgorithmGzip:   {Enabled: true, Level: 6, MinSize: 1024},
			AlgorithmZlib:   {Enabled: true, Level: 6, MinSize: 1024},
			AlgorithmZstd:   {Enabled: true, Level: 3, MinSize: 1024},
			AlgorithmLZ4:    {Enabled: true, Level: 1, MinSize: 1024},
			AlgorithmSnappy: {Enabled: true, MinSize: 1024},
		},
	}
}

// fillDefaults returns cfg with zero-valued fields replaced by
// DefaultConfig()'s values, and any algorithm missing from cfg.Algorithms
// added from the default set.
func fillDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.DefaultAlgorithm == "" {
		cfg.DefaultAlgorithm = def.DefaultAlgorithm
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = def.MinBytes
	}
	if cfg.Level == 0 {
		cfg.Level = def.Level
	}
	if cfg.Algorithms == nil {
		cfg.Algorithms = make(map[Algorithm]AlgorithmConfig)
	}
	for alg, algCfg := range def.Algorithms {
		if _, exists := cfg.Algorithms[alg]; !exists {
			cfg.Algorithms[alg] = algCfg
		}
	}
	return cfg
}

// Result describes one Compress call's outcome.
type Result struct {
	Data           []byte
	Algorithm      Algorithm
	OriginalSize   int
	CompressedSize int
	Ratio          float64
	Encoding       string
}

// pools holds the reusable codec writers for one algorithm.
type pools struct {
	gzip sync.Pool
	zlib sync.Pool
	zstd sync.Pool
	lz4  sync.Pool
}

// Compressor applies Config's algorithm selection and pooling policy to
// byte payloads.
type Compressor struct {
	config Config
	pools  map[Algorithm]*pools
}

// New builds a Compressor from cfg, filling unset fields from
// DefaultConfig() and initializing one writer pool per configured
// algorithm.
func New(cfg Config) *Compressor {
	cfg = fillDefaults(cfg)
	c := &Compressor{
		config: cfg,
		pools:  make(map[Algorithm]*pools),
	}
	for algorithm, algCfg := range cfg.Algorithms {
		level := algCfg.Level
		p := &pools{}
		switch algorithm {
		case AlgorithmGzip:
			p.gzip = sync.Pool{New: func() any {
				w, _ := gzip.NewWriterLevel(io.Discard, normalizeGzipLevel(level))
				return w
			}}
		case AlgorithmZlib:
			p.zlib = sync.Pool{New: func() any {
				w, _ := zlib.NewWriterLevel(io.Discard, normalizeGzipLevel(level))
				return w
			}}
		case AlgorithmZstd:
			encLevel := zstdEncoderLevel(level)
			p.zstd = sync.Pool{New: func() any {
				w, _ := zstd.NewWriter(io.Discard, zstd.WithEncoderLevel(encLevel))
				return w
			}}
		case AlgorithmLZ4:
			p.lz4 = sync.Pool{New: func() any {
				return lz4.NewWriter(io.Discard)
			}}
		}
		c.pools[algorithm] = p
	}
	return c
}

func normalizeGzipLevel(level int) int {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return gzip.DefaultCompression
	}
	return level
}

// zstdEncoderLevel maps a 1-22-ish zstd compression level onto the
// klauspost/compress speed tiers, since that package's encoder takes a
// named speed level rather than an arbitrary integer.
func zstdEncoderLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 12:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Compress applies algorithm (or AlgorithmAuto / the configured default)
// to data, honoring any per-sink override or disablement for sinkType.
// Payloads under the configured minimum, or directed at a disabled
// algorithm or sink, are returned unmodified with AlgorithmNone. Every
// call that actually compresses records its ratio via
// metrics.ObserveCompression.
func (c *Compressor) Compress(data []byte, algorithm Algorithm, sinkType string) (*Result, error) {
	passthrough := func() *Result {
		return &Result{
			Data:           data,
			Algorithm:      AlgorithmNone,
			OriginalSize:   len(data),
			CompressedSize: len(data),
			Ratio:          1.0,
		}
	}

	if len(data) < c.config.MinBytes {
		return passthrough(), nil
	}

	if sinkCfg, exists := c.config.PerSink[sinkType]; exists {
		if !sinkCfg.Enabled {
			return passthrough(), nil
		}
		if sinkCfg.Algorithm != "" {
			algorithm = sinkCfg.Algorithm
		}
	}

	if algorithm == AlgorithmAuto || algorithm == "" {
		algorithm = c.selectAlgorithm(len(data))
	}

	algCfg, enabled := c.config.Algorithms[algorithm]
	if !enabled || !algCfg.Enabled {
		return passthrough(), nil
	}

	compressed, err := c.compressWith(data, algorithm)
	if err != nil {
		metrics.ObserveError("compression", "transient_io")
		return nil, fmt.Errorf("compression: %s: %w", algorithm, err)
	}

	metrics.ObserveCompression(string(algorithm), len(data), len(compressed))

	return &Result{
		Data:           compressed,
		Algorithm:      algorithm,
		OriginalSize:   len(data),
		CompressedSize: len(compressed),
		Ratio:          float64(len(compressed)) / float64(len(data)),
		Encoding:       contentEncoding(algorithm),
	}, nil
}

// selectAlgorithm picks a codec by payload size: LZ4 for small or very
// large payloads where speed matters most, gzip for the common middle
// range, zstd for the range where ratio is worth the extra CPU.
func (c *Compressor) selectAlgorithm(size int) Algorithm {
	switch {
	case size < 4*1024:
		return AlgorithmLZ4
	case size < 64*1024:
		return AlgorithmGzip
	case size < 1024*1024:
		return AlgorithmZstd
	default:
		return AlgorithmLZ4
	}
}

func (c *Compressor) compressWith(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmGzip:
		return c.compressGzip(data)
	case AlgorithmZlib:
		return c.compressZlib(data)
	case AlgorithmZstd:
		return c.compressZstd(data)
	case AlgorithmLZ4:
		return c.compressLZ4(data)
	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

func (c *Compressor) compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	p := c.pools[AlgorithmGzip]
	w := p.gzip.Get().(*gzip.Writer)
	defer p.gzip.Put(w)
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Compressor) compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	p := c.pools[AlgorithmZlib]
	w := p.zlib.Get().(*zlib.Writer)
	defer p.zlib.Put(w)
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Compressor) compressZstd(data []byte) ([]byte, error) {
	p := c.pools[AlgorithmZstd]
	w := p.zstd.Get().(*zstd.Encoder)
	defer p.zstd.Put(w)
	var buf bytes.Buffer
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Compressor) compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	p := c.pools[AlgorithmLZ4]
	w := p.lz4.Get().(*lz4.Writer)
	defer p.lz4.Put(w)
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress for the given algorithm. AlgorithmNone
// returns data unchanged.
func (c *Compressor) Decompress(data []byte, algorithm Algorithm) ([]byte, error) {
	switch algorithm {
	case AlgorithmNone, "":
		return data, nil
	case AlgorithmGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case AlgorithmZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case AlgorithmZstd:
		r, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case AlgorithmLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	case AlgorithmSnappy:
		return snappy.Decode(nil, data)
	default:
		return nil, fmt.Errorf("unsupported decompression algorithm: %s", algorithm)
	}
}

func contentEncoding(algorithm Algorithm) string {
	switch algorithm {
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmZlib:
		return "deflate"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	default:
		return ""
	}
}
