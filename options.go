package voxcache

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/voxcache/internal/resource"
	"github.com/hupe1980/voxcache/pathcache"
)

type options struct {
	maxReaders       int
	parallelism      int
	ioLimit          int64
	memoryLimit      int64
	loader           Loader
	canonicalizer    pathcache.Canonicalizer
	logger           *Logger
	logLevel         *slog.Level
	metricsCollector MetricsCollector
	controller       *resource.Controller
}

func defaultOptions() options {
	return options{
		maxReaders:       1,
		parallelism:      runtime.GOMAXPROCS(0),
		metricsCollector: NoopMetricsCollector{},
	}
}

// Option configures an Env.
type Option func(*options)

// WithMaxReaders sets how many slice reads may block on their sources at
// the same time. Values below 1 are treated as 1.
func WithMaxReaders(n int) Option {
	return func(o *options) {
		o.maxReaders = max(n, 1)
	}
}

// WithParallelism caps the scheduler worker count. The effective number of
// workers is min(parallelism, maxReaders).
//
// If n <= 0, GOMAXPROCS is used.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n <= 0 {
			n = runtime.GOMAXPROCS(0)
		}
		o.parallelism = n
	}
}

// WithIOLimit throttles slice reads to bytesPerSec decoded bytes.
// Zero disables throttling.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithMemoryLimit bounds the bytes held by materialized images.
// Zero only tracks usage.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithLoader sets the collaborator Env.Load uses for cache misses.
func WithLoader(l Loader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// WithCanonicalizer sets how Env.Load turns paths into cache keys.
// The default cleans paths lexically.
func WithCanonicalizer(fn func(string) (string, error)) Option {
	return func(o *options) {
		o.canonicalizer = fn
	}
}

// WithLogger sets the logger. If nil, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithLogLevel creates a text logger at level. It is ignored when
// WithLogger is also given.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logLevel = &level
	}
}

// WithMetricsCollector sets the metrics sink.
//
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithController makes the Env share an existing admission, memory and IO
// budget, typically obtained from another Env's Controller method. It
// overrides WithMaxReaders, WithIOLimit and WithMemoryLimit.
func WithController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}
