// Package config loads and watches the collector configuration file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File is the top-level collector configuration document.
type File struct {
	Collector CollectorConfig `yaml:"collector"`
	Sink      SinkConfig      `yaml:"sink"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"logLevel"`
}

// CollectorConfig holds the tracker endpoint settings.
type CollectorConfig struct {
	Listen    string          `yaml:"listen"`
	Path      string          `yaml:"path"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig throttles ingest. A zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// SinkConfig holds delivery settings. Durations are milliseconds.
type SinkConfig struct {
	Type              string `yaml:"type"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	StreamName        string `yaml:"streamName"`
	FallbackQueueName string `yaml:"fallbackQueueName"`
	ByteLimit         int    `yaml:"byteLimit"`
	RecordLimit       int    `yaml:"recordLimit"`
	TimeLimit         int    `yaml:"timeLimit"`
	MinBackoff        int    `yaml:"minBackoff"`
	MaxBackoff        int    `yaml:"maxBackoff"`
	ThreadPoolSize    int    `yaml:"threadPoolSize"`
	AccessKey         string `yaml:"accessKey"`
	SecretKey         string `yaml:"secretKey"`
}

// MetricsConfig holds the metrics/health server settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Sink types.
const (
	SinkKinesis = "kinesis"
	SinkStdout  = "stdout"
)

// FlushInterval returns the time-trigger flush interval.
func (s SinkConfig) FlushInterval() time.Duration {
	return time.Duration(s.TimeLimit) * time.Millisecond
}

// MinBackoffDuration returns the lower retry-wait bound.
func (s SinkConfig) MinBackoffDuration() time.Duration {
	return time.Duration(s.MinBackoff) * time.Millisecond
}

// MaxBackoffDuration returns the upper retry-wait bound.
func (s SinkConfig) MaxBackoffDuration() time.Duration {
	return time.Duration(s.MaxBackoff) * time.Millisecond
}

// Default returns a File with every field at its default.
func Default() File {
	return File{
		Collector: CollectorConfig{
			Listen: ":8080",
			Path:   "/events",
		},
		Sink: SinkConfig{
			Type:           SinkKinesis,
			ByteLimit:      4_000_000,
			RecordLimit:    500,
			TimeLimit:      5_000,
			MinBackoff:     3_000,
			MaxBackoff:     600_000,
			ThreadPoolSize: 10,
			AccessKey:      "default",
			SecretKey:      "default",
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
		LogLevel: "info",
	}
}

// Load reads path, fills defaults, and validates the result.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the fields a restart cannot fix up by defaulting.
func (f *File) Validate() error {
	if f.Collector.Listen == "" {
		return fmt.Errorf("collector.listen is required")
	}
	switch f.Sink.Type {
	case SinkKinesis:
		if f.Sink.StreamName == "" {
			return fmt.Errorf("sink.streamName is required for the kinesis sink")
		}
	case SinkStdout:
	default:
		return fmt.Errorf("unknown sink.type %q", f.Sink.Type)
	}
	if f.Sink.ByteLimit <= 0 {
		return fmt.Errorf("sink.byteLimit must be positive")
	}
	if f.Sink.RecordLimit <= 0 {
		return fmt.Errorf("sink.recordLimit must be positive")
	}
	if f.Sink.TimeLimit <= 0 {
		return fmt.Errorf("sink.timeLimit must be positive")
	}
	if f.Sink.MinBackoff <= 0 {
		return fmt.Errorf("sink.minBackoff must be positive")
	}
	if f.Sink.MaxBackoff < f.Sink.MinBackoff {
		return fmt.Errorf("sink.maxBackoff must be >= sink.minBackoff")
	}
	if f.Sink.ThreadPoolSize < 1 {
		return fmt.Errorf("sink.threadPoolSize must be at least 1")
	}
	return nil
}

// Loader re-reads the configuration file when it changes on disk. Only
// settings that are safe to apply live (rate limit, log level) should
// be acted on by the callback; everything else requires a restart.
type Loader struct {
	mu       sync.RWMutex
	current  *File
	path     string
	logger   *slog.Logger
	onChange func(*File)
}

// NewLoader creates a loader for the given file path.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, logger: logger}
}

// OnChange registers a callback that fires after a successful reload.
func (l *Loader) OnChange(fn func(*File)) {
	l.onChange = fn
}

// Load reads the file and remembers the result.
func (l *Loader) Load() (*File, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() *File {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch watches the file's directory and reloads on changes to the
// file. Editors and config-map mounts replace files rather than write
// them in place, so the directory is the reliable thing to watch.
// Blocks until done is closed.
func (l *Loader) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close() // intentionally ignoring close error during cleanup
	}()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}

	l.logger.Info("watching config file", "path", l.path)

	base := filepath.Base(l.path)
	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			l.logger.Info("config change detected", "file", event.Name, "op", event.Op)
			cfg, err := l.Load()
			if err != nil {
				l.logger.Error("failed to reload config", "error", err)
				continue
			}
			if l.onChange != nil {
				l.onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("watcher error", "error", err)
		}
	}
}
