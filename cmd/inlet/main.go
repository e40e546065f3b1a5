package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lsm/inlet/internal/config"
	"github.com/lsm/inlet/internal/observability"
	"github.com/lsm/inlet/internal/ratelimit"
	"github.com/lsm/inlet/internal/sink"
	kinesissink "github.com/lsm/inlet/internal/sink/kinesis"
	stdoutsink "github.com/lsm/inlet/internal/sink/stdout"
	httpsource "github.com/lsm/inlet/internal/source/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the collector config file")
	logLevel := flag.String("log-level", "", "log level override (debug|info|warn|error)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("INLET_CONFIG")
	}
	if path == "" {
		path = "/etc/inlet/collector.yaml"
	}

	level := &slog.LevelVar{}
	logger := observability.NewLogger("inlet", level)
	slog.SetDefault(logger)

	loader := config.NewLoader(path, logger)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *logLevel != "" {
		level.Set(observability.ParseLogLevel(*logLevel))
	} else {
		level.Set(observability.GetLogLevel(cfg.LogLevel))
	}

	// Metrics and health endpoints.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	health := &observability.Health{}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	health.Register(mux)

	metricsServer := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	go func() {
		logger.Info("metrics server starting", "addr", cfg.Metrics.Listen)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	snk, err := buildSink(ctx, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}

	limiter := ratelimit.New(cfg.Collector.RateLimit.RPS, cfg.Collector.RateLimit.Burst)

	// Only the rate limit and log level are safe to apply live.
	loader.OnChange(func(next *config.File) {
		limiter.Set(next.Collector.RateLimit.RPS, next.Collector.RateLimit.Burst)
		level.Set(observability.GetLogLevel(next.LogLevel))
		logger.Info("applied reloadable settings",
			"rps", next.Collector.RateLimit.RPS,
			"burst", next.Collector.RateLimit.Burst,
			"log_level", next.LogLevel,
		)
	})
	watchDone := make(chan struct{})
	go func() {
		if err := loader.Watch(watchDone); err != nil {
			logger.Error("config watcher error", "error", err)
		}
	}()

	source, err := httpsource.NewSource(httpsource.Config{
		ListenAddr: cfg.Collector.Listen,
		Path:       cfg.Collector.Path,
	}, snk, limiter, logger, metrics)
	if err != nil {
		return fmt.Errorf("build source: %w", err)
	}

	health.SetReady(true)

	// Serve until a signal arrives, then drain in order: stop accepting,
	// flush the sink, stop the metrics server.
	srcErr := source.Start(ctx)

	health.SetReady(false)
	close(watchDone)
	snk.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	if srcErr != nil && !errors.Is(srcErr, context.Canceled) {
		return srcErr
	}
	logger.Info("collector stopped")
	return nil
}

func buildSink(ctx context.Context, cfg *config.File, logger *slog.Logger, metrics *observability.Metrics) (sink.Sink, error) {
	switch cfg.Sink.Type {
	case config.SinkStdout:
		return stdoutsink.New(logger), nil
	case config.SinkKinesis:
		return kinesissink.New(ctx, kinesissink.Config{
			Region:            cfg.Sink.Region,
			Endpoint:          cfg.Sink.Endpoint,
			StreamName:        cfg.Sink.StreamName,
			FallbackQueueName: cfg.Sink.FallbackQueueName,
			ByteLimit:         cfg.Sink.ByteLimit,
			RecordLimit:       cfg.Sink.RecordLimit,
			TimeLimit:         cfg.Sink.FlushInterval(),
			MinBackoff:        cfg.Sink.MinBackoffDuration(),
			MaxBackoff:        cfg.Sink.MaxBackoffDuration(),
			ThreadPoolSize:    cfg.Sink.ThreadPoolSize,
			AccessKey:         cfg.Sink.AccessKey,
			SecretKey:         cfg.Sink.SecretKey,
		}, logger, metrics)
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}
}
