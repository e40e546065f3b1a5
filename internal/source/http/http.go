// Package http implements the tracker ingestion endpoint.
package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/lsm/inlet/internal/observability"
	"github.com/lsm/inlet/internal/ratelimit"
	"github.com/lsm/inlet/internal/sink"
)

// Config holds tracker endpoint configuration.
type Config struct {
	ListenAddr string
	Path       string
}

// partitionKeyHeader lets callers pin the stream partition explicitly.
const partitionKeyHeader = "X-Partition-Key"

// Source receives tracker payloads via HTTP POST and hands them to the
// sink. Accepted requests get a 200 immediately; delivery is
// fire-and-forget from the client's point of view.
type Source struct {
	server  *http.Server
	sink    sink.Sink
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	metrics *observability.Metrics
	addr    string
	path    string

	// ListenAddr is the bound address, available once Start has begun
	// serving. Useful when the configured port is 0.
	ListenAddr string
	ready      chan struct{}
}

// NewSource creates a tracker source feeding snk.
func NewSource(cfg Config, snk sink.Sink, limiter *ratelimit.Limiter, logger *slog.Logger, metrics *observability.Metrics) (*Source, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("HTTP listen address is required")
	}
	if snk == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	return &Source{
		sink:    snk,
		limiter: limiter,
		logger:  logger,
		metrics: metrics,
		addr:    cfg.ListenAddr,
		path:    path,
		ready:   make(chan struct{}),
	}, nil
}

// Start begins accepting requests. Blocks until ctx is cancelled.
func (s *Source) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleTrack)

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ListenAddr = lis.Addr().String()

	s.server = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("tracker endpoint starting", "addr", s.ListenAddr, "path", s.path)
		close(s.ready)
		if err := s.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		if err := s.server.Shutdown(context.Background()); err != nil {
			s.logger.Error("tracker endpoint shutdown error", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Source) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.reply(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.reply(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	// Read one byte past the cap so oversize bodies are detectable
	// without buffering them whole.
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.sink.MaxBytes())+1))
	if err != nil {
		s.reply(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) == 0 {
		s.reply(w, http.StatusBadRequest, "empty body")
		return
	}
	if len(body) >= s.sink.MaxBytes() {
		s.reply(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	s.sink.StoreRawEvents([][]byte{body}, s.partitionKey(r))
	s.count(http.StatusOK)
	w.WriteHeader(http.StatusOK)
}

// partitionKey prefers an explicit header, then the client address,
// then a random key so keyless traffic still spreads across shards.
func (s *Source) partitionKey(r *http.Request) string {
	if k := r.Header.Get(partitionKeyHeader); k != "" {
		return k
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

func (s *Source) reply(w http.ResponseWriter, code int, msg string) {
	s.count(code)
	http.Error(w, msg, code)
}

func (s *Source) count(code int) {
	if s.metrics != nil {
		s.metrics.HTTPRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

// Close stops the HTTP server.
func (s *Source) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
