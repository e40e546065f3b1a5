// Package stdout is a development sink that prints accepted payloads
// to standard output, one base64 line each. It lets the HTTP front-end
// run without AWS access.
package stdout

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

const maxBytes = 1_000_000

// Sink writes events to a line-oriented writer.
type Sink struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

// New creates a stdout sink.
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{out: os.Stdout, logger: logger}
}

// StoreRawEvents writes one "key base64(payload)" line per payload.
func (s *Sink) StoreRawEvents(payloads [][]byte, key string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range payloads {
		if len(p) >= maxBytes {
			s.logger.Error("dropping oversize payload", "size", len(p), "max_bytes", maxBytes)
			continue
		}
		fmt.Fprintf(s.out, "%s %s\n", key, base64.StdEncoding.EncodeToString(p))
	}
	return nil
}

// MaxBytes is the payload size limit; payloads of MaxBytes bytes or
// more are dropped.
func (s *Sink) MaxBytes() int {
	return maxBytes
}

// Shutdown is a no-op; writes are synchronous.
func (s *Sink) Shutdown() {}
