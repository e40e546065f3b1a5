package kinesis

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lsm/inlet/internal/clock"
	"github.com/lsm/inlet/internal/observability"
)

// Event is one buffered payload with its stream partition key.
type Event struct {
	Payload []byte
	Key     string
}

// Flush triggers, used as metric labels.
const (
	triggerRecords  = "records"
	triggerBytes    = "bytes"
	triggerTimer    = "timer"
	triggerShutdown = "shutdown"
)

// eventBuffer accumulates events in arrival order until a byte, record,
// or time limit triggers a flush. One mutex guards the slice and byte
// count; lastFlushAt is published separately so the flush timer can
// read it without contending with Store.
type eventBuffer struct {
	byteLimit   int
	recordLimit int
	maxBytes    int

	clk     clock.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	submit  func(events []Event)

	mu          sync.Mutex
	events      []Event
	byteCount   int
	lastFlushAt atomic.Pointer[time.Time]
}

func newEventBuffer(byteLimit, recordLimit, maxBytes int, clk clock.Clock, submit func([]Event), logger *slog.Logger, metrics *observability.Metrics) *eventBuffer {
	b := &eventBuffer{
		byteLimit:   byteLimit,
		recordLimit: recordLimit,
		maxBytes:    maxBytes,
		clk:         clk,
		logger:      logger,
		metrics:     metrics,
		submit:      submit,
	}
	now := clk.Now()
	b.lastFlushAt.Store(&now)
	return b
}

// Store appends one event. When the append reaches the record or byte
// limit the buffer drains inside the same critical section, so no
// concurrent Store can see (and re-flush) the same events. The
// submission itself happens outside the lock.
func (b *eventBuffer) Store(payload []byte, key string) {
	if len(payload) >= b.maxBytes {
		b.logger.Error("dropping oversize payload",
			"size", len(payload),
			"max_bytes", b.maxBytes,
		)
		b.metrics.EventsReceived.WithLabelValues("oversize").Inc()
		b.metrics.EventsDropped.WithLabelValues("oversize").Inc()
		return
	}
	b.metrics.EventsReceived.WithLabelValues("stored").Inc()

	var snapshot []Event
	trigger := ""

	b.mu.Lock()
	b.events = append(b.events, Event{Payload: payload, Key: key})
	b.byteCount += len(payload)
	switch {
	case len(b.events) >= b.recordLimit:
		trigger = triggerRecords
	case b.byteCount >= b.byteLimit:
		trigger = triggerBytes
	}
	if trigger != "" {
		snapshot = b.drainLocked()
	}
	b.mu.Unlock()

	b.dispatch(snapshot, trigger)
}

// Flush drains the buffer and submits the snapshot. An empty snapshot
// is a no-op toward the submitter, but lastFlushAt still advances.
func (b *eventBuffer) Flush(trigger string) {
	b.mu.Lock()
	snapshot := b.drainLocked()
	b.mu.Unlock()

	b.dispatch(snapshot, trigger)
}

// LastFlushAt returns the instant of the most recent drain.
func (b *eventBuffer) LastFlushAt() time.Time {
	return *b.lastFlushAt.Load()
}

func (b *eventBuffer) drainLocked() []Event {
	snapshot := b.events
	b.events = nil
	b.byteCount = 0
	now := b.clk.Now()
	b.lastFlushAt.Store(&now)
	return snapshot
}

func (b *eventBuffer) dispatch(snapshot []Event, trigger string) {
	if len(snapshot) == 0 {
		return
	}
	b.metrics.Flushes.WithLabelValues(trigger).Inc()
	b.metrics.FlushBatchSize.Observe(float64(len(snapshot)))
	b.submit(snapshot)
}
