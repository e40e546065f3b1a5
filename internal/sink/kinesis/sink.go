// Package kinesis implements the buffered, batching Kinesis sink with
// optional SQS spillover.
package kinesis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awskinesis "github.com/aws/aws-sdk-go-v2/service/kinesis"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/lsm/inlet/internal/backoff"
	"github.com/lsm/inlet/internal/clock"
	"github.com/lsm/inlet/internal/observability"
)

// Per-payload byte ceilings. Spilled payloads are base64 encoded, so
// when a fallback queue is configured the queue's 256 KB message limit
// shrinks to 3/4 of it on the raw payload. The stricter limit applies
// on ingest because any event may end up spilled.
const (
	maxBytesPrimary  = 1_000_000
	maxBytesFallback = 192_000
)

// shutdownGrace bounds how long Shutdown waits for in-flight
// submissions.
const shutdownGrace = 10 * time.Second

// Config holds Kinesis sink configuration.
type Config struct {
	Region            string
	Endpoint          string // optional override for local stacks
	StreamName        string
	FallbackQueueName string // empty disables the fallback path
	ByteLimit         int
	RecordLimit       int
	TimeLimit         time.Duration
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
	ThreadPoolSize    int
	AccessKey         string
	SecretKey         string
}

// streamClient is the full stream surface the sink consumes.
type streamClient interface {
	streamAPI
	streamCheckAPI
}

// queueClient is the full queue surface the sink consumes.
type queueClient interface {
	queueAPI
	queueLookupAPI
}

// Sink buffers raw events and delivers them to the stream in batches,
// spilling rejected records to the fallback queue when one is
// configured.
type Sink struct {
	timeLimit time.Duration

	buffer   *eventBuffer
	primary  *primarySubmitter
	sched    *clock.Scheduler
	clk      clock.Clock
	logger   *slog.Logger
	maxBytes int

	shutdownOnce sync.Once
}

// New validates cfg, connects the stream and queue clients, verifies
// the downstream targets, and starts the periodic flush task.
func New(ctx context.Context, cfg Config, logger *slog.Logger, metrics *observability.Metrics) (*Sink, error) {
	if cfg.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := resolveAWSConfig(ctx, cfg.Region, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	stream := awskinesis.NewFromConfig(awsCfg, func(o *awskinesis.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.Retryer = newStreamRetryer()
	})

	var queue queueClient
	if cfg.FallbackQueueName != "" {
		queue = awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
	}

	return newFromClients(ctx, cfg, stream, queue, clock.System{}, logger, metrics), nil
}

// newFromClients wires the sink from pre-built clients. Split out of
// New so tests can inject mocks.
func newFromClients(ctx context.Context, cfg Config, stream streamClient, queue queueClient, clk clock.Clock, logger *slog.Logger, metrics *observability.Metrics) *Sink {
	streamOK := verifyStream(ctx, stream, cfg.StreamName, logger, metrics)

	var fallback *fallbackSubmitter
	sched := clock.NewScheduler(cfg.ThreadPoolSize)

	if queue != nil {
		url, ok := lookupQueue(ctx, queue, cfg.FallbackQueueName, logger, metrics)
		if !ok {
			// Keep the fallback wired with the bare name as its URL. The
			// URL is not looked up again; failed sends are logged and
			// dropped.
			url = cfg.FallbackQueueName
		}
		fallback = &fallbackSubmitter{
			client:   queue,
			queueURL: url,
			sched:    sched,
			logger:   logger,
			metrics:  metrics,
		}
	} else if !streamOK {
		logger.Warn("stream is unavailable and no fallback queue is configured; events will be dropped",
			"stream", cfg.StreamName,
		)
	}

	primary := &primarySubmitter{
		client: stream,
		stream: cfg.StreamName,
		sched:  sched,
		backoff: backoff.Generator{
			Min: cfg.MinBackoff,
			Max: cfg.MaxBackoff,
		},
		fallback: fallback,
		logger:   logger,
		metrics:  metrics,
	}

	maxBytes := maxBytesPrimary
	if fallback != nil {
		maxBytes = maxBytesFallback
	}

	s := &Sink{
		timeLimit: cfg.TimeLimit,
		primary:   primary,
		sched:     sched,
		clk:       clk,
		logger:    logger,
		maxBytes:  maxBytes,
	}
	s.buffer = newEventBuffer(
		cfg.ByteLimit,
		cfg.RecordLimit,
		maxBytes,
		clk,
		func(events []Event) { primary.SendBatch(events, cfg.MinBackoff) },
		logger,
		metrics,
	)

	sched.ScheduleAfter(cfg.TimeLimit, s.flushTick)
	return s
}

// StoreRawEvents buffers each payload under key. Always returns nil:
// delivery failures never propagate to the HTTP caller.
func (s *Sink) StoreRawEvents(payloads [][]byte, key string) [][]byte {
	for _, p := range payloads {
		s.buffer.Store(p, key)
	}
	return nil
}

// MaxBytes is the payload size limit; payloads of MaxBytes bytes or
// more are dropped.
func (s *Sink) MaxBytes() int {
	return s.maxBytes
}

// Shutdown drains the buffer once and gives in-flight submissions up
// to ten seconds. Unfired retry timers are discarded; interrupting a
// running submission is never attempted.
func (s *Sink) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("sink shutting down, draining buffer")
		s.buffer.Flush(triggerShutdown)
		s.sched.Stop(shutdownGrace)
	})
}

// flushTick drains the buffer when it has been quiet for a full time
// limit, then re-arms itself. Re-arming with the remainder makes the
// timer self-correcting: a recent size- or count-triggered flush
// pushes the next tick out.
func (s *Sink) flushTick() {
	elapsed := s.clk.Now().Sub(s.buffer.LastFlushAt())
	if elapsed >= s.timeLimit {
		s.buffer.Flush(triggerTimer)
		s.sched.ScheduleAfter(s.timeLimit, s.flushTick)
		return
	}
	s.sched.ScheduleAfter(s.timeLimit-elapsed, s.flushTick)
}
