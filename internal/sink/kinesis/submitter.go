package kinesis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awskinesis "github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/lsm/inlet/internal/backoff"
	"github.com/lsm/inlet/internal/clock"
	"github.com/lsm/inlet/internal/observability"
)

// Client-side retry policy for the stream client. Throughput errors are
// excluded so they surface immediately and the outer retry can choose
// between in-memory rescheduling and fallback spillover.
const (
	streamRetryAttempts   = 10
	streamRetryMaxBackoff = 5 * time.Hour
)

// streamAPI abstracts the Kinesis client for testing.
type streamAPI interface {
	PutRecords(ctx context.Context, in *awskinesis.PutRecordsInput, opts ...func(*awskinesis.Options)) (*awskinesis.PutRecordsOutput, error)
}

// primarySubmitter ships event batches to the stream and decides what
// happens to the ones the stream rejects.
type primarySubmitter struct {
	client   streamAPI
	stream   string
	sched    *clock.Scheduler
	backoff  backoff.Generator
	fallback *fallbackSubmitter // nil when no queue is configured
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// SendBatch queues an asynchronous PutRecords for events. lastBackoff
// is the wait that preceded this attempt; first attempts pass the
// generator minimum.
func (p *primarySubmitter) SendBatch(events []Event, lastBackoff time.Duration) {
	if len(events) == 0 {
		return
	}
	p.sched.Submit(func() { p.send(events, lastBackoff) })
}

func (p *primarySubmitter) send(events []Event, lastBackoff time.Duration) {
	entries := make([]types.PutRecordsRequestEntry, len(events))
	for i, ev := range events {
		entries[i] = types.PutRecordsRequestEntry{
			Data:         ev.Payload,
			PartitionKey: aws.String(ev.Key),
		}
	}

	out, err := p.client.PutRecords(context.Background(), &awskinesis.PutRecordsInput{
		StreamName: aws.String(p.stream),
		Records:    entries,
	})
	if err != nil {
		p.logger.Error("stream put failed",
			"stream", p.stream,
			"records", len(events),
			"error", err,
		)
		p.metrics.PrimaryBatches.WithLabelValues("error").Inc()
		p.handleFailures(events, lastBackoff)
		return
	}

	// The response aligns positionally with the request; entries with an
	// error code were not written.
	var failures []Event
	for i, rec := range out.Records {
		if rec.ErrorCode != nil {
			p.logger.Error("record rejected by stream",
				"stream", p.stream,
				"error_code", aws.ToString(rec.ErrorCode),
				"error_message", aws.ToString(rec.ErrorMessage),
			)
			failures = append(failures, events[i])
		}
	}
	if len(failures) == 0 {
		p.metrics.PrimaryBatches.WithLabelValues("ok").Inc()
		p.logger.Debug("batch delivered", "stream", p.stream, "records", len(events))
		return
	}

	p.metrics.PrimaryBatches.WithLabelValues("partial").Inc()
	p.metrics.PrimaryRecordFailures.Add(float64(len(failures)))
	p.handleFailures(failures, lastBackoff)
}

// handleFailures spills to the fallback queue when one is configured,
// otherwise reschedules the failed subset. The retry waits the
// pre-increment lastBackoff and carries the incremented value forward,
// so the very first retry lands after the generator minimum.
func (p *primarySubmitter) handleFailures(failures []Event, lastBackoff time.Duration) {
	next := p.backoff.Next(lastBackoff)
	if p.fallback != nil {
		p.fallback.Put(failures)
		return
	}
	p.metrics.RetriesScheduled.Inc()
	p.sched.ScheduleAfter(lastBackoff, func() { p.send(failures, next) })
}

// newStreamRetryer builds the stream client's internal retry policy.
func newStreamRetryer() aws.Retryer {
	std := retry.NewStandard(func(o *retry.StandardOptions) {
		o.MaxAttempts = streamRetryAttempts
		o.MaxBackoff = streamRetryMaxBackoff
		o.Backoff = retry.NewExponentialJitterBackoff(streamRetryMaxBackoff)
	})
	return throughputSurfacingRetryer{Retryer: std}
}

// throughputSurfacingRetryer disables client-side retries for
// ProvisionedThroughputExceededException. Transient network errors get
// cheap client-side retries; throughput pressure escalates to the sink.
type throughputSurfacingRetryer struct {
	aws.Retryer
}

func (r throughputSurfacingRetryer) IsErrorRetryable(err error) bool {
	var te *types.ProvisionedThroughputExceededException
	if errors.As(err, &te) {
		return false
	}
	return r.Retryer.IsErrorRetryable(err)
}
