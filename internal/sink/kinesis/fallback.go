package kinesis

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/lsm/inlet/internal/clock"
	"github.com/lsm/inlet/internal/observability"
)

// queueBatchLimit is the SendMessageBatch entry cap.
const queueBatchLimit = 10

// partitionKeyAttribute carries the original stream partition key on
// each spilled message.
const partitionKeyAttribute = "kinesisKey"

// queueAPI abstracts the SQS client for testing.
type queueAPI interface {
	SendMessageBatch(ctx context.Context, in *awssqs.SendMessageBatchInput, opts ...func(*awssqs.Options)) (*awssqs.SendMessageBatchOutput, error)
}

// fallbackSubmitter spills events the stream rejected to the auxiliary
// queue. Entries the queue also rejects are logged and dropped: the
// queue bounds collector memory, and re-retrying from here would
// rebuild the pressure it exists to relieve.
type fallbackSubmitter struct {
	client   queueAPI
	queueURL string
	sched    *clock.Scheduler
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Put queues an asynchronous spill of events to the queue.
func (f *fallbackSubmitter) Put(events []Event) {
	if len(events) == 0 {
		return
	}
	f.sched.Submit(func() { f.put(events) })
}

// put sends events in groups of at most queueBatchLimit, sequentially
// within this task. Groups are independent; concurrent groups from
// other batches are fine.
func (f *fallbackSubmitter) put(events []Event) {
	for start := 0; start < len(events); start += queueBatchLimit {
		end := min(start+queueBatchLimit, len(events))
		f.sendGroup(events[start:end])
	}
}

func (f *fallbackSubmitter) sendGroup(events []Event) {
	entries := make([]sqstypes.SendMessageBatchRequestEntry, len(events))
	for i, ev := range events {
		// The queue requires a unique id per batch entry; it carries no
		// meaning downstream.
		entries[i] = sqstypes.SendMessageBatchRequestEntry{
			Id:          aws.String(uuid.NewString()),
			MessageBody: aws.String(base64.StdEncoding.EncodeToString(ev.Payload)),
			MessageAttributes: map[string]sqstypes.MessageAttributeValue{
				partitionKeyAttribute: {
					DataType:    aws.String("String"),
					StringValue: aws.String(ev.Key),
				},
			},
		}
	}

	out, err := f.client.SendMessageBatch(context.Background(), &awssqs.SendMessageBatchInput{
		QueueUrl: aws.String(f.queueURL),
		Entries:  entries,
	})
	if err != nil {
		f.logger.Error("queue batch send failed, events dropped",
			"queue_url", f.queueURL,
			"events", len(events),
			"error", err,
		)
		f.metrics.FallbackMessages.WithLabelValues("failed").Add(float64(len(events)))
		f.metrics.EventsDropped.WithLabelValues("fallback").Add(float64(len(events)))
		return
	}

	for _, fe := range out.Failed {
		f.logger.Error("queue rejected message, event dropped",
			"queue_url", f.queueURL,
			"entry_id", aws.ToString(fe.Id),
			"error_code", aws.ToString(fe.Code),
			"error_message", aws.ToString(fe.Message),
		)
	}
	if n := len(out.Failed); n > 0 {
		f.metrics.FallbackMessages.WithLabelValues("failed").Add(float64(n))
		f.metrics.EventsDropped.WithLabelValues("fallback").Add(float64(n))
	}
	if n := len(out.Successful); n > 0 {
		f.logger.Debug("events spilled to queue", "queue_url", f.queueURL, "messages", n)
		f.metrics.FallbackMessages.WithLabelValues("ok").Add(float64(n))
	}
}
