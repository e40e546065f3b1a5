package kinesis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awskinesis "github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lsm/inlet/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mockStream implements streamAPI and streamCheckAPI.
type mockStream struct {
	mu       sync.Mutex
	puts     []*awskinesis.PutRecordsInput
	putTimes []time.Time

	// putFn scripts the response for the nth call (0-based). Nil means
	// full success.
	putFn      func(call int, in *awskinesis.PutRecordsInput) (*awskinesis.PutRecordsOutput, error)
	describeFn func(in *awskinesis.DescribeStreamInput) (*awskinesis.DescribeStreamOutput, error)

	// putDone receives one value after each PutRecords call completes.
	putDone chan struct{}
}

func (m *mockStream) PutRecords(_ context.Context, in *awskinesis.PutRecordsInput, _ ...func(*awskinesis.Options)) (*awskinesis.PutRecordsOutput, error) {
	m.mu.Lock()
	call := len(m.puts)
	m.puts = append(m.puts, in)
	m.putTimes = append(m.putTimes, time.Now())
	fn := m.putFn
	m.mu.Unlock()

	var out *awskinesis.PutRecordsOutput
	var err error
	if fn != nil {
		out, err = fn(call, in)
	} else {
		out = putSuccess(len(in.Records))
	}
	if m.putDone != nil {
		m.putDone <- struct{}{}
	}
	return out, err
}

func (m *mockStream) DescribeStream(_ context.Context, in *awskinesis.DescribeStreamInput, _ ...func(*awskinesis.Options)) (*awskinesis.DescribeStreamOutput, error) {
	if m.describeFn != nil {
		return m.describeFn(in)
	}
	return describeStatus(types.StreamStatusActive), nil
}

func (m *mockStream) calls() []*awskinesis.PutRecordsInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*awskinesis.PutRecordsInput, len(m.puts))
	copy(out, m.puts)
	return out
}

func (m *mockStream) callTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Time, len(m.putTimes))
	copy(out, m.putTimes)
	return out
}

func putSuccess(n int) *awskinesis.PutRecordsOutput {
	return &awskinesis.PutRecordsOutput{
		FailedRecordCount: aws.Int32(0),
		Records:           make([]types.PutRecordsResultEntry, n),
	}
}

// putPartial marks the records at failed indexes as rejected.
func putPartial(n int, failed ...int) *awskinesis.PutRecordsOutput {
	recs := make([]types.PutRecordsResultEntry, n)
	for _, i := range failed {
		recs[i] = types.PutRecordsResultEntry{
			ErrorCode:    aws.String("ProvisionedThroughputExceededException"),
			ErrorMessage: aws.String("Rate exceeded for shard"),
		}
	}
	return &awskinesis.PutRecordsOutput{
		FailedRecordCount: aws.Int32(int32(len(failed))),
		Records:           recs,
	}
}

func describeStatus(status types.StreamStatus) *awskinesis.DescribeStreamOutput {
	return &awskinesis.DescribeStreamOutput{
		StreamDescription: &types.StreamDescription{
			StreamName:   aws.String("test-stream"),
			StreamStatus: status,
		},
	}
}

// mockQueue implements queueAPI and queueLookupAPI.
type mockQueue struct {
	mu      sync.Mutex
	batches []*awssqs.SendMessageBatchInput

	// sendFn scripts the response for the nth call. Nil means full
	// success.
	sendFn func(call int, in *awssqs.SendMessageBatchInput) (*awssqs.SendMessageBatchOutput, error)
	getFn  func(in *awssqs.GetQueueUrlInput) (*awssqs.GetQueueUrlOutput, error)

	// sendDone receives one value after each SendMessageBatch call.
	sendDone chan struct{}
}

func (m *mockQueue) SendMessageBatch(_ context.Context, in *awssqs.SendMessageBatchInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageBatchOutput, error) {
	m.mu.Lock()
	call := len(m.batches)
	m.batches = append(m.batches, in)
	fn := m.sendFn
	m.mu.Unlock()

	var out *awssqs.SendMessageBatchOutput
	var err error
	if fn != nil {
		out, err = fn(call, in)
	} else {
		out = sendSuccess(in)
	}
	if m.sendDone != nil {
		m.sendDone <- struct{}{}
	}
	return out, err
}

func (m *mockQueue) GetQueueUrl(_ context.Context, in *awssqs.GetQueueUrlInput, _ ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error) {
	if m.getFn != nil {
		return m.getFn(in)
	}
	return &awssqs.GetQueueUrlOutput{
		QueueUrl: aws.String("https://sqs.test.local/123/" + aws.ToString(in.QueueName)),
	}, nil
}

func (m *mockQueue) calls() []*awssqs.SendMessageBatchInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*awssqs.SendMessageBatchInput, len(m.batches))
	copy(out, m.batches)
	return out
}

func sendSuccess(in *awssqs.SendMessageBatchInput) *awssqs.SendMessageBatchOutput {
	ok := make([]sqstypes.SendMessageBatchResultEntry, len(in.Entries))
	for i, e := range in.Entries {
		ok[i] = sqstypes.SendMessageBatchResultEntry{Id: e.Id}
	}
	return &awssqs.SendMessageBatchOutput{Successful: ok}
}
