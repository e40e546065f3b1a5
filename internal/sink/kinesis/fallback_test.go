package kinesis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/lsm/inlet/internal/clock"
)

func newTestFallback(t *testing.T, queue queueAPI) *fallbackSubmitter {
	t.Helper()
	sched := clock.NewScheduler(2)
	t.Cleanup(func() { sched.Stop(time.Second) })
	return &fallbackSubmitter{
		client:   queue,
		queueURL: "https://sqs.test.local/123/spill",
		sched:    sched,
		logger:   testLogger(),
		metrics:  testMetrics(),
	}
}

func makeEvents(n int) []Event {
	events := make([]Event, n)
	for i := range events {
		events[i] = Event{
			Payload: []byte(fmt.Sprintf("payload-%02d", i)),
			Key:     fmt.Sprintf("key-%02d", i),
		}
	}
	return events
}

func TestPut_EmptyIsNoOp(t *testing.T) {
	queue := &mockQueue{}
	f := newTestFallback(t, queue)

	f.Put(nil)
	time.Sleep(50 * time.Millisecond)

	if got := len(queue.calls()); got != 0 {
		t.Errorf("expected no queue calls, got %d", got)
	}
}

func TestPut_SplitsIntoGroupsOfTen(t *testing.T) {
	queue := &mockQueue{sendDone: make(chan struct{}, 3)}
	f := newTestFallback(t, queue)

	f.Put(makeEvents(23))
	for i := 0; i < 3; i++ {
		waitSignal(t, queue.sendDone, "SendMessageBatch")
	}

	batches := queue.calls()
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches for 23 events, got %d", len(batches))
	}
	sizes := []int{len(batches[0].Entries), len(batches[1].Entries), len(batches[2].Entries)}
	if sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 3 {
		t.Errorf("expected batch sizes 10/10/3, got %v", sizes)
	}

	// Order within and across groups follows the input.
	if got := decodeBody(t, batches[0].Entries[0]); got != "payload-00" {
		t.Errorf("first entry: got %q", got)
	}
	if got := decodeBody(t, batches[2].Entries[2]); got != "payload-22" {
		t.Errorf("last entry: got %q", got)
	}
}

func decodeBody(t *testing.T, e sqstypes.SendMessageBatchRequestEntry) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(aws.ToString(e.MessageBody))
	if err != nil {
		t.Fatalf("body is not base64: %v", err)
	}
	return string(raw)
}

func TestPut_EncodesBodyAndKeyAttribute(t *testing.T) {
	queue := &mockQueue{sendDone: make(chan struct{}, 1)}
	f := newTestFallback(t, queue)

	f.Put([]Event{{Payload: []byte{0x00, 0xFF, 0x10}, Key: "shard-key"}})
	waitSignal(t, queue.sendDone, "SendMessageBatch")

	batches := queue.calls()
	if len(batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(batches))
	}
	if aws.ToString(batches[0].QueueUrl) != "https://sqs.test.local/123/spill" {
		t.Errorf("queue url: got %q", aws.ToString(batches[0].QueueUrl))
	}
	e := batches[0].Entries[0]
	if got := decodeBody(t, e); got != string([]byte{0x00, 0xFF, 0x10}) {
		t.Errorf("body round-trip mismatch: %x", got)
	}
	attr, ok := e.MessageAttributes[partitionKeyAttribute]
	if !ok {
		t.Fatalf("missing %s attribute", partitionKeyAttribute)
	}
	if aws.ToString(attr.DataType) != "String" || aws.ToString(attr.StringValue) != "shard-key" {
		t.Errorf("attribute mismatch: %q/%q", aws.ToString(attr.DataType), aws.ToString(attr.StringValue))
	}
	if aws.ToString(e.Id) == "" {
		t.Error("entry id must be set")
	}
}

func TestPut_EntryIdsAreUnique(t *testing.T) {
	queue := &mockQueue{sendDone: make(chan struct{}, 3)}
	f := newTestFallback(t, queue)

	f.Put(makeEvents(23))
	for i := 0; i < 3; i++ {
		waitSignal(t, queue.sendDone, "SendMessageBatch")
	}

	seen := make(map[string]bool)
	for _, batch := range queue.calls() {
		for _, e := range batch.Entries {
			id := aws.ToString(e.Id)
			if seen[id] {
				t.Fatalf("duplicate entry id %q", id)
			}
			seen[id] = true
		}
	}
}

func TestPut_PartialQueueFailureDropsWithoutRetry(t *testing.T) {
	queue := &mockQueue{sendDone: make(chan struct{}, 1)}
	queue.sendFn = func(call int, in *awssqs.SendMessageBatchInput) (*awssqs.SendMessageBatchOutput, error) {
		return &awssqs.SendMessageBatchOutput{
			Successful: []sqstypes.SendMessageBatchResultEntry{{Id: in.Entries[0].Id}},
			Failed: []sqstypes.BatchResultErrorEntry{{
				Id:      in.Entries[1].Id,
				Code:    aws.String("InternalError"),
				Message: aws.String("try again"),
			}},
		}, nil
	}
	f := newTestFallback(t, queue)

	f.Put(makeEvents(2))
	waitSignal(t, queue.sendDone, "SendMessageBatch")
	time.Sleep(100 * time.Millisecond)

	// The fallback is terminal: failed entries are dropped, never
	// resent.
	if got := len(queue.calls()); got != 1 {
		t.Errorf("expected exactly one send, got %d", got)
	}
}

func TestPut_WholeCallFailureDropsWithoutRetry(t *testing.T) {
	queue := &mockQueue{sendDone: make(chan struct{}, 1)}
	queue.sendFn = func(int, *awssqs.SendMessageBatchInput) (*awssqs.SendMessageBatchOutput, error) {
		return nil, errors.New("queue unreachable")
	}
	f := newTestFallback(t, queue)

	f.Put(makeEvents(3))
	waitSignal(t, queue.sendDone, "SendMessageBatch")
	time.Sleep(100 * time.Millisecond)

	if got := len(queue.calls()); got != 1 {
		t.Errorf("expected exactly one send, got %d", got)
	}
}

func TestPut_ExactMultipleOfBatchLimit(t *testing.T) {
	queue := &mockQueue{sendDone: make(chan struct{}, 2)}
	f := newTestFallback(t, queue)

	f.Put(makeEvents(20))
	for i := 0; i < 2; i++ {
		waitSignal(t, queue.sendDone, "SendMessageBatch")
	}
	time.Sleep(50 * time.Millisecond)

	batches := queue.calls()
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches for 20 events, got %d", len(batches))
	}
	if len(batches[0].Entries) != 10 || len(batches[1].Entries) != 10 {
		t.Errorf("expected 10/10, got %d/%d", len(batches[0].Entries), len(batches[1].Entries))
	}
}
