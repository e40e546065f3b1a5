package kinesis

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awskinesis "github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/lsm/inlet/internal/observability"
)

// streamCheckAPI abstracts DescribeStream for testing.
type streamCheckAPI interface {
	DescribeStream(ctx context.Context, in *awskinesis.DescribeStreamInput, opts ...func(*awskinesis.Options)) (*awskinesis.DescribeStreamOutput, error)
}

// queueLookupAPI abstracts GetQueueUrl for testing.
type queueLookupAPI interface {
	GetQueueUrl(ctx context.Context, in *awssqs.GetQueueUrlInput, opts ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error)
}

// verifyStream checks that the stream exists and can take writes. A
// failed check only logs: the stream may become available later, and
// the sink retries its way there.
func verifyStream(ctx context.Context, client streamCheckAPI, name string, logger *slog.Logger, metrics *observability.Metrics) bool {
	out, err := client.DescribeStream(ctx, &awskinesis.DescribeStreamInput{
		StreamName: aws.String(name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			logger.Error("stream does not exist", "stream", name)
		} else {
			logger.Error("stream check failed", "stream", name, "error", err)
		}
		metrics.RemoteAvailable.WithLabelValues("stream").Set(0)
		return false
	}

	status := out.StreamDescription.StreamStatus
	if status != types.StreamStatusActive && status != types.StreamStatusUpdating {
		logger.Error("stream is not ready for writes", "stream", name, "status", status)
		metrics.RemoteAvailable.WithLabelValues("stream").Set(0)
		return false
	}

	logger.Info("stream is available", "stream", name, "status", status)
	metrics.RemoteAvailable.WithLabelValues("stream").Set(1)
	return true
}

// lookupQueue resolves the fallback queue URL. On failure it logs and
// returns ok=false; the caller decides how to degrade.
func lookupQueue(ctx context.Context, client queueLookupAPI, name string, logger *slog.Logger, metrics *observability.Metrics) (string, bool) {
	out, err := client.GetQueueUrl(ctx, &awssqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		var missing *sqstypes.QueueDoesNotExist
		var apiErr smithy.APIError
		switch {
		case errors.As(err, &missing):
			logger.Error("fallback queue does not exist", "queue", name)
		case errors.As(err, &apiErr):
			logger.Error("fallback queue check failed",
				"queue", name,
				"error_code", apiErr.ErrorCode(),
				"error_message", apiErr.ErrorMessage(),
			)
		default:
			logger.Error("fallback queue check failed", "queue", name, "error", err)
		}
		metrics.RemoteAvailable.WithLabelValues("queue").Set(0)
		return "", false
	}

	url := aws.ToString(out.QueueUrl)
	logger.Info("fallback queue is available", "queue", name, "queue_url", url)
	metrics.RemoteAvailable.WithLabelValues("queue").Set(1)
	return url, true
}
