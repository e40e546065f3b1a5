package kinesis

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/ec2rolecreds"
)

// Credential sentinels recognized in the accessKey/secretKey fields.
// Any other pair is used as literal static credentials.
const (
	credDefault = "default"
	credIAM     = "iam"
	credEnv     = "env"
)

func isCredSentinel(v string) bool {
	return v == credDefault || v == credIAM || v == credEnv
}

// resolveAWSConfig maps the (accessKey, secretKey) pair to an AWS
// configuration. Both fields must name the same mode; pairing a
// sentinel with anything else is a configuration error.
func resolveAWSConfig(ctx context.Context, region, accessKey, secretKey string) (aws.Config, error) {
	if (isCredSentinel(accessKey) || isCredSentinel(secretKey)) && accessKey != secretKey {
		return aws.Config{}, fmt.Errorf(
			"accessKey and secretKey must both be %q, %q, or %q, or both be literal keys",
			credDefault, credIAM, credEnv,
		)
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	switch accessKey {
	case credDefault:
		// Platform default chain.
	case credIAM:
		opts = append(opts, awsconfig.WithCredentialsProvider(ec2rolecreds.New()))
	case credEnv:
		envCfg, err := awsconfig.NewEnvConfig()
		if err != nil {
			return aws.Config{}, fmt.Errorf("read environment credentials: %w", err)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.StaticCredentialsProvider{Value: envCfg.Credentials},
		))
	default:
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}
