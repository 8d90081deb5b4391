package provisioner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// AWSOptions selects the account and endpoint the provisioner talks to.
type AWSOptions struct {
	Region  string
	Profile string
	// Endpoint overrides the service endpoints, e.g. for LocalStack.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// LoadAWSConfig resolves credentials through the default chain unless
// static keys are given.
func LoadAWSConfig(ctx context.Context, opts AWSOptions) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// NewFromAWSConfig builds a CloudFormation provisioner with real clients.
func NewFromAWSConfig(cfg aws.Config, opts AWSOptions, provOpts Options, stateStore StateStore) *CloudFormationProvisioner {
	cfn := cloudformation.NewFromConfig(cfg, func(o *cloudformation.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	stager := NewTemplateStager(s3Client, provOpts.AssetsBucket, cfg.Region)
	return NewCloudFormationProvisioner(cfn, stager, provOpts, stateStore)
}

// isStackMissing reports the ValidationError CloudFormation returns for an
// unknown stack name.
func isStackMissing(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

// isThrottled reports provider rate limiting.
func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "Throttling" || code == "ThrottlingException"
	}
	return false
}
