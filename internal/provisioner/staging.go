package provisioner

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MaxTemplateBodySize is the largest template CloudFormation accepts inline.
const MaxTemplateBodySize = 51200

// ObjectPutter is the subset of the S3 client used for template staging.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// templateSource is either an inline body or an S3 URL.
type templateSource struct {
	body string
	url  string
}

// TemplateStager decides how a template reaches CloudFormation.
type TemplateStager struct {
	s3     ObjectPutter
	bucket string
	region string
}

func NewTemplateStager(client ObjectPutter, bucket, region string) *TemplateStager {
	return &TemplateStager{s3: client, bucket: bucket, region: region}
}

// Stage uploads the template to templates/<digest>.json when a bucket is
// configured or the body is too large to send inline.
func (s *TemplateStager) Stage(ctx context.Context, body []byte, digest string) (templateSource, error) {
	if s.bucket == "" {
		if len(body) > MaxTemplateBodySize {
			return templateSource{}, fmt.Errorf("template is %d bytes, above the %d byte inline limit, and no assets bucket is configured: %w",
				len(body), MaxTemplateBodySize, ErrInvalidInput)
		}
		return templateSource{body: string(body)}, nil
	}
	if s.s3 == nil {
		return templateSource{}, fmt.Errorf("assets bucket %s configured without an S3 client: %w", s.bucket, ErrInvalidInput)
	}

	key := "templates/" + digest + ".json"
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return templateSource{}, fmt.Errorf("failed to upload template to s3://%s/%s: %w", s.bucket, key, err)
	}
	return templateSource{url: fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)}, nil
}
