package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/reelhub/publish-queue/internal/domain"
)

// HeadObjectAPI is the part of *s3.Client the locator needs.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Locator finds artifacts as s3://<bucket>/<prefix><videoID><ext>.
type S3Locator struct {
	client HeadObjectAPI
	bucket string
	prefix string
}

func NewS3Locator(client HeadObjectAPI, bucket, prefix string) *S3Locator {
	return &S3Locator{client: client, bucket: bucket, prefix: prefix}
}

// NewS3Client builds an S3 client from the default AWS credential chain.
// A non-empty endpoint switches to path-style addressing for MinIO and the like.
func NewS3Client(ctx context.Context, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (l *S3Locator) Locate(ctx context.Context, videoID string) (string, error) {
	if err := checkVideoID(videoID); err != nil {
		return "", domain.Permanent(err)
	}
	for _, ext := range Extensions {
		key := l.prefix + videoID + ext
		_, err := l.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return "s3://" + l.bucket + "/" + key, nil
		}
		if isNotFound(err) {
			continue
		}
		return "", fmt.Errorf("head s3://%s/%s: %w", l.bucket, key, err)
	}
	return "", fmt.Errorf("%w: %s in s3://%s/%s", domain.ErrArtifactNotFound, videoID, l.bucket, l.prefix)
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

var _ Locator = (*S3Locator)(nil)
