package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/FyraLabs/subatomic-ng/pkg/observability"
)

// S3Backend is the Storage Backend variant that persists objects in an
// S3-compatible bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
	logger *observability.Logger
}

// S3Config configures the S3 backend.
type S3Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

var _ Backend = (*S3Backend)(nil)

// NewS3Backend constructs an S3-backed Backend, following the credential
// resolution the teacher's S3Client uses: static keys when both are set,
// otherwise the default AWS credential chain (IAM role, env vars, etc).
func NewS3Backend(ctx context.Context, cfg S3Config, logger *observability.Logger) (*S3Backend, error) {
	var awsConfig aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey, cfg.SecretKey, "",
			)),
		)
	} else {
		awsConfig, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("objstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Backend{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("objstore: open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("objstore: s3 put %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) PutBytes(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("objstore: s3 put %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objstore: s3 get %s: %w", key, err)
	}
	return out.Body, nil
}

func (b *S3Backend) DeleteObject(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objstore: s3 delete %s: %w", key, err)
	}
	return nil
}

func (b *S3Backend) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return fmt.Errorf("objstore: s3 health check: %w", err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "NoSuchKey")
}
