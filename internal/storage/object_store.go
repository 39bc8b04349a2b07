// Package storage is the object-store boundary: a narrow client contract
// over S3-compatible blob storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Sentinel errors the orchestrator classifies on.
var (
	ErrNotFound     = errors.New("object not found")
	ErrAccessDenied = errors.New("object access denied")
)

// ObjectStore is the capability the pipeline is written against.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// NewS3Client builds an S3 client from ambient AWS config. A non-empty
// endpoint switches to path-style addressing for MinIO/localstack setups.
func NewS3Client(ctx context.Context, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: cfg.Credentials,
		HTTPClient:  cfg.HTTPClient,
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts), nil
}

// S3Store implements ObjectStore on the AWS SDK client.
type S3Store struct {
	client *s3.Client
}

func NewS3Store(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error(err, bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return mapS3Error(err, bucket, key)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapS3Error(err, bucket, prefix)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// mapS3Error converts SDK errors into the package sentinels so callers can
// classify without importing AWS types.
func mapS3Error(err error, bucket, key string) error {
	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
		return fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrAccessDenied)
		}
	}
	return fmt.Errorf("s3://%s/%s: %w", bucket, key, err)
}

// AppendLine appends one line to a JSONL object via get-modify-put. The
// object store has no native append; a concurrent appender can race, but
// records carry idempotency keys so a duplicate append is filtered
// downstream. Duplicate emission is acceptable, duplicate loss is not.
func AppendLine(ctx context.Context, store ObjectStore, bucket, key string, line []byte) error {
	existing, err := store.Get(ctx, bucket, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to read append target: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	if err := store.Put(ctx, bucket, key, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write append target: %w", err)
	}
	return nil
}
