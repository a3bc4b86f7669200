package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client S3Storage calls.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage serves objects from an S3 bucket or an S3-compatible store.
type S3Storage struct {
	client     S3API
	bucket     string
	prefix     string
	maxRetries int
	baseDelay  time.Duration
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	Region string
	// Endpoint overrides the service endpoint (MinIO, LocalStack).
	Endpoint     string
	UsePathStyle bool
	// Prefix is prepended to every object path.
	Prefix string
	// MaxRetries bounds retries of one request (default: 3)
	MaxRetries int
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{Region: "us-east-1", MaxRetries: 3}
}

// NewS3Storage loads the default AWS credential chain and creates a client.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket, cfg), nil
}

// NewS3StorageWithClient wraps an existing client.
func NewS3StorageWithClient(client S3API, bucket string, cfg S3Config) *S3Storage {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &S3Storage{
		client:     client,
		bucket:     bucket,
		prefix:     cfg.Prefix,
		maxRetries: retries,
		baseDelay:  100 * time.Millisecond,
	}
}

func (s *S3Storage) key(objectPath string) *string {
	return aws.String(s.prefix + objectPath)
}

// Stat implements ObjectStorage.
func (s *S3Storage) Stat(ctx context.Context, objectPath string) (ObjectInfo, error) {
	var size int64
	err := s.retry(ctx, func() error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: s.key(objectPath)})
		if err != nil {
			return err
		}
		size = aws.ToInt64(out.ContentLength)
		return nil
	})
	if err != nil {
		return ObjectInfo{}, s.classify(objectPath, err, downloadFailed)
	}
	return ObjectInfo{Path: objectPath, Size: size}, nil
}

// Download implements ObjectStorage. A failed body copy is retried from
// the start.
func (s *S3Storage) Download(ctx context.Context, objectPath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return downloadFailed(objectPath, err)
	}
	err := s.retry(ctx, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: s.key(objectPath)})
		if err != nil {
			return err
		}
		defer out.Body.Close()

		f, err := os.Create(localPath)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, out.Body); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return s.classify(objectPath, err, downloadFailed)
	}
	return nil
}

// Upload implements ObjectStorage.
func (s *S3Storage) Upload(ctx context.Context, localPath, objectPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return uploadFailed(objectPath, err)
	}
	defer f.Close()

	err = s.retry(ctx, func() error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String(s.bucket), Key: s.key(objectPath), Body: f})
		return err
	})
	if err != nil {
		return s.classify(objectPath, err, uploadFailed)
	}
	return nil
}

// classify turns missing keys into OBJECT_NOT_FOUND and everything else into
// the transfer error built by fail. Context errors pass through.
func (s *S3Storage) classify(objectPath string, err error, fail func(string, error) error) error {
	switch {
	case isMissingKey(err):
		return notFound(objectPath)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fail(objectPath, err)
	}
}

func isMissingKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// retry runs op with exponential backoff. Missing keys are not retried.
func (s *S3Storage) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = op(); err == nil || isMissingKey(err) || attempt == s.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.baseDelay << attempt):
		}
	}
}
