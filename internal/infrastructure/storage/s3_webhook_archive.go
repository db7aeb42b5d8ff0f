// Package storage keeps verified gateway webhook payloads in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stallmarket/backend/internal/domain/billing"
	infraconfig "github.com/stallmarket/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ billing.PayloadArchive = (*S3WebhookArchive)(nil)

// S3WebhookArchive stores each verified webhook body as one object.
// Works with AWS S3 and compatible stores (MinIO, RustFS).
type S3WebhookArchive struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// S3WebhookArchiveOption is a functional option for configuring S3WebhookArchive
type S3WebhookArchiveOption func(*S3WebhookArchive)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3WebhookArchiveOption {
	return func(a *S3WebhookArchive) {
		a.logger = logger
	}
}

// WithClock overrides the time source used to partition keys by day
func WithClock(now func() time.Time) S3WebhookArchiveOption {
	return func(a *S3WebhookArchive) {
		a.now = now
	}
}

// NewS3WebhookArchive creates an archive from configuration
func NewS3WebhookArchive(ctx context.Context, cfg *infraconfig.StorageConfig, opts ...S3WebhookArchiveOption) (*S3WebhookArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, errors.New("storage access key and secret key must be set together")
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid storage endpoint: %w", err)
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	archive := &S3WebhookArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(archive)
	}
	return archive, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
// Call during startup.
func (a *S3WebhookArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating webhook archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Archive implements billing.PayloadArchive. A redelivered event overwrites
// its earlier copy for the same day.
func (a *S3WebhookArchive) Archive(ctx context.Context, eventID string, body []byte) error {
	if eventID == "" {
		return errors.New("event id is required")
	}

	key := a.Key(eventID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive webhook %s: %w", eventID, err)
	}

	a.logger.Debug("Archived webhook payload", zap.String("key", key), zap.Int("bytes", len(body)))
	return nil
}

// Key returns the object key for an event received today
func (a *S3WebhookArchive) Key(eventID string) string {
	day := a.now().UTC().Format("2006/01/02")
	name := strings.ReplaceAll(eventID, "/", "_") + ".json"
	if a.prefix == "" {
		return path.Join(day, name)
	}
	return path.Join(a.prefix, day, name)
}

// Bucket returns the bucket name
func (a *S3WebhookArchive) Bucket() string {
	return a.bucket
}
