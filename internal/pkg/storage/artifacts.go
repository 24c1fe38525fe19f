package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"
)

// ArtifactStore wraps the S3 client with product-artifact functionality:
// builds are uploaded by operators and handed to buyers as short-lived
// presigned links.
type ArtifactStore struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	config        *Config
}

// NewArtifactStore creates the S3-backed artifact store.
func NewArtifactStore(cfg *Config) (*ArtifactStore, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("artifact store is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible services (Backblaze B2, MinIO) need path-style URLs
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	store := &ArtifactStore{
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		config:        cfg,
	}

	if err := store.testConnection(); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Artifacts] Successfully initialized S3 client for bucket: %s", cfg.GetBucketName())
	return store, nil
}

// testConnection tests the S3 connection by checking if the bucket exists
func (a *ArtifactStore) testConnection() error {
	ctx := context.Background()
	bucketName := a.config.GetBucketName()

	_, err := a.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucketName),
	})

	if err != nil {
		// If bucket doesn't exist, try to create it (for development)
		if GetAppEnv() != "prod" {
			log.Warnf("[Artifacts] Bucket %s not found, attempting to create it", bucketName)
			return a.createBucket(bucketName)
		}
		return fmt.Errorf("bucket %s not accessible: %w", bucketName, err)
	}

	return nil
}

// createBucket creates a new S3 bucket (dev/staging only)
func (a *ArtifactStore) createBucket(bucketName string) error {
	ctx := context.Background()

	input := &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	}

	// For AWS regions other than us-east-1, we need to specify the location
	// constraint; S3-compatible endpoints must not set it.
	if a.config.EndpointURL == "" && a.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(a.config.Region),
		}
	}

	_, err := a.s3Client.CreateBucket(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
	}

	log.Infof("[Artifacts] Successfully created bucket: %s", bucketName)
	return nil
}

// UploadArtifact stores a product build under the given object key.
func (a *ArtifactStore) UploadArtifact(ctx context.Context, objectKey string, body io.Reader, size int64) error {
	bucketName := a.config.GetBucketName()

	log.Infof("[Artifacts] Starting upload: s3://%s/%s (Size: %d bytes)", bucketName, objectKey, size)

	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucketName),
		Key:           aws.String(objectKey),
		Body:          body,
		ContentType:   aws.String("application/octet-stream"),
		ContentLength: aws.Int64(size),
		Metadata: map[string]string{
			"upload-source": "vendico-artifacts",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Infof("[Artifacts] Successfully uploaded: s3://%s/%s", bucketName, objectKey)
	return nil
}

// PresignDownload issues a time-limited GET URL for an artifact. The URL is
// only handed out after the access gateway has granted the access, so the
// TTL can stay short.
func (a *ArtifactStore) PresignDownload(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	request, err := a.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.config.GetBucketName()),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign download for %s: %w", objectKey, err)
	}
	return request.URL, nil
}

// DeleteArtifact deletes a build from the store.
func (a *ArtifactStore) DeleteArtifact(ctx context.Context, objectKey string) error {
	bucketName := a.config.GetBucketName()

	_, err := a.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}

	log.Infof("[Artifacts] Successfully deleted: s3://%s/%s", bucketName, objectKey)
	return nil
}

// ArtifactExists checks if an object exists in the store
func (a *ArtifactStore) ArtifactExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := a.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.config.GetBucketName()),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}
