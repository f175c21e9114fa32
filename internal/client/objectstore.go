package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/voxpipe/api/internal/config"
)

// ArtifactMirror pushes final artifacts to S3-compatible object storage so
// results survive the node and can be fetched without going through the API.
type ArtifactMirror interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	GetPublicURL(key string) string
}

// S3Mirror implements ArtifactMirror against any S3-compatible endpoint
// (MinIO, R2, plain S3).
type S3Mirror struct {
	s3Client   *s3.Client
	presigner  *s3.PresignClient
	endpoint   string
	bucketName string
	publicURL  string
}

// NewS3Mirror builds a mirror client from config.
func NewS3Mirror(cfg *config.MirrorConfig) (*S3Mirror, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("mirror configuration incomplete")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: cfg.Endpoint}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Mirror{
		s3Client:   s3Client,
		presigner:  s3.NewPresignClient(s3Client),
		endpoint:   cfg.Endpoint,
		bucketName: cfg.Bucket,
		publicURL:  cfg.PublicURL,
	}, nil
}

// Upload stores an artifact and returns its public URL.
func (c *S3Mirror) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	return c.GetPublicURL(key), nil
}

// Delete removes a mirrored artifact.
func (c *S3Mirror) Delete(ctx context.Context, key string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}

	if _, err := c.s3Client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}

	return nil
}

// GetSignedURL generates a presigned URL for temporary access.
func (c *S3Mirror) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}

	presignedReq, err := c.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignedReq.URL, nil
}

// GetPublicURL returns the public URL for a key.
func (c *S3Mirror) GetPublicURL(key string) string {
	if c.publicURL != "" {
		return fmt.Sprintf("%s/%s", c.publicURL, key)
	}
	return fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucketName, key)
}

// IsConfigured returns true if the client has valid configuration.
func (c *S3Mirror) IsConfigured() bool {
	return c.s3Client != nil && c.bucketName != ""
}
