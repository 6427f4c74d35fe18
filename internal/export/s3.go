package export

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by S3Sink.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads the export artifacts to s3://bucket/prefix/[area/]run-id/.
type S3Sink struct {
	client S3API
	bucket string
	prefix string
	logger *log.Logger
}

// NewS3Sink creates an S3Sink using the default AWS credential chain.
func NewS3Sink(ctx context.Context, bucket, prefix, region string, logger *log.Logger) (*S3Sink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return NewS3SinkWithClient(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

// NewS3SinkWithClient creates an S3Sink around an existing client.
func NewS3SinkWithClient(client S3API, bucket, prefix string, logger *log.Logger) *S3Sink {
	if logger == nil {
		logger = log.New(os.Stdout, "export ", log.LstdFlags)
	}
	return &S3Sink{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

func (s *S3Sink) Name() string { return "s3" }

// KeyPrefix returns the object key prefix used for a dataset.
func (s *S3Sink) KeyPrefix(ds Dataset) string {
	parts := make([]string, 0, 3)
	if s.prefix != "" {
		parts = append(parts, s.prefix)
	}
	if ds.Area != "" {
		parts = append(parts, ds.Area)
	}
	runID := ds.RunID
	if runID == "" {
		runID = "latest"
	}
	parts = append(parts, runID)
	return path.Join(parts...)
}

func (s *S3Sink) Export(ctx context.Context, ds Dataset) error {
	artifacts, err := Artifacts(ds)
	if err != nil {
		return err
	}

	keyPrefix := s.KeyPrefix(ds)
	for _, a := range artifacts {
		key := path.Join(keyPrefix, a.Name)
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(a.Body),
			ContentType: aws.String(a.ContentType),
		})
		if err != nil {
			return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
		}
	}

	s.logger.Printf("Uploaded %d artifacts to s3://%s/%s/", len(artifacts), s.bucket, keyPrefix)
	return nil
}
