package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3DataStore keeps record payloads in an S3 bucket under
// <prefix><tenant>/<recordId>/<dataCid>.
type S3DataStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds configuration for S3DataStore.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // MinIO, LocalStack
	Prefix   string
}

func NewS3DataStore(ctx context.Context, cfg S3Config) (*S3DataStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("store: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3DataStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3DataStore) key(tenant, recordID, dataCID string) string {
	return s.prefix + dataKey(tenant, recordID, dataCID)
}

func (s *S3DataStore) Put(ctx context.Context, tenant, recordID, dataCID string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(tenant, recordID, dataCID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("store: s3 put %s: %w", dataCID, err)
	}
	return nil
}

func (s *S3DataStore) Get(ctx context.Context, tenant, recordID, dataCID string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenant, recordID, dataCID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: s3 get %s: %w", dataCID, err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}

func (s *S3DataStore) Delete(ctx context.Context, tenant, recordID, dataCID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenant, recordID, dataCID)),
	})
	if err != nil {
		return fmt.Errorf("store: s3 delete %s: %w", dataCID, err)
	}
	return nil
}
