package triplestore

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

// S3ColdStore is the cold-tier commit point, one object per item keyed
// by item id (spec §4.6).
type S3ColdStore struct {
	client *s3.Client
	bucket string
}

// S3Config targets either AWS S3 or a minio-compatible endpoint.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string // non-empty to target a non-AWS S3-compatible endpoint
	ForcePathStyle bool
}

func NewS3ColdStore(ctx context.Context, cfg S3Config) (*S3ColdStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("triplestore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3ColdStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3ColdStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("triplestore: s3 put %s: %w", key, err)
	}
	return nil
}

func (s *S3ColdStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("triplestore: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("triplestore: s3 read body %s: %w", key, err)
	}
	return data, nil
}

func (s *S3ColdStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("triplestore: s3 delete %s: %w", key, err)
	}
	return nil
}

var _ ColdStore = (*S3ColdStore)(nil)
