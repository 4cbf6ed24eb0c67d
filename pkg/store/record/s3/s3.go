// Package s3 provides a record store on Amazon S3 or S3-compatible storage.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittoshard/pkg/store/record"
)

// Client is the subset of the S3 API used by the store.
// *s3.Client satisfies it.
type Client interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config contains configuration for the S3 record store.
type Config struct {
	// Client is the configured S3 client
	Client Client

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key.
	// Example: "shard-0/" results in keys like "shard-0/42"
	KeyPrefix string
}

// Store implements record.Store with one object per record.
//
// Object keys are KeyPrefix followed by the decimal shard key, which keeps
// the bucket human-readable. Objects under the prefix whose name is not a
// decimal number are ignored by Keys.
type Store struct {
	client    Client
	bucket    string
	keyPrefix string
}

// New creates the store and verifies bucket access.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *Store) objectKey(key uint64) string {
	return s.keyPrefix + strconv.FormatUint(key, 10)
}

func (s *Store) Get(ctx context.Context, key uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, record.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", s.objectKey(key), err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", s.objectKey(key), err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key uint64, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", s.objectKey(key), err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", s.objectKey(key), err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []uint64
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, s.keyPrefix)
			k, err := strconv.ParseUint(name, 10, 64)
			if err != nil {
				continue
			}
			keys = append(keys, k)
		}
	}

	// S3 lists lexicographically ("10" < "9").
	slices.Sort(keys)
	return keys, nil
}

// Healthcheck issues a HeadBucket request.
func (s *Store) Healthcheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %q unreachable: %w", s.bucket, err)
	}
	return nil
}

// Close is a no-op; the S3 client holds no per-store resources.
func (s *Store) Close() error {
	return nil
}
