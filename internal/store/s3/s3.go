// Package s3 implements store.Client against S3 or any S3-compatible
// endpoint (MinIO and friends) using aws-sdk-go-v2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/SmitBdangar/AegisFS/internal/logging"
	"github.com/SmitBdangar/AegisFS/internal/metrics"
	"github.com/SmitBdangar/AegisFS/internal/retry"
	"github.com/SmitBdangar/AegisFS/internal/store"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string // empty for AWS; set for MinIO/custom endpoints
	Bucket    string
	AccessKey string // empty to use the default credential chain
	SecretKey string
	Region    string
}

// Client implements store.Client using S3.
type Client struct {
	client *s3.Client
	bucket string
}

var _ store.Client = (*Client)(nil)

// New creates an S3 client from Config.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{client: client, bucket: cfg.Bucket}, nil
}

// Get retrieves the full object body.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordStoreOperation("get_object", time.Since(start), false)
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, store.ErrNotFound
		}
		return nil, retry.Transient(fmt.Errorf("get object %s: %w", key, err))
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		metrics.RecordStoreOperation("get_object", time.Since(start), false)
		return nil, retry.Transient(fmt.Errorf("read object body %s: %w", key, err))
	}

	metrics.RecordStoreOperation("get_object", time.Since(start), true)
	logging.Debug("s3 get object", zap.String("key", key), zap.Int("size", len(data)))
	return data, nil
}

// Put uploads the object body.
func (c *Client) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		metrics.RecordStoreOperation("put_object", time.Since(start), false)
		return retry.Transient(fmt.Errorf("put object %s: %w", key, err))
	}

	metrics.RecordStoreOperation("put_object", time.Since(start), true)
	logging.Debug("s3 put object", zap.String("key", key), zap.Int("size", len(data)))
	return nil
}

// Delete removes the object. S3 deletes are idempotent, so an absent key
// is success.
func (c *Client) Delete(ctx context.Context, key string) error {
	start := time.Now()

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordStoreOperation("delete_object", time.Since(start), false)
		return retry.Transient(fmt.Errorf("delete object %s: %w", key, err))
	}

	metrics.RecordStoreOperation("delete_object", time.Since(start), true)
	logging.Debug("s3 delete object", zap.String("key", key))
	return nil
}

// List returns all objects under prefix, following continuation tokens.
func (c *Client) List(ctx context.Context, prefix string) ([]store.ObjectInfo, error) {
	start := time.Now()

	var infos []store.ObjectInfo
	var continuation *string

	for {
		output, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			metrics.RecordStoreOperation("list_objects", time.Since(start), false)
			return nil, retry.Transient(fmt.Errorf("list objects %s: %w", prefix, err))
		}

		for _, obj := range output.Contents {
			if obj.Key == nil {
				continue
			}
			info := store.ObjectInfo{Key: *obj.Key}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			infos = append(infos, info)
		}

		if output.NextContinuationToken == nil {
			break
		}
		continuation = output.NextContinuationToken
	}

	metrics.RecordStoreOperation("list_objects", time.Since(start), true)
	logging.Debug("s3 list objects", zap.String("prefix", prefix), zap.Int("count", len(infos)))
	return infos, nil
}
