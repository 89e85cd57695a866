// Package minio provides an object storage backend on the MinIO client,
// usable with MinIO itself or any S3-compatible provider.
package minio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/ClippyCDN/clippy/internal/logging"
)

// Config holds MinIO connection settings. Endpoint is host[:port] without scheme.
type Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
}

// Backend implements storage.Driver using minio-go.
type Backend struct {
	client *minio.Client
	bucket string
}

// New creates a MinIO client and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	b := &Backend{client: client, bucket: cfg.Bucket}
	if err := b.ensureBucket(ctx, cfg.Region); err != nil {
		logging.Error("bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}
	return b, nil
}

// NewFromJSON creates a Backend from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage) (*Backend, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse minio config: %w", err)
	}
	return New(ctx, cfg)
}

func (b *Backend) ensureBucket(ctx context.Context, region string) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", b.bucket, err)
	}
	logging.Info("created MinIO bucket", zap.String("bucket", b.bucket))
	return nil
}

// GetObject opens an object with optional range support. minio-go defers the
// request until first use, so the object is stat'ed here to surface a
// missing key before returning.
func (b *Backend) GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error) {
	opts, err := rangeOptions(offset, length)
	if err != nil {
		return nil, 0, fmt.Errorf("set range on %s: %w", key, err)
	}

	obj, err := b.client.GetObject(ctx, b.bucket, key, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("get object %s: %w", key, mapError(err))
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, fmt.Errorf("get object %s: %w", key, mapError(err))
	}

	size := info.Size - offset
	if length > 0 && length < size {
		size = length
	}
	if size < 0 {
		size = 0
	}
	return obj, size, nil
}

// rangeOptions requests bytes offset..offset+length-1, or everything from
// offset when length is zero.
func rangeOptions(offset, length int64) (minio.GetObjectOptions, error) {
	opts := minio.GetObjectOptions{}
	if offset == 0 && length == 0 {
		return opts, nil
	}
	end := int64(0)
	if length > 0 {
		end = offset + length - 1
	}
	if err := opts.SetRange(offset, end); err != nil {
		return opts, err
	}
	return opts, nil
}

// PutObject uploads content.
func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, body, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes an object. Removing a missing object succeeds.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, mapError(err))
	}
	return nil
}

// CopyObject copies srcKey to dstKey server side.
func (b *Backend) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: b.bucket, Object: srcKey},
	)
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", srcKey, dstKey, mapError(err))
	}
	return nil
}

// StatObject returns the object size.
func (b *Backend) StatObject(ctx context.Context, key string) (int64, error) {
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("stat object %s: %w", key, mapError(err))
	}
	return info.Size, nil
}

// Type returns "minio".
func (b *Backend) Type() string { return "minio" }

// Close is a no-op.
func (b *Backend) Close() error { return nil }

func mapError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return err
}
