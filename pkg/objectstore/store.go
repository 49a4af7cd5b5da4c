// Package objectstore wraps the S3-compatible bucket that holds fetched
// media and uploaded documents. Objects are served to browsers through the
// media proxy endpoint; LINE never sees store URLs.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chatbridge/linecore/pkg/config"
)

// Store is a thin client over one bucket.
type Store struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// New connects to the configured endpoint. The endpoint is host:port without
// a scheme; UseSSL selects https.
func New(cfg *config.ObjectStoreConfig, publicBaseURL string) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey(), cfg.SecretKey(), ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &Store{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Put stores one object. Size may be -1 when unknown; the client then
// streams with multipart upload.
func (s *Store) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	if path == "" {
		return fmt.Errorf("object path is required")
	}
	_, err := s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to store object %q: %w", path, err)
	}
	return nil
}

// Get opens one object for reading and returns its content type. The caller
// must close the reader.
func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open object %q: %w", path, err)
	}

	// GetObject is lazy; Stat performs the request and surfaces not-found.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to stat object %q: %w", path, err)
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return obj, contentType, nil
}

// ProxyURL returns the public URL under which the media proxy endpoint
// serves the object.
func (s *Store) ProxyURL(path string) string {
	return s.publicBaseURL + "/api/v1/media/" + strings.TrimLeft(path, "/")
}
