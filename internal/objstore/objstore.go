// Package objstore persists attachment bytes to Google Cloud Storage.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// contentTypes maps detected attachment formats to upload content types.
var contentTypes = map[string]string{
	"pdf":  "application/pdf",
	"hwp":  "application/x-hwp",
	"hwpx": "application/x-hwpx",
}

// Store writes attachment objects to a configured GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// New creates the store and verifies the bucket is reachable, so a
// misconfigured deployment fails at startup instead of mid-crawl.
// Authentication uses Application Default Credentials.
func New(ctx context.Context, bucket string, logger *zap.Logger) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("close storage client after bucket check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("bucket %q attributes: %w", bucket, err)
	}
	return &Store{client: client, bucket: bucket, logger: logger}, nil
}

// Put uploads one attachment under attachments/<projectID>/<fileName> and
// returns its gs:// path.
func (s *Store) Put(ctx context.Context, projectID int64, fileName, fileType string, data []byte) (string, error) {
	if fileName == "" {
		return "", fmt.Errorf("file name is required")
	}
	object := fmt.Sprintf("attachments/%d/%s", projectID, fileName)
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if ct, ok := contentTypes[fileType]; ok {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		if cerr := w.Close(); cerr != nil {
			s.logger.Warn("close object writer after write failure", zap.Error(cerr))
		}
		return "", fmt.Errorf("write object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

// Close releases the storage client.
func (s *Store) Close() error {
	return s.client.Close()
}
