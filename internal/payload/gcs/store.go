// Package gcs provides a payload store backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/fcdockets/imm-crawler/internal/caseid"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// Store writes case payloads to a configured GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed payload store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Persist uploads the payload as <year>/<case_id>.html and returns a gs://
// reference.
func (s *Store) Persist(ctx context.Context, id caseid.ID, payload []byte) (string, error) {
	path := fmt.Sprintf("%s/%s.html", id.Year, id.String())
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "text/html; charset=utf-8"
	if _, err := io.Copy(writer, bytes.NewReader(payload)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy payload: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
