// Package gcs archives raw scraper and API payloads in Google Cloud Storage.
package gcs

import (
	"context"
	"hash/crc32"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Config names the archive bucket.
type Config struct {
	Bucket string
}

// BlobStore uploads each payload in a single request. Archive paths are
// job-scoped, so rewriting an object is safe and uploads retry on 429/5xx.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
}

// New creates a GCS-backed archive.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

// PutObject uploads data with a CRC32C checksum and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", crawler.Validationf("archive path is required")
	}
	obj := s.bucket.Object(path).Retryer(storage.WithPolicy(storage.RetryAlways))
	w := obj.NewWriter(ctx)
	w.ChunkSize = 0
	w.ContentType = contentType
	w.CRC32C = crc32.Checksum(data, castagnoli)
	w.SendCRC32C = true

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", classify(errors.Wrapf(err, "write gs://%s/%s", s.name, path))
	}
	if err := w.Close(); err != nil {
		return "", classify(errors.Wrapf(err, "upload gs://%s/%s", s.name, path))
	}
	return "gs://" + s.name + "/" + path, nil
}

// classify marks throttling and server errors transient.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return crawler.MarkTransient(err)
		}
		return crawler.MarkPermanent(err)
	}
	return err
}
