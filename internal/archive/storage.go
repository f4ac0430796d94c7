// Package archive copies uploaded X-rays and generated reports into an
// S3-compatible object store.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/healthscan/healthscan/internal/config"
)

// Storage wraps MinIO/S3 interactions for the X-ray and report buckets.
type Storage struct {
	client       *minio.Client
	xrayBucket   string
	reportBucket string
	region       string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:       client,
		xrayBucket:   cfg.XrayBucket,
		reportBucket: cfg.ReportBucket,
		region:       cfg.S3Region,
	}, nil
}

// EnsureBuckets creates any missing bucket.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.xrayBucket, s.reportBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// UploadXray stores an X-ray image under key.
func (s *Storage) UploadXray(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.xrayBucket, key, r, size, opts); err != nil {
		return fmt.Errorf("upload xray object: %w", err)
	}
	return nil
}

// UploadReport stores a report body under key.
func (s *Storage) UploadReport(ctx context.Context, key string, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"}
	if _, err := s.client.PutObject(ctx, s.reportBucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("upload report object: %w", err)
	}
	return nil
}
