package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store keeps run transcripts in a MinIO / S3 bucket.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	// PresignTTL > 0 makes Upload return a presigned GET url instead of the
	// plain object url, for private buckets.
	PresignTTL time.Duration
	Log        *slog.Logger
}

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// Upload implementasi ArtifactStore
func (s *Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}

	_, err := s.client.FPutObject(ctx, s.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	if s.PresignTTL > 0 {
		u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, s.PresignTTL, nil)
		if err != nil {
			return "", fmt.Errorf("presign %s: %w", key, err)
		}
		return u.String(), nil
	}
	ep := s.client.EndpointURL()
	return fmt.Sprintf("%s://%s/%s/%s", ep.Scheme, ep.Host, s.bucketName, key), nil
}

// UploadAndCleanup upload file ke Minio dan hapus file lokal setelahnya
func (s *Store) UploadAndCleanup(ctx context.Context, localPath, key string) (string, error) {
	url, err := s.Upload(ctx, localPath, key)
	if err != nil {
		return "", err
	}

	// upload sudah berhasil, gagal hapus cukup di-log
	if removeErr := os.Remove(localPath); removeErr != nil {
		s.logger().Warn("remove local transcript", "path", localPath, "error", removeErr)
	}
	return url, nil
}

// Ping checks that the bucket is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucketName)
	}
	return nil
}

func (s *Store) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".log", ".txt":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	case ".html":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
