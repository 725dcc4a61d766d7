package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/config"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/metrics"
)

// SourceScheme prefixes job sources that live in the bucket rather than on disk
const SourceScheme = "s3://"

// Storage uploads finished exports and fetches bucket-hosted sources
type Storage struct {
	client     *minio.Client
	bucketName string
	logger     *logging.Logger
}

// New creates a new storage client and makes sure the bucket exists
func New(ctx context.Context, cfg config.StorageConfig, logger *logging.Logger) (*Storage, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
		logger:     logger.WithComponent("storage"),
	}, nil
}

// ObjectKey returns where a job's output file is stored
func ObjectKey(jobID, filename string) string {
	return path.Join("exports", jobID, filepath.Base(filename))
}

// UploadFile uploads a local file and returns its object key
func (s *Storage) UploadFile(ctx context.Context, objectName, filePath string) (string, error) {
	start := time.Now()
	info, err := s.client.FPutObject(ctx, s.bucketName, objectName, filePath, minio.PutObjectOptions{
		ContentType: getContentType(filePath),
	})
	s.record("upload", objectName, info.Size, start, err)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	return objectName, nil
}

// DownloadFile downloads an object to the local filesystem
func (s *Storage) DownloadFile(ctx context.Context, objectName, filePath string) error {
	start := time.Now()
	err := s.client.FGetObject(ctx, s.bucketName, objectName, filePath, minio.GetObjectOptions{})
	var size int64
	if err == nil {
		if fi, statErr := os.Stat(filePath); statErr == nil {
			size = fi.Size()
		}
	}
	s.record("download", objectName, size, start, err)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	return nil
}

// Fetch resolves a job source. Bucket sources (s3://key) are downloaded into
// dir; anything else is returned unchanged.
func (s *Storage) Fetch(ctx context.Context, source, dir string) (string, error) {
	key, ok := strings.CutPrefix(source, SourceScheme)
	if !ok {
		return source, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	local := filepath.Join(dir, "source"+filepath.Ext(key))
	if err := s.DownloadFile(ctx, key, local); err != nil {
		return "", err
	}
	return local, nil
}

// Delete deletes an object from storage
func (s *Storage) Delete(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetURL returns a presigned download URL valid for an hour
func (s *Storage) GetURL(ctx context.Context, objectName string) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}
	return url.String(), nil
}

func (s *Storage) record(op, key string, size int64, start time.Time, err error) {
	elapsed := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordStorageOperation(op, status, elapsed.Seconds(), size)
	s.logger.LogStorageOperation(op, s.bucketName, key, size, elapsed, err)
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	case ".ass":
		return "text/x-ssa"
	default:
		return "application/octet-stream"
	}
}
