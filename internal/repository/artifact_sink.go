package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"PortfolioAgents/internal/domain/models"
	domrepo "PortfolioAgents/internal/domain/repository"
)

// ErrArtifactExists is returned when a run artifact was already written.
var ErrArtifactExists = errors.New("artifact already exists")

// ArtifactName is the object name of a run artifact.
func ArtifactName(runID string) string {
	return "run_" + runID + ".json"
}

func encodeArtifact(a models.RunArtifact) ([]byte, error) {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return b, nil
}

// objectStore is the subset of *minio.Client used by MinIOSink.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOConfig locates the artifact bucket.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// MinIOSink stores one JSON object per run in an S3-compatible bucket.
type MinIOSink struct {
	store  objectStore
	bucket string
}

var _ domrepo.ArtifactSink = (*MinIOSink)(nil)

func NewMinIOSink(cfg MinIOConfig) (*MinIOSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinIOSink{store: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinIOSink) EnsureBucket(ctx context.Context) error {
	ok, err := s.store.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.store.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinIOSink) WriteArtifact(ctx context.Context, a models.RunArtifact) (string, error) {
	name := ArtifactName(a.RunID)
	if _, err := s.store.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err == nil {
		return "", fmt.Errorf("%w: %s", ErrArtifactExists, name)
	} else if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return "", fmt.Errorf("stat artifact %s: %w", name, err)
	}

	b, err := encodeArtifact(a)
	if err != nil {
		return "", err
	}
	_, err = s.store.PutObject(ctx, s.bucket, name, bytes.NewReader(b), int64(len(b)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("put artifact %s: %w", name, err)
	}
	return "s3://" + s.bucket + "/" + name, nil
}

// FileSink writes artifacts into a local directory.
type FileSink struct {
	dir string
}

var _ domrepo.ArtifactSink = (*FileSink)(nil)

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) WriteArtifact(_ context.Context, a models.RunArtifact) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	b, err := encodeArtifact(a)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, ArtifactName(a.RunID))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrArtifactExists, path)
		}
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return path, nil
}
