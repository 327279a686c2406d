package stats

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// objectUploader is the part of the minio client the archiver uses.
type objectUploader interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type ArchiverConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// Archiver copies run artifact directories into an S3-compatible bucket so
// runs survive the local filesystem.
type Archiver struct {
	client objectUploader
	bucket string
	region string
	logger *zap.Logger
}

func NewArchiver(cfg ArchiverConfig, logger *zap.Logger) (*Archiver, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("archiver endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archiver bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	return &Archiver{client: client, bucket: cfg.Bucket, region: cfg.Region, logger: logger}, nil
}

// EnsureBucket creates the target bucket when it does not exist yet.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
}

// ArchiveRunDir uploads every regular file in runDir under runs/<run id>/
// and returns the number of objects written.
func (a *Archiver) ArchiveRunDir(ctx context.Context, runDir string) (int, error) {
	runID := filepath.Base(filepath.Clean(runDir))
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return 0, err
	}

	uploaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		object := fmt.Sprintf("runs/%s/%s", runID, entry.Name())
		_, err := a.client.FPutObject(ctx, a.bucket, object, filepath.Join(runDir, entry.Name()), minio.PutObjectOptions{
			ContentType: contentTypeFor(entry.Name()),
		})
		if err != nil {
			return uploaded, fmt.Errorf("upload %s: %w", object, err)
		}
		uploaded++
	}

	a.logger.Info("run artifacts archived",
		zap.String("run", runID),
		zap.String("bucket", a.bucket),
		zap.Int("objects", uploaded),
	)
	return uploaded, nil
}

// ArchiveFile uploads a single local file under the given object key.
func (a *Archiver) ArchiveFile(ctx context.Context, localPath, object string) error {
	_, err := a.client.FPutObject(ctx, a.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(localPath),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", object, err)
	}
	return nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
