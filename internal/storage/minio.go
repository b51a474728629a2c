package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// objectPrefix namespaces document objects inside the bucket.
const objectPrefix = "files/"

// MinioOptions holds the connection parameters of an S3-compatible object store.
type MinioOptions struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	PublicBase string // browser-accessible base URL; derived from endpoint and bucket when empty
	UseSSL     bool
	PublicRead bool // apply an anonymous GET bucket policy
}

// Validate reports missing required parameters.
func (o MinioOptions) Validate() error {
	var missing []string
	if o.Endpoint == "" {
		missing = append(missing, "STORAGE_ENDPOINT")
	}
	if o.Bucket == "" {
		missing = append(missing, "STORAGE_BUCKET")
	}
	if o.AccessKey == "" {
		missing = append(missing, "STORAGE_ACCESS_KEY")
	}
	if o.SecretKey == "" {
		missing = append(missing, "STORAGE_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

func (o MinioOptions) publicBase() string {
	if o.PublicBase != "" {
		return strings.TrimRight(o.PublicBase, "/")
	}
	scheme := "http"
	if o.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, strings.TrimRight(o.Endpoint, "/"), o.Bucket)
}

// MinioBackend implements Backend using a MinIO (or any S3-compatible) object store.
// The object key and the public URL of a file are always distinct.
type MinioBackend struct {
	client     *minio.Client
	bucket     string
	publicBase string
	log        zerolog.Logger
}

// NewMinioBackend creates a MinIO client, ensures the bucket exists and, when requested,
// applies a public-read policy.
func NewMinioBackend(ctx context.Context, opts MinioOptions, log zerolog.Logger) (*MinioBackend, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := log.With().Str("component", "minio-storage").Logger()

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
		logger.Info().Str("bucket", opts.Bucket).Msg("created bucket")
	}

	if opts.PublicRead {
		if err := client.SetBucketPolicy(ctx, opts.Bucket, publicReadPolicy(opts.Bucket)); err != nil {
			return nil, fmt.Errorf("set bucket policy: %w", err)
		}
	}

	return &MinioBackend{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: opts.publicBase(),
		log:        logger,
	}, nil
}

// Upload streams body to the bucket under files/<logicalID>. size must be the exact byte count
// (pass -1 only if the size is genuinely unknown; MinIO will buffer it).
func (s *MinioBackend) Upload(ctx context.Context, logicalID string, body io.Reader, size int64, contentType string) (StoredObject, error) {
	name, err := fileName(logicalID)
	if err != nil {
		return StoredObject{}, err
	}
	key := objectPrefix + name
	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return StoredObject{}, fmt.Errorf("put object %q: %w", key, err)
	}

	s.log.Debug().
		Str("key", key).
		Int64("bytes", info.Size).
		Msg("object written to bucket")

	return StoredObject{
		Path:     key,
		URL:      s.PublicURL(key),
		Provider: ProviderMinio,
	}, nil
}

// Delete removes the object. physicalPath may be an object key or, for records that predate
// storage metadata, the public URL.
func (s *MinioBackend) Delete(ctx context.Context, logicalID, physicalPath string) error {
	key, err := s.objectKey(logicalID, physicalPath)
	if err != nil {
		return err
	}
	err = s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove object %q: %w", key, err)
	}
	return nil
}

// PublicURL returns the browser-accessible URL for the given key.
// For local MinIO: "http://localhost:9000/documents/files/<id>.pdf"
func (s *MinioBackend) PublicURL(key string) string {
	return s.publicBase + "/" + key
}

func (s *MinioBackend) objectKey(logicalID, physicalPath string) (string, error) {
	switch {
	case physicalPath == "":
	case strings.HasPrefix(physicalPath, s.publicBase+"/"):
		return strings.TrimPrefix(physicalPath, s.publicBase+"/"), nil
	case !strings.Contains(physicalPath, "://"):
		return strings.TrimPrefix(physicalPath, "/"), nil
	}
	name, err := fileName(logicalID)
	if err != nil {
		return "", err
	}
	return objectPrefix + name, nil
}

// publicReadPolicy returns an S3 bucket policy JSON that allows anonymous GET on all objects.
func publicReadPolicy(bucket string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
