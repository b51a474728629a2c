package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/auditdocs/docvault/internal/config"
	"github.com/auditdocs/docvault/internal/metrics"
)

// Storage is the single selection point over the configured Backend.
// The backend is chosen once at construction and never switched.
type Storage struct {
	backend  Backend
	provider Provider
	log      zerolog.Logger
}

// New builds the Backend named by cfg.StorageProvider. Missing or inconsistent
// parameters are reported as ErrInvalidConfig.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Storage, error) {
	var (
		backend Backend
		err     error
	)
	switch Provider(cfg.StorageProvider) {
	case ProviderLocal:
		backend, err = NewLocalBackend(cfg.LocalStorageRoot, cfg.LocalStorageBaseURL, log)
	case ProviderMinio:
		backend, err = NewMinioBackend(ctx, MinioOptions{
			Endpoint:   cfg.StorageEndpoint,
			AccessKey:  cfg.StorageAccessKey,
			SecretKey:  cfg.StorageSecretKey,
			Bucket:     cfg.StorageBucket,
			PublicBase: cfg.StoragePublicBase,
			UseSSL:     cfg.StorageUseSSL,
			PublicRead: cfg.StoragePublicRead,
		}, log)
	default:
		return nil, fmt.Errorf("%w: unknown STORAGE_PROVIDER %q", ErrInvalidConfig, cfg.StorageProvider)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("provider", cfg.StorageProvider).Msg("storage backend selected")
	return newStorage(Provider(cfg.StorageProvider), backend, log), nil
}

func newStorage(provider Provider, backend Backend, log zerolog.Logger) *Storage {
	return &Storage{
		backend:  backend,
		provider: provider,
		log:      log.With().Str("component", "storage").Str("provider", string(provider)).Logger(),
	}
}

// Provider reports which backend is in use.
func (s *Storage) Provider() Provider {
	return s.provider
}

// UploadFile writes content for logicalID to the selected backend.
func (s *Storage) UploadFile(ctx context.Context, logicalID string, content io.Reader, size int64, contentType string) (StoredObject, error) {
	start := time.Now()
	obj, err := s.backend.Upload(ctx, logicalID, content, size, contentType)
	metrics.RecordStorageOperation(string(s.provider), "upload", err, time.Since(start).Seconds())
	if err != nil {
		return StoredObject{}, err
	}
	return obj, nil
}

// DeleteFile removes the physical object for logicalID. A missing object is not an error.
func (s *Storage) DeleteFile(ctx context.Context, logicalID, physicalPath string) error {
	start := time.Now()
	err := s.backend.Delete(ctx, logicalID, physicalPath)
	metrics.RecordStorageOperation(string(s.provider), "delete", err, time.Since(start).Seconds())
	return err
}
