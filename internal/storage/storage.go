// Package storage defines the physical storage backends for uploaded files and the
// facade that selects exactly one of them at startup. The MinIO backend works with any
// S3-compatible provider (MinIO, AWS S3, ArvanCloud, Aliyun OSS in S3 mode).
package storage

import (
	"context"
	"errors"
	"io"
)

// Provider identifies the medium a StoredObject was written to.
type Provider string

const (
	// ProviderLocal stores files on the local filesystem.
	ProviderLocal Provider = "local"
	// ProviderMinio stores files in an S3-compatible object store.
	ProviderMinio Provider = "minio"
)

// ErrInvalidConfig is returned when the storage configuration cannot produce a backend.
var ErrInvalidConfig = errors.New("invalid storage configuration")

// StoredObject is the physical result of a backend write.
type StoredObject struct {
	// Path is the backend-internal location: a filesystem path or a bucket object key.
	Path string
	// URL is where the stored copy can be retrieved from.
	URL      string
	Provider Provider
}

// Backend is implemented by each physical storage medium.
type Backend interface {
	// Upload writes body under a key derived from logicalID. Keys never collide across logical ids.
	Upload(ctx context.Context, logicalID string, body io.Reader, size int64, contentType string) (StoredObject, error)
	// Delete removes the object. A missing object is not an error.
	Delete(ctx context.Context, logicalID, physicalPath string) error
}
