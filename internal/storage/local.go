package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// LocalBackend stores files as <root>/<logicalID> on the local filesystem.
type LocalBackend struct {
	root    string
	baseURL string
	log     zerolog.Logger
}

// NewLocalBackend returns a backend rooted at root. The directory is created on first upload.
func NewLocalBackend(root, baseURL string, log zerolog.Logger) (*LocalBackend, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("%w: local storage root is empty", ErrInvalidConfig)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve local storage root: %v", ErrInvalidConfig, err)
	}
	return &LocalBackend{
		root:    abs,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		log:     log.With().Str("component", "local-storage").Logger(),
	}, nil
}

// Root returns the absolute directory files are written under.
func (l *LocalBackend) Root() string {
	return l.root
}

// Upload writes body to <root>/<logicalID>. An existing file with the same name is never overwritten.
func (l *LocalBackend) Upload(ctx context.Context, logicalID string, body io.Reader, _ int64, _ string) (StoredObject, error) {
	name, err := fileName(logicalID)
	if err != nil {
		return StoredObject{}, err
	}
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return StoredObject{}, fmt.Errorf("create storage root: %w", err)
	}

	fullPath := filepath.Join(l.root, name)
	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredObject{}, fmt.Errorf("create file %q: %w", name, err)
	}

	written, err := io.Copy(file, &ctxReader{ctx: ctx, r: body})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(fullPath)
		return StoredObject{}, fmt.Errorf("write file %q: %w", name, err)
	}

	l.log.Debug().
		Str("key", name).
		Int64("bytes", written).
		Msg("file written to local storage")

	return StoredObject{
		Path:     fullPath,
		URL:      l.baseURL + "/" + url.PathEscape(name),
		Provider: ProviderLocal,
	}, nil
}

// Delete removes physicalPath when it lies inside the root, otherwise <root>/<logicalID>.
func (l *LocalBackend) Delete(_ context.Context, logicalID, physicalPath string) error {
	target, err := l.resolve(logicalID, physicalPath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file %q: %w", target, err)
	}
	return nil
}

func (l *LocalBackend) resolve(logicalID, physicalPath string) (string, error) {
	if physicalPath != "" && filepath.IsAbs(physicalPath) {
		clean := filepath.Clean(physicalPath)
		if rel, err := filepath.Rel(l.root, clean); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return clean, nil
		}
	}
	name, err := fileName(logicalID)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, name), nil
}

// fileName rejects logical ids that would escape the root directory.
func fileName(logicalID string) (string, error) {
	name := strings.TrimSpace(logicalID)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid logical id %q", logicalID)
	}
	return name, nil
}

// ctxReader stops a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
