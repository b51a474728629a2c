package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(filepath.Join(t.TempDir(), "uploads"), "/uploads/", zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestLocalBackend_CreatesRootOnFirstUpload(t *testing.T) {
	b := newTestLocal(t)
	_, err := os.Stat(b.Root())
	require.True(t, os.IsNotExist(err))

	_, err = b.Upload(context.Background(), "a.txt", strings.NewReader("x"), 1, "text/plain")
	require.NoError(t, err)

	info, err := os.Stat(b.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalBackend_RoundTrip(t *testing.T) {
	b := newTestLocal(t)
	content := []byte("%PDF-1.4 audit working papers")

	obj, err := b.Upload(context.Background(), "3f2a.pdf", bytes.NewReader(content), int64(len(content)), "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, ProviderLocal, obj.Provider)
	assert.Equal(t, filepath.Join(b.Root(), "3f2a.pdf"), obj.Path)
	assert.Equal(t, "/uploads/3f2a.pdf", obj.URL)

	got, err := os.ReadFile(obj.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLocalBackend_NeverOverwrites(t *testing.T) {
	b := newTestLocal(t)
	ctx := context.Background()

	_, err := b.Upload(ctx, "dup", strings.NewReader("first"), 5, "")
	require.NoError(t, err)
	_, err = b.Upload(ctx, "dup", strings.NewReader("second"), 6, "")
	require.Error(t, err)

	got, err := os.ReadFile(filepath.Join(b.Root(), "dup"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}

func TestLocalBackend_RejectsEscapingIDs(t *testing.T) {
	b := newTestLocal(t)
	for _, id := range []string{"", "..", "../etc/passwd", `a\b`} {
		_, err := b.Upload(context.Background(), id, strings.NewReader("x"), 1, "")
		assert.Error(t, err, id)
	}
}

func TestLocalBackend_CancelledUploadLeavesNoFile(t *testing.T) {
	b := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Upload(ctx, "gone", strings.NewReader("data"), 4, "")
	require.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(filepath.Join(b.Root(), "gone"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocalBackend_Delete(t *testing.T) {
	b := newTestLocal(t)
	ctx := context.Background()

	obj, err := b.Upload(ctx, "del.txt", strings.NewReader("bye"), 3, "")
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, "del.txt", obj.Path))
	_, err = os.Stat(obj.Path)
	assert.True(t, os.IsNotExist(err))

	// Missing target is not an error.
	assert.NoError(t, b.Delete(ctx, "del.txt", obj.Path))
}

func TestLocalBackend_DeleteFallsBackToLogicalID(t *testing.T) {
	b := newTestLocal(t)
	ctx := context.Background()

	obj, err := b.Upload(ctx, "legacy.txt", strings.NewReader("old"), 3, "")
	require.NoError(t, err)

	// Records without storage metadata only carry the access URL.
	require.NoError(t, b.Delete(ctx, "legacy.txt", obj.URL))
	_, err = os.Stat(obj.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalBackend_DeleteIgnoresPathsOutsideRoot(t *testing.T) {
	b := newTestLocal(t)
	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	require.NoError(t, b.Delete(context.Background(), "other", outside))
	_, err := os.Stat(outside)
	assert.NoError(t, err)
}

func TestNewLocalBackend_EmptyRoot(t *testing.T) {
	_, err := NewLocalBackend("  ", "/uploads", zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
