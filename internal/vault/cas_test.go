package vault

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestFileSystemStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err, "NewFileSystemStore error")

	payload := []byte("some file contents")
	digest := digestOf(payload)

	staged, err := store.WriteStaging(ctx, bytes.NewReader(payload))
	require.NoError(t, err, "WriteStaging error")

	exists, err := store.Exists(ctx, digest)
	require.NoError(t, err, "Exists error")
	require.False(t, exists, "blob visible before publish")

	require.NoError(t, staged.Publish(ctx, digest), "Publish error")

	exists, err = store.Exists(ctx, digest)
	require.NoError(t, err, "Exists error")
	require.True(t, exists, "blob missing after publish")

	rc, err := store.Open(ctx, digest)
	require.NoError(t, err, "Open error")
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err, "reading blob")
	require.Equal(t, payload, got, "blob content")
}

func TestFileSystemStorePublishDeduplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFileSystemStore(root)
	require.NoError(t, err, "NewFileSystemStore error")

	payload := []byte("identical content")
	digest := digestOf(payload)

	first, err := store.WriteStaging(ctx, bytes.NewReader(payload))
	require.NoError(t, err, "first WriteStaging error")
	require.NoError(t, first.Publish(ctx, digest), "first Publish error")

	second, err := store.WriteStaging(ctx, bytes.NewReader(payload))
	require.NoError(t, err, "second WriteStaging error")
	require.NoError(t, second.Publish(ctx, digest), "second Publish error")

	rc, err := store.Open(ctx, digest)
	require.NoError(t, err, "Open error")
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err, "reading blob")
	require.Equal(t, payload, got, "blob content after duplicate publish")

	// The staging directory must be empty again.
	entries, err := os.ReadDir(filepath.Join(root, "tmp"))
	require.NoError(t, err, "reading staging dir")
	require.Empty(t, entries, "staged files left behind")
}

func TestFileSystemStoreDiscard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFileSystemStore(root)
	require.NoError(t, err, "NewFileSystemStore error")

	payload := []byte("abandoned upload")
	staged, err := store.WriteStaging(ctx, bytes.NewReader(payload))
	require.NoError(t, err, "WriteStaging error")

	require.NoError(t, staged.Discard(), "Discard error")
	// Discard is idempotent.
	require.NoError(t, staged.Discard(), "second Discard error")

	exists, err := store.Exists(ctx, digestOf(payload))
	require.NoError(t, err, "Exists error")
	require.False(t, exists, "discarded blob published")

	entries, err := os.ReadDir(filepath.Join(root, "tmp"))
	require.NoError(t, err, "reading staging dir")
	require.Empty(t, entries, "staged files left behind")
}

func TestFileSystemStoreDeleteIfExists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err, "NewFileSystemStore error")

	payload := []byte("to be deleted")
	digest := digestOf(payload)

	staged, err := store.WriteStaging(ctx, bytes.NewReader(payload))
	require.NoError(t, err, "WriteStaging error")
	require.NoError(t, staged.Publish(ctx, digest), "Publish error")

	deleted, err := store.DeleteIfExists(ctx, digest)
	require.NoError(t, err, "DeleteIfExists error")
	require.True(t, deleted, "expected blob to be deleted")

	deleted, err = store.DeleteIfExists(ctx, digest)
	require.NoError(t, err, "second DeleteIfExists error")
	require.False(t, deleted, "blob deleted twice")

	_, err = store.Open(ctx, digest)
	require.ErrorIs(t, err, ErrNotFound, "Open after delete")
}

func TestFileSystemStoreRejectsBadDigests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err, "NewFileSystemStore error")

	tests := []struct {
		name   string
		digest string
	}{
		{name: "empty", digest: ""},
		{name: "too short", digest: "abc123"},
		{name: "uppercase hex", digest: strings.ToUpper(digestOf([]byte("x")))},
		{name: "path traversal", digest: "../" + digestOf([]byte("x"))[3:]},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Open(ctx, tc.digest)
			require.Error(t, err, "Open accepted invalid digest")
			require.NotErrorIs(t, err, ErrNotFound, "invalid digest reported as missing blob")
		})
	}
}
