package vault

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// StagedBlob is content that has been durably written but is not yet visible
// under any content key. Exactly one of Publish or Discard must be called.
type StagedBlob interface {
	// Publish atomically makes the staged content visible under digest. If a
	// blob already exists under that digest the staged copy is discarded and
	// the existing blob is reused; this is not an error.
	Publish(ctx context.Context, digest string) error

	// Discard removes the staged content without publishing it.
	Discard() error
}

// ContentStore is durable, content-keyed blob storage. Callers address blobs
// only by their hex-encoded SHA-256 digest; layout below that is an
// implementation concern.
type ContentStore interface {
	// WriteStaging persists r to a location not yet visible under any content
	// key, without holding the payload in memory.
	WriteStaging(ctx context.Context, r io.Reader) (StagedBlob, error)

	// Open returns the blob stored under digest, or ErrNotFound.
	Open(ctx context.Context, digest string) (io.ReadCloser, error)

	// DeleteIfExists removes the blob stored under digest, reporting whether
	// a blob was actually removed.
	DeleteIfExists(ctx context.Context, digest string) (bool, error)

	// Exists reports whether a blob is stored under digest.
	Exists(ctx context.Context, digest string) (bool, error)
}

const digestHexLen = 64

// validateDigest rejects anything that is not a full lowercase SHA-256 hex
// string, so digests are always safe to use as path or object-key components.
func validateDigest(digest string) error {
	if len(digest) != digestHexLen {
		return fmt.Errorf("invalid content digest length %d", len(digest))
	}
	for i := 0; i < len(digest); i++ {
		c := digest[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid content digest character %q", c)
		}
	}
	return nil
}

// FileSystemStore is a ContentStore backed by the local filesystem. Staged
// payloads live under <root>/tmp; published blobs live under
// <root>/cas/sha256/<d[0:2]>/<d[2:4]>/<digest>, sharded two levels deep to
// bound directory fan-out.
type FileSystemStore struct {
	tmpDir string
	casDir string
}

// NewFileSystemStore creates the staging and blob directories under root.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	s := &FileSystemStore{
		tmpDir: filepath.Join(absRoot, "tmp"),
		casDir: filepath.Join(absRoot, "cas", "sha256"),
	}

	for _, dir := range []string{s.tmpDir, s.casDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	return s, nil
}

// blobPath computes the published location for digest.
func (s *FileSystemStore) blobPath(digest string) (string, error) {
	if err := validateDigest(digest); err != nil {
		return "", err
	}
	return filepath.Join(s.casDir, digest[:2], digest[2:4], digest), nil
}

func (s *FileSystemStore) WriteStaging(ctx context.Context, r io.Reader) (StagedBlob, error) {
	f, err := os.CreateTemp(s.tmpDir, "up-*.part")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write staging file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("close staging file: %w", err)
	}

	return &fsStagedBlob{store: s, path: f.Name()}, nil
}

func (s *FileSystemStore) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	path, err := s.blobPath(digest)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", digest, ErrNotFound)
		}
		return nil, fmt.Errorf("open blob %s: %w", digest, err)
	}
	return f, nil
}

func (s *FileSystemStore) DeleteIfExists(ctx context.Context, digest string) (bool, error) {
	path, err := s.blobPath(digest)
	if err != nil {
		return false, err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete blob %s: %w", digest, err)
	}
	return true, nil
}

func (s *FileSystemStore) Exists(ctx context.Context, digest string) (bool, error) {
	path, err := s.blobPath(digest)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", digest, err)
	}
	return true, nil
}

// fsStagedBlob is a staged payload on the local filesystem, published by an
// atomic rename into the content-addressed layout.
type fsStagedBlob struct {
	store *FileSystemStore
	path  string
}

func (b *fsStagedBlob) Publish(ctx context.Context, digest string) error {
	target, err := b.store.blobPath(digest)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	// Dedup fast path: identical content is already published, so the staged
	// copy is redundant. Concurrent publishes of the same digest race to the
	// same byte-identical content, so last-writer-wins below is also safe.
	if _, err := os.Stat(target); err == nil {
		slog.Debug("Blob already published", "digest", digest)
		return b.Discard()
	}

	if err := moveFile(b.path, target); err != nil {
		return fmt.Errorf("publish blob %s: %w", digest, err)
	}
	return nil
}

func (b *fsStagedBlob) Discard() error {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard staged blob: %w", err)
	}
	return nil
}
