package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
)

// S3Store is a ContentStore backed by an S3-compatible object store. Payloads
// are staged to the local filesystem and published as objects keyed
// "sha256/<digest>" in a single bucket.
//
// S3 offers no atomic rename, so publish is a stat-then-put: a reader either
// sees no object or a complete one (PutObject is all-or-nothing), but two
// concurrent publishes of the same digest may both upload. They carry
// byte-identical content, so the duplicate write is harmless. This is the
// documented replace-on-completion fallback of the content store contract.
type S3Store struct {
	client *minio.Client
	bucket string
	tmpDir string
}

// NewS3Store ensures bucket exists and stages payloads under tmpDir.
func NewS3Store(ctx context.Context, client *minio.Client, bucket string, tmpDir string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("bucket must not be empty")
	}

	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
	}

	return &S3Store{client: client, bucket: bucket, tmpDir: tmpDir}, nil
}

func objectKey(digest string) string {
	return "sha256/" + digest
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	return errors.As(err, &resp) && (resp.Code == "NoSuchKey" || resp.StatusCode == 404)
}

func (s *S3Store) WriteStaging(ctx context.Context, r io.Reader) (StagedBlob, error) {
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

	return &s3StagedBlob{store: s, path: f.Name()}, nil
}

func (s *S3Store) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	if err := validateDigest(digest); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(digest), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", digest, err)
	}

	// GetObject is lazy; stat now so a missing key surfaces here instead of
	// on the first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("blob %s: %w", digest, ErrNotFound)
		}
		return nil, fmt.Errorf("stat blob %s: %w", digest, err)
	}

	return obj, nil
}

func (s *S3Store) DeleteIfExists(ctx context.Context, digest string) (bool, error) {
	if err := validateDigest(digest); err != nil {
		return false, err
	}

	if _, err := s.client.StatObject(ctx, s.bucket, objectKey(digest), minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", digest, err)
	}

	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(digest), minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("delete blob %s: %w", digest, err)
	}
	return true, nil
}

func (s *S3Store) Exists(ctx context.Context, digest string) (bool, error) {
	if err := validateDigest(digest); err != nil {
		return false, err
	}

	if _, err := s.client.StatObject(ctx, s.bucket, objectKey(digest), minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", digest, err)
	}
	return true, nil
}

type s3StagedBlob struct {
	store *S3Store
	path  string
}

func (b *s3StagedBlob) Publish(ctx context.Context, digest string) error {
	if err := validateDigest(digest); err != nil {
		return err
	}

	key := objectKey(digest)

	// Dedup fast path, mirroring the filesystem engine.
	_, err := b.store.client.StatObject(ctx, b.store.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return b.Discard()
	}
	if !isNoSuchKey(err) {
		return fmt.Errorf("stat blob %s: %w", digest, err)
	}

	if _, err := b.store.client.FPutObject(ctx, b.store.bucket, key, b.path, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return fmt.Errorf("publish blob %s: %w", digest, err)
	}

	return b.Discard()
}

func (b *s3StagedBlob) Discard() error {
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard staged blob: %w", err)
	}
	return nil
}
