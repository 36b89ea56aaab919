package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// fallbackFileName is used when neither an override nor an original filename
// was supplied.
const fallbackFileName = "file"

// Service coordinates the content store and the metadata store. It carries no
// locks of its own: all cross-request coordination is delegated to the
// metadata store's uniqueness constraints and the content store's atomic
// publish.
type Service struct {
	meta  *MetadataStore
	store ContentStore
}

// NewService returns a Service over the given stores.
func NewService(meta *MetadataStore, store ContentStore) *Service {
	return &Service{meta: meta, store: store}
}

// Upload describes one incoming file. DeclaredType is an untrusted fallback;
// the payload size is always measured, never taken from the caller.
type Upload struct {
	OwnerID          string
	Content          io.Reader
	OriginalName     string
	DeclaredType     string
	Visibility       Visibility
	FilenameOverride string
	Tags             []string
}

// Download is an open blob plus the serving metadata for it. The caller owns
// Content and must close it.
type Download struct {
	Content     io.ReadCloser
	FileName    string
	ContentType string
	Size        int64
}

// Upload stores the payload once in content-addressed storage and persists a
// new FileRecord for it.
//
// The duplicate checks before the metadata insert are advisory fast paths:
// the insert itself, backed by the store's uniqueness constraints, decides
// the final outcome under concurrency. On any failure before the staged
// payload is published, the staged copy is removed; a blob published before a
// failed insert is intentionally left in place (another owner or a retry may
// reference it) and is reclaimed by the delete-time reference check.
func (s *Service) Upload(ctx context.Context, up Upload) (*FileRecord, error) {
	if up.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id must not be empty", ErrBadRequest)
	}
	if up.Visibility != VisibilityPrivate && up.Visibility != VisibilityPublic {
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrBadRequest, up.Visibility)
	}

	fileName := resolveFileName(up.FilenameOverride, up.OriginalName)
	tags := NormalizeTags(up.Tags)

	exists, err := s.meta.ExistsByOwnerAndName(ctx, up.OwnerID, fileName)
	if err != nil {
		return nil, storageError("check filename", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateFilename, fileName)
	}

	hashed := NewHashingReader(up.Content)
	staged, err := s.store.WriteStaging(ctx, hashed)
	if err != nil {
		return nil, storageError("stage upload", err)
	}

	digest := hashed.SumHex()
	size := hashed.BytesRead()

	dup, err := s.meta.ExistsByOwnerAndDigest(ctx, up.OwnerID, digest)
	if err != nil {
		s.discard(staged)
		return nil, storageError("check content", err)
	}
	if dup {
		s.discard(staged)
		return nil, fmt.Errorf("%w: digest %s", ErrDuplicateContent, digest)
	}

	if err := staged.Publish(ctx, digest); err != nil {
		s.discard(staged)
		return nil, storageError("publish blob", err)
	}

	now := time.Now().UTC()
	rec := &FileRecord{
		ID:            uuid.NewString(),
		OwnerID:       up.OwnerID,
		FileName:      fileName,
		ContentType:   resolveContentType(ctx, s.store, digest, fileName, up.DeclaredType),
		Visibility:    up.Visibility,
		Tags:          tags,
		ContentDigest: digest,
		Size:          size,
		CreatedAt:     now,
		ModifiedAt:    now,
	}

	if err := s.meta.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateFilename) || errors.Is(err, ErrDuplicateContent) {
			// Lost the race to a concurrent insert. The published blob stays:
			// it is content-addressed and may be referenced by the winner.
			return nil, err
		}
		return nil, storageError("persist metadata", err)
	}

	return rec, nil
}

// ListPublic returns one page of PUBLIC records.
func (s *Service) ListPublic(ctx context.Context, q ListQuery) ([]FileRecord, error) {
	return s.meta.ListPublic(ctx, q)
}

// ListOwned returns one page of the owner's records, any visibility.
func (s *Service) ListOwned(ctx context.Context, ownerID string, q ListQuery) ([]FileRecord, error) {
	return s.meta.ListByOwner(ctx, ownerID, q)
}

// Rename changes a record's filename. Renaming to the current name is a
// no-op. Content, digest, and id never change.
func (s *Service) Rename(ctx context.Context, ownerID string, id string, newName string) error {
	trimmed := strings.TrimSpace(newName)
	if trimmed == "" {
		return fmt.Errorf("%w: new filename must not be empty", ErrBadRequest)
	}

	rec, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if trimmed == rec.FileName {
		return nil
	}

	exists, err := s.meta.ExistsByOwnerAndName(ctx, ownerID, trimmed)
	if err != nil {
		return storageError("check filename", err)
	}
	if exists {
		return fmt.Errorf("%w: %q", ErrDuplicateFilename, trimmed)
	}

	slog.Info("Renaming file", "id", id, "from", rec.FileName, "to", trimmed)
	if err := s.meta.Rename(ctx, id, trimmed, time.Now().UTC()); err != nil {
		if errors.Is(err, ErrDuplicateFilename) || errors.Is(err, ErrNotFound) {
			return err
		}
		return storageError("rename file", err)
	}
	return nil
}

// Delete removes a record and, when that record was the last one (any owner)
// referencing its digest, removes the blob as well. The reference check is a
// point-in-time query, not an atomic reference count: a blob can survive a
// race as an orphan, to be reclaimed on a later delete. Blob removal failures
// after the record is gone are logged and swallowed.
func (s *Service) Delete(ctx context.Context, ownerID string, id string) error {
	rec, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.meta.Delete(ctx, rec.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return storageError("delete metadata", err)
	}

	remaining, err := s.meta.CountByDigest(ctx, rec.ContentDigest)
	if err != nil {
		slog.Warn("Could not count remaining references, leaving blob in place",
			"digest", rec.ContentDigest, "err", err)
		return nil
	}
	if remaining > 0 {
		return nil
	}

	if _, err := s.store.DeleteIfExists(ctx, rec.ContentDigest); err != nil {
		slog.Warn("Could not remove unreferenced blob", "digest", rec.ContentDigest, "err", err)
	}
	return nil
}

// Download opens the blob behind a record. PRIVATE records are readable only
// by their owner; PUBLIC records by anyone. A missing blob behind a live
// record is a detected inconsistency, surfaced as a storage fault rather than
// a normal not-found.
func (s *Service) Download(ctx context.Context, callerID string, id string) (*Download, error) {
	rec, err := s.meta.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storageError("load metadata", err)
	}

	if rec.Visibility != VisibilityPublic && rec.OwnerID != callerID {
		return nil, fmt.Errorf("%w: file %s", ErrForbidden, id)
	}

	rc, err := s.store.Open(ctx, rec.ContentDigest)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			slog.Error("Blob missing for existing record", "id", id, "digest", rec.ContentDigest)
			return nil, storageError("open blob", err)
		}
		return nil, storageError("open blob", err)
	}

	contentType := rec.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	return &Download{
		Content:     rc,
		FileName:    rec.FileName,
		ContentType: contentType,
		Size:        rec.Size,
	}, nil
}

// getOwned loads a record and enforces ownership.
func (s *Service) getOwned(ctx context.Context, ownerID string, id string) (*FileRecord, error) {
	rec, err := s.meta.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storageError("load metadata", err)
	}

	if rec.OwnerID != ownerID {
		slog.Info("Forbidden access", "id", id, "caller", ownerID)
		return nil, fmt.Errorf("%w: file %s", ErrForbidden, id)
	}
	return rec, nil
}

// discard removes a staged payload, logging rather than raising failures so
// the original error keeps precedence.
func (s *Service) discard(staged StagedBlob) {
	if err := staged.Discard(); err != nil {
		slog.Warn("Could not discard staged upload", "err", err)
	}
}

func resolveFileName(override string, original string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	if original != "" {
		return original
	}
	return fallbackFileName
}
