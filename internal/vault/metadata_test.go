package vault

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestMetadataStore(t *testing.T) *MetadataStore {
	t.Helper()

	meta, err := OpenMetadataStore(context.Background(), filepath.Join(t.TempDir(), "metadata.sqlite"))
	require.NoError(t, err, "OpenMetadataStore error")
	t.Cleanup(func() { _ = meta.Close() })

	return meta
}

func newTestRecord(owner string, name string, digest string) *FileRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &FileRecord{
		ID:            uuid.NewString(),
		OwnerID:       owner,
		FileName:      name,
		ContentType:   "text/plain",
		Visibility:    VisibilityPrivate,
		ContentDigest: digest,
		Size:          42,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
}

func TestMetadataInsertAndFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	meta := newTestMetadataStore(t)

	rec := newTestRecord("alice", "notes.txt", digestOf([]byte("notes")))
	rec.Tags = []string{"docs", "work"}
	require.NoError(t, meta.Insert(ctx, rec), "Insert error")

	got, err := meta.FindByID(ctx, rec.ID)
	require.NoError(t, err, "FindByID error")
	require.Equal(t, rec.FileName, got.FileName, "file name")
	require.Equal(t, rec.OwnerID, got.OwnerID, "owner")
	require.Equal(t, rec.ContentDigest, got.ContentDigest, "digest")
	require.Equal(t, []string{"docs", "work"}, got.Tags, "tags")

	_, err = meta.FindByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, ErrNotFound, "FindByID for unknown id")
}

func TestMetadataDuplicateClassification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	meta := newTestMetadataStore(t)

	rec := newTestRecord("alice", "report.pdf", digestOf([]byte("report")))
	require.NoError(t, meta.Insert(ctx, rec), "Insert error")

	// Same owner, same filename, different content.
	sameName := newTestRecord("alice", "report.pdf", digestOf([]byte("other content")))
	err := meta.Insert(ctx, sameName)
	require.ErrorIs(t, err, ErrDuplicateFilename, "duplicate filename classification")

	// Same owner, different filename, same content.
	sameContent := newTestRecord("alice", "report-copy.pdf", rec.ContentDigest)
	err = meta.Insert(ctx, sameContent)
	require.ErrorIs(t, err, ErrDuplicateContent, "duplicate content classification")

	// A different owner may reuse both the name and the digest.
	otherOwner := newTestRecord("bob", "report.pdf", rec.ContentDigest)
	require.NoError(t, meta.Insert(ctx, otherOwner), "cross-owner insert error")
}

func TestMetadataRename(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	meta := newTestMetadataStore(t)

	first := newTestRecord("alice", "a.txt", digestOf([]byte("a")))
	second := newTestRecord("alice", "b.txt", digestOf([]byte("b")))
	require.NoError(t, meta.Insert(ctx, first), "insert first")
	require.NoError(t, meta.Insert(ctx, second), "insert second")

	now := time.Now().UTC()
	require.NoError(t, meta.Rename(ctx, first.ID, "c.txt", now), "Rename error")

	got, err := meta.FindByID(ctx, first.ID)
	require.NoError(t, err, "FindByID error")
	require.Equal(t, "c.txt", got.FileName, "renamed file name")
	require.Equal(t, first.ContentDigest, got.ContentDigest, "digest unchanged by rename")

	// Renaming onto an existing name of the same owner collides.
	err = meta.Rename(ctx, first.ID, "b.txt", now)
	require.ErrorIs(t, err, ErrDuplicateFilename, "rename collision")

	err = meta.Rename(ctx, uuid.NewString(), "d.txt", now)
	require.ErrorIs(t, err, ErrNotFound, "rename unknown id")
}

func TestMetadataDeleteCascadesTags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	meta := newTestMetadataStore(t)

	rec := newTestRecord("alice", "tagged.txt", digestOf([]byte("tagged")))
	rec.Tags = []string{"one", "two"}
	require.NoError(t, meta.Insert(ctx, rec), "Insert error")

	require.NoError(t, meta.Delete(ctx, rec.ID), "Delete error")

	_, err := meta.FindByID(ctx, rec.ID)
	require.ErrorIs(t, err, ErrNotFound, "record still present after delete")

	var count int
	err = meta.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_tags WHERE file_id = ?`, rec.ID).Scan(&count)
	require.NoError(t, err, "counting orphan tags")
	require.Zero(t, count, "tag rows survived delete")

	err = meta.Delete(ctx, rec.ID)
	require.ErrorIs(t, err, ErrNotFound, "double delete")
}

func TestMetadataCountByDigest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	meta := newTestMetadataStore(t)

	digest := digestOf([]byte("shared"))
	require.NoError(t, meta.Insert(ctx, newTestRecord("alice", "shared.txt", digest)), "insert alice")
	require.NoError(t, meta.Insert(ctx, newTestRecord("bob", "shared.txt", digest)), "insert bob")

	count, err := meta.CountByDigest(ctx, digest)
	require.NoError(t, err, "CountByDigest error")
	require.Equal(t, int64(2), count, "reference count")

	count, err = meta.CountByDigest(ctx, digestOf([]byte("nobody has this")))
	require.NoError(t, err, "CountByDigest error")
	require.Zero(t, count, "unreferenced digest count")
}

func TestMetadataListSortingAndPaging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	meta := newTestMetadataStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	names := []string{"charlie.txt", "alpha.txt", "bravo.txt"}
	for i, name := range names {
		rec := newTestRecord("alice", name, digestOf([]byte(name)))
		rec.Size = int64((i + 1) * 100)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		rec.ModifiedAt = rec.CreatedAt
		require.NoErrorf(t, meta.Insert(ctx, rec), "insert %s", name)
	}

	// Default sort is by filename ascending.
	records, err := meta.ListByOwner(ctx, "alice", ListQuery{})
	require.NoError(t, err, "ListByOwner error")
	require.Len(t, records, 3, "record count")
	require.Equal(t, "alpha.txt", records[0].FileName, "first record")
	require.Equal(t, "charlie.txt", records[2].FileName, "last record")

	// Sort by size descending.
	records, err = meta.ListByOwner(ctx, "alice", ListQuery{SortBy: SortBySize, Dir: SortDesc})
	require.NoError(t, err, "ListByOwner error")
	require.Equal(t, int64(300), records[0].Size, "largest first")

	// Paging.
	records, err = meta.ListByOwner(ctx, "alice", ListQuery{Page: 1, PageSize: 2})
	require.NoError(t, err, "ListByOwner error")
	require.Len(t, records, 1, "second page size")
	require.Equal(t, "charlie.txt", records[0].FileName, "second page content")

	// Unknown sort field is rejected.
	_, err = meta.ListByOwner(ctx, "alice", ListQuery{SortBy: "owner_id"})
	require.ErrorIs(t, err, ErrBadRequest, "unknown sort field")

	_, err = meta.ListByOwner(ctx, "alice", ListQuery{Dir: "sideways"})
	require.ErrorIs(t, err, ErrBadRequest, "unknown sort direction")
}

func TestMetadataListTagFilterAndVisibility(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	meta := newTestMetadataStore(t)

	tagged := newTestRecord("alice", "tagged.txt", digestOf([]byte("t1")))
	tagged.Tags = []string{"photos"}
	tagged.Visibility = VisibilityPublic
	require.NoError(t, meta.Insert(ctx, tagged), "insert tagged")

	plain := newTestRecord("alice", "plain.txt", digestOf([]byte("t2")))
	require.NoError(t, meta.Insert(ctx, plain), "insert plain")

	bobPublic := newTestRecord("bob", "bob.txt", digestOf([]byte("t3")))
	bobPublic.Visibility = VisibilityPublic
	require.NoError(t, meta.Insert(ctx, bobPublic), "insert bob public")

	records, err := meta.ListByOwner(ctx, "alice", ListQuery{Tag: "photos"})
	require.NoError(t, err, "ListByOwner error")
	require.Len(t, records, 1, "tag filter count")
	require.Equal(t, "tagged.txt", records[0].FileName, "tag filter result")

	// Public listing spans owners but only PUBLIC records.
	records, err = meta.ListPublic(ctx, ListQuery{})
	require.NoError(t, err, "ListPublic error")
	require.Len(t, records, 2, "public record count")
	for _, rec := range records {
		require.Equal(t, VisibilityPublic, rec.Visibility, "non-public record in public listing")
	}
}
