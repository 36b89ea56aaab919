package vault

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// MetadataStore persists FileRecords in SQLite. The two per-owner UNIQUE
// constraints (owner_id, file_name) and (owner_id, content_digest) are the
// authoritative arbiters for duplicate detection: application-level existence
// checks are advisory only, and concurrent inserts are serialized here.
type MetadataStore struct {
	db *sql.DB
}

// OpenMetadataStore opens (creating if necessary) the SQLite database at path
// and applies the embedded schema migrations in lexicographical order.
func OpenMetadataStore(ctx context.Context, path string) (*MetadataStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &MetadataStore{db: db}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		content, readError := migrationsFS.ReadFile(path)
		if readError != nil {
			return fmt.Errorf("error reading SQL file: %w", readError)
		}

		slog.Info("Running migration", "path", path)
		_, execError := db.ExecContext(ctx, string(content))
		return execError
	})
}

// Close closes the underlying database.
func (m *MetadataStore) Close() error {
	return m.db.Close()
}

// withTransaction runs fn within a database transaction.
func withTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}

// classifyUnique translates a SQLite UNIQUE constraint violation on the files
// table into the matching duplicate error, identified by the failing column.
// Any other error is returned unchanged.
func classifyUnique(err error) error {
	var serr sqlite3.Error
	if !errors.As(err, &serr) || serr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return err
	}

	msg := serr.Error()
	switch {
	case strings.Contains(msg, "files.file_name"):
		return fmt.Errorf("%w: %v", ErrDuplicateFilename, err)
	case strings.Contains(msg, "files.content_digest"):
		return fmt.Errorf("%w: %v", ErrDuplicateContent, err)
	default:
		return err
	}
}

// ExistsByOwnerAndName reports whether owner already has a record named name.
func (m *MetadataStore) ExistsByOwnerAndName(ctx context.Context, ownerID string, name string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE owner_id = ? AND file_name = ?`,
		ownerID, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check filename exists: %w", err)
	}
	return count > 0, nil
}

// ExistsByOwnerAndDigest reports whether owner already has a record pointing
// at the given content digest.
func (m *MetadataStore) ExistsByOwnerAndDigest(ctx context.Context, ownerID string, digest string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE owner_id = ? AND content_digest = ?`,
		ownerID, digest,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check content exists: %w", err)
	}
	return count > 0, nil
}

// Insert persists a new record and its tags. A concurrent insert that already
// claimed the same (owner, filename) or (owner, digest) pair surfaces as
// ErrDuplicateFilename or ErrDuplicateContent respectively.
func (m *MetadataStore) Insert(ctx context.Context, rec *FileRecord) error {
	return withTransaction(ctx, m.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO files(id, owner_id, file_name, content_type, visibility, content_digest, size, created_at, modified_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.OwnerID, rec.FileName, nullableString(rec.ContentType), string(rec.Visibility),
			rec.ContentDigest, rec.Size, rec.CreatedAt, rec.ModifiedAt,
		)
		if err != nil {
			return classifyUnique(err)
		}

		for _, tag := range rec.Tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO file_tags(file_id, tag) VALUES(?, ?)`,
				rec.ID, tag,
			); err != nil {
				return fmt.Errorf("insert tag %q: %w", tag, err)
			}
		}

		return nil
	})
}

// FindByID loads a single record, or ErrNotFound.
func (m *MetadataStore) FindByID(ctx context.Context, id string) (*FileRecord, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, owner_id, file_name, content_type, visibility, content_digest, size, created_at, modified_at
		 FROM files WHERE id = ?`,
		id,
	)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", id, err)
	}

	tags, err := m.loadTags(ctx, []string{rec.ID})
	if err != nil {
		return nil, err
	}
	rec.Tags = tags[rec.ID]

	return rec, nil
}

// ListByOwner returns one page of the owner's records.
func (m *MetadataStore) ListByOwner(ctx context.Context, ownerID string, q ListQuery) ([]FileRecord, error) {
	return m.list(ctx, `owner_id = ?`, []any{ownerID}, q)
}

// ListPublic returns one page of PUBLIC records across all owners.
func (m *MetadataStore) ListPublic(ctx context.Context, q ListQuery) ([]FileRecord, error) {
	return m.list(ctx, `visibility = ?`, []any{string(VisibilityPublic)}, q)
}

// sortColumns whitelists the sortable fields. Queries never interpolate
// caller input into SQL directly.
var sortColumns = map[SortField]string{
	SortByFileName:    "file_name",
	SortByCreatedAt:   "created_at",
	SortBySize:        "size",
	SortByContentType: "content_type",
}

func (m *MetadataStore) list(ctx context.Context, where string, args []any, q ListQuery) ([]FileRecord, error) {
	q = q.normalized()

	column, ok := sortColumns[q.SortBy]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sort field %q", ErrBadRequest, q.SortBy)
	}
	direction := "ASC"
	if q.Dir == SortDesc {
		direction = "DESC"
	} else if q.Dir != SortAsc {
		return nil, fmt.Errorf("%w: unknown sort direction %q", ErrBadRequest, q.Dir)
	}

	query := `SELECT id, owner_id, file_name, content_type, visibility, content_digest, size, created_at, modified_at
		 FROM files WHERE ` + where
	if q.Tag != "" {
		query += ` AND EXISTS (SELECT 1 FROM file_tags WHERE file_tags.file_id = files.id AND file_tags.tag = ?)`
		args = append(args, q.Tag)
	}

	// Secondary id ordering keeps page boundaries deterministic under equal
	// sort keys.
	query += fmt.Sprintf(` ORDER BY %s %s, id ASC LIMIT ? OFFSET ?`, column, direction)
	args = append(args, q.PageSize, q.Page*q.PageSize)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var records []FileRecord
	var ids []string
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		records = append(records, *rec)
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	tags, err := m.loadTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Tags = tags[records[i].ID]
	}

	return records, nil
}

// Rename updates the record's filename. A collision with an existing name of
// the same owner surfaces as ErrDuplicateFilename, decided by the store's
// uniqueness constraint rather than any prior check.
func (m *MetadataStore) Rename(ctx context.Context, id string, newName string, now time.Time) error {
	res, err := m.db.ExecContext(ctx,
		`UPDATE files SET file_name = ?, modified_at = ? WHERE id = ?`,
		newName, now, id,
	)
	if err != nil {
		return classifyUnique(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename file %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes the record; tag rows cascade.
func (m *MetadataStore) Delete(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountByDigest reports how many live records (any owner) reference digest.
func (m *MetadataStore) CountByDigest(ctx context.Context, digest string) (int64, error) {
	var count int64
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE content_digest = ?`,
		digest,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by digest: %w", err)
	}
	return count, nil
}

// loadTags fetches the tag sets for the given record ids in one query.
func (m *MetadataStore) loadTags(ctx context.Context, ids []string) (map[string][]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT file_id, tag FROM file_tags WHERE file_id IN (`+placeholders+`) ORDER BY tag`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()

	tags := make(map[string][]string, len(ids))
	for rows.Next() {
		var fileID, tag string
		if err := rows.Scan(&fileID, &tag); err != nil {
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		tags[fileID] = append(tags[fileID], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}

	return tags, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*FileRecord, error) {
	var (
		rec         FileRecord
		contentType sql.NullString
		visibility  string
	)

	err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.FileName, &contentType, &visibility,
		&rec.ContentDigest, &rec.Size, &rec.CreatedAt, &rec.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ContentType = contentType.String
	rec.Visibility = Visibility(visibility)
	return &rec, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
