package vault

import (
	"fmt"
	"strings"
	"time"
)

// Visibility controls who may read a file record.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
)

// ParseVisibility converts a caller-supplied string into a Visibility.
func ParseVisibility(s string) (Visibility, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(VisibilityPrivate):
		return VisibilityPrivate, nil
	case string(VisibilityPublic):
		return VisibilityPublic, nil
	default:
		return "", fmt.Errorf("%w: unknown visibility %q", ErrBadRequest, s)
	}
}

// FileRecord is one upload event. Content itself lives in the ContentStore,
// keyed by ContentDigest; many records (across owners) may share one blob.
type FileRecord struct {
	ID            string
	OwnerID       string
	FileName      string
	ContentType   string
	Visibility    Visibility
	Tags          []string
	ContentDigest string
	Size          int64
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// MaxTags bounds the number of tags kept per record.
const MaxTags = 5

// NormalizeTags lowercases and trims tags, drops empty entries, collapses
// duplicates, and keeps at most MaxTags of the survivors.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, min(len(tags), MaxTags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// SortField names a sortable FileRecord attribute in listing queries.
type SortField string

const (
	SortByFileName    SortField = "fileName"
	SortByCreatedAt   SortField = "createdTs"
	SortBySize        SortField = "size"
	SortByContentType SortField = "contentType"
)

// SortDir is the listing sort direction.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

const (
	defaultPageSize = 20
	maxPageSize     = 1000
)

// ListQuery selects, orders, and paginates records in listing operations.
// The zero value means: no tag filter, first page of defaultPageSize entries,
// sorted by filename ascending.
type ListQuery struct {
	Tag      string
	Page     int
	PageSize int
	SortBy   SortField
	Dir      SortDir
}

// normalized fills in defaults and clamps the page size.
func (q ListQuery) normalized() ListQuery {
	if q.Page < 0 {
		q.Page = 0
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	if q.SortBy == "" {
		q.SortBy = SortByFileName
	}
	if q.Dir == "" {
		q.Dir = SortAsc
	}
	q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))
	return q
}
