package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

// UserIDHeader carries the caller identity. Requests are trusted to an
// upstream gateway for authentication; this service only consumes the
// resolved user id.
const UserIDHeader = "X-User-Id"

// maxMultipartMemory bounds how much of a multipart upload is buffered in
// memory before spilling to disk.
const maxMultipartMemory = 32 << 20

type Config struct {
	DataDir string
	Engine  ContentStore
}

// Server exposes the file vault over HTTP.
type Server struct {
	cfg  Config
	meta *MetadataStore
	svc  *Service
}

// NewServer initializes the metadata database and content store and returns
// a new Server.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {

	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	meta, err := OpenMetadataStore(ctx, path.Join(cfg.DataDir, "metadata.sqlite"))
	if err != nil {
		return nil, err
	}

	if cfg.Engine == nil {
		store, err := NewFileSystemStore(cfg.DataDir)
		if err != nil {
			_ = meta.Close()
			return nil, err
		}
		cfg.Engine = store
	}

	return &Server{
		cfg:  cfg,
		meta: meta,
		svc:  NewService(meta, cfg.Engine),
	}, nil
}

// Close closes any resources held by the Server.
func (s *Server) Close() error {
	return s.meta.Close()
}

// FileDTO is the JSON wire representation of a FileRecord.
type FileDTO struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"ownerId"`
	FileName    string   `json:"fileName"`
	ContentType string   `json:"contentType"`
	Visibility  string   `json:"visibility"`
	Tags        []string `json:"tags"`
	Size        int64    `json:"size"`
	CreatedTS   string   `json:"createdTs"`
	ModifiedTS  string   `json:"modifiedTs"`
}

func toDTO(rec *FileRecord) FileDTO {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return FileDTO{
		ID:          rec.ID,
		OwnerID:     rec.OwnerID,
		FileName:    rec.FileName,
		ContentType: rec.ContentType,
		Visibility:  string(rec.Visibility),
		Tags:        tags,
		Size:        rec.Size,
		CreatedTS:   rec.CreatedAt.UTC().Format(time.RFC3339),
		ModifiedTS:  rec.ModifiedAt.UTC().Format(time.RFC3339),
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

// statusForError maps service errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrDuplicateFilename), errors.Is(err, ErrDuplicateContent):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response. Internal errors are logged in
// full but reported to the client with a generic message.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Internal error", "err", err)
		message = "internal error"
	}

	writeJSON(w, status, errorResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encode JSON response", "err", err)
	}
}

// callerID extracts the user identity header, or writes a 400 and returns
// false when it is missing.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if id == "" {
		writeError(w, fmt.Errorf("%w: missing %s header", ErrBadRequest, UserIDHeader))
		return "", false
	}
	return id, true
}

// handleUpload implements POST /file/v1 as a multipart upload. The payload
// comes from the "file" part; "filename", "visibility", and "tags" are form
// fields.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, fmt.Errorf("%w: parse multipart form: %v", ErrBadRequest, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing file part", ErrBadRequest))
		return
	}
	defer file.Close()

	visibility, err := ParseVisibility(r.FormValue("visibility"))
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.svc.Upload(r.Context(), Upload{
		OwnerID:          owner,
		Content:          file,
		OriginalName:     header.Filename,
		DeclaredType:     partContentType(header.Header.Get("Content-Type")),
		Visibility:       visibility,
		FilenameOverride: r.FormValue("filename"),
		Tags:             formTags(r.Form["tags"]),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDTO(rec))
}

// handleDownload implements GET /file/v1/{id}, streaming the blob back as an
// attachment. Identity is optional here: anonymous callers can fetch PUBLIC
// files, and the visibility check rejects everything else.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	caller := strings.TrimSpace(r.Header.Get(UserIDHeader))

	dl, err := s.svc.Download(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer dl.Content.Close()

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.FileName}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, dl.Content); err != nil {
		slog.Error("Stream blob", "err", err)
	}
}

type renameRequest struct {
	FileName string `json:"filename"`
}

// handleRename implements PATCH /file/v1/{id}/rename.
func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}

	defer r.Body.Close()
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: decode rename request: %v", ErrBadRequest, err))
		return
	}

	if err := s.svc.Rename(r.Context(), owner, r.PathValue("id"), req.FileName); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDelete implements DELETE /file/v1/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := s.svc.Delete(r.Context(), owner, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListOwned implements GET /files/v1, listing the caller's own files.
func (s *Server) handleListOwned(w http.ResponseWriter, r *http.Request) {
	owner, ok := callerID(w, r)
	if !ok {
		return
	}

	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := s.svc.ListOwned(r.Context(), owner, q)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDTOs(records))
}

// handleListPublic implements GET /files/v1/public. No identity is required.
func (s *Server) handleListPublic(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := s.svc.ListPublic(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDTOs(records))
}

func toDTOs(records []FileRecord) []FileDTO {
	out := make([]FileDTO, 0, len(records))
	for i := range records {
		out = append(out, toDTO(&records[i]))
	}
	return out
}

// parseListQuery reads the tag, page, size, and sort query parameters. Sort
// is "field,dir" with dir optional.
func parseListQuery(r *http.Request) (ListQuery, error) {
	values := r.URL.Query()

	q := ListQuery{Tag: values.Get("tag")}

	if raw := values.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 0 {
			return ListQuery{}, fmt.Errorf("%w: invalid page %q", ErrBadRequest, raw)
		}
		q.Page = page
	}

	if raw := values.Get("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return ListQuery{}, fmt.Errorf("%w: invalid size %q", ErrBadRequest, raw)
		}
		q.PageSize = size
	}

	if raw := values.Get("sort"); raw != "" {
		field, dir, found := strings.Cut(raw, ",")
		q.SortBy = SortField(strings.TrimSpace(field))
		if found {
			q.Dir = SortDir(strings.ToLower(strings.TrimSpace(dir)))
		}
	}

	return q, nil
}

// formTags flattens repeated tags fields, splitting comma-separated values.
func formTags(values []string) []string {
	var tags []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

// partContentType strips any media type parameters from a multipart part
// header, keeping just the type itself.
func partContentType(raw string) string {
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return mediaType
}
