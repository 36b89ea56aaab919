package vault

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DefaultContentType is served when nothing better is known.
const DefaultContentType = "application/octet-stream"

// sniffLen matches http.DetectContentType's look-ahead window.
const sniffLen = 512

// resolveContentType picks a MIME type for a published blob: sniff the leading
// bytes first, then the filename extension, then the caller-declared type, and
// finally the generic binary type. The declared value is untrusted input and
// never wins over a conclusive sniff.
func resolveContentType(ctx context.Context, store ContentStore, digest string, fileName string, declared string) string {
	if t := sniffBlob(ctx, store, digest); t != "" {
		return t
	}

	if ext := filepath.Ext(fileName); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}

	declared = strings.TrimSpace(declared)
	if declared != "" {
		return declared
	}

	return DefaultContentType
}

// sniffBlob reads the blob's leading bytes and returns the detected type, or
// "" when detection fails or is inconclusive (the generic binary type).
func sniffBlob(ctx context.Context, store ContentStore, digest string) string {
	rc, err := store.Open(ctx, digest)
	if err != nil {
		slog.Debug("Could not open blob for content-type sniffing", "digest", digest, "err", err)
		return ""
	}
	defer rc.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		slog.Debug("Could not read blob for content-type sniffing", "digest", digest, "err", err)
		return ""
	}

	detected := http.DetectContentType(buf[:n])
	if detected == DefaultContentType {
		return ""
	}
	return detected
}
