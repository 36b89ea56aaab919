package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// HashingReader is a pass-through io.Reader that computes the SHA-256 digest
// and byte count of everything read through it. It buffers nothing: callers
// stream arbitrarily large payloads through it into storage and ask for the
// digest and size once the source is fully consumed.
type HashingReader struct {
	src       io.Reader
	digest    hash.Hash
	bytesRead int64
}

// NewHashingReader wraps src. Errors from src propagate unchanged.
func NewHashingReader(src io.Reader) *HashingReader {
	return &HashingReader{
		src:    src,
		digest: sha256.New(),
	}
}

func (h *HashingReader) Read(p []byte) (int, error) {
	n, err := h.src.Read(p)
	if n > 0 {
		// Hash.Write never returns an error.
		_, _ = h.digest.Write(p[:n])
		h.bytesRead += int64(n)
	}
	return n, err
}

// BytesRead returns the number of bytes read so far. It is authoritative for
// the payload size once the source has been fully consumed.
func (h *HashingReader) BytesRead() int64 {
	return h.bytesRead
}

// SumHex returns the hex-encoded SHA-256 digest of the bytes read so far.
func (h *HashingReader) SumHex() string {
	return hex.EncodeToString(h.digest.Sum(nil))
}
