package vault

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashingReaderDigestAndCount(t *testing.T) {
	t.Parallel()

	payload := []byte("the quick brown fox jumps over the lazy dog")
	sum := sha256.Sum256(payload)

	hr := NewHashingReader(bytes.NewReader(payload))

	// Drain through a small buffer to exercise multiple reads.
	buf := make([]byte, 7)
	var got []byte
	for {
		n, err := hr.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err, "reading payload")
	}

	require.Equal(t, payload, got, "pass-through bytes")
	require.Equal(t, int64(len(payload)), hr.BytesRead(), "byte count")
	require.Equal(t, hex.EncodeToString(sum[:]), hr.SumHex(), "digest")
}

func TestHashingReaderEmptyInput(t *testing.T) {
	t.Parallel()

	hr := NewHashingReader(strings.NewReader(""))

	_, err := io.Copy(io.Discard, hr)
	require.NoError(t, err, "draining empty reader")

	sum := sha256.Sum256(nil)
	require.Equal(t, int64(0), hr.BytesRead(), "byte count")
	require.Equal(t, hex.EncodeToString(sum[:]), hr.SumHex(), "digest of empty input")
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestHashingReaderPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk on fire")
	hr := NewHashingReader(&failingReader{data: []byte("partial"), err: boom})

	_, err := io.Copy(io.Discard, hr)
	require.ErrorIs(t, err, boom, "underlying error")
	require.Equal(t, int64(len("partial")), hr.BytesRead(), "bytes counted before failure")
}
