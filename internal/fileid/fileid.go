// Package fileid derives a stable content fingerprint for uploaded CV files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

const prefix = "sha256:"

// OfFile returns the fingerprint of the file at path. Renamed copies share it.
func OfFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	r := NewReader(f)
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	return r.Sum(), nil
}

// Reader fingerprints every byte read through it.
type Reader struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, h: sha256.New()}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.h.Write(p[:n])
		r.n += int64(n)
	}
	return n, err
}

// Sum returns the fingerprint of the bytes read so far.
func (r *Reader) Sum() string {
	return prefix + hex.EncodeToString(r.h.Sum(nil))
}

// BytesRead returns how many bytes have passed through the reader.
func (r *Reader) BytesRead() int64 {
	return r.n
}
