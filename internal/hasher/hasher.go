// Package hasher provides streaming content digests for source files.
//
// Digests are 256-bit and rendered as 64 lowercase hex characters. A file that
// cannot be read yields the empty Sentinel digest, which never matches any
// recorded digest and therefore forces reprocessing.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// Sentinel is returned when a file cannot be hashed.
const Sentinel = ""

// Supported algorithms.
const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// DefaultAlgorithm is used when none is configured.
const DefaultAlgorithm = SHA256

const chunkSize = 64 * 1024

// Hasher computes digests with one fixed algorithm.
type Hasher struct {
	algorithm string
}

// New returns a Hasher for the named algorithm. An empty name selects the default.
func New(algorithm string) (*Hasher, error) {
	switch algorithm {
	case "":
		return &Hasher{algorithm: DefaultAlgorithm}, nil
	case SHA256, BLAKE3:
		return &Hasher{algorithm: algorithm}, nil
	default:
		return nil, fmt.Errorf("hasher: unknown algorithm %q", algorithm)
	}
}

// Default returns the SHA-256 hasher.
func Default() *Hasher { return &Hasher{algorithm: DefaultAlgorithm} }

// Algorithm reports the algorithm name recorded alongside digests.
func (h *Hasher) Algorithm() string { return h.algorithm }

func (h *Hasher) newHash() hash.Hash {
	if h.algorithm == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Digest streams the file in fixed-size chunks and returns its hex digest,
// or Sentinel if the file cannot be opened or read to the end.
func (h *Hasher) Digest(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return Sentinel
	}
	defer f.Close()

	d := h.newHash()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(d, f, buf); err != nil {
		return Sentinel
	}
	return hex.EncodeToString(d.Sum(nil))
}

// MetadataAll computes metadata for the given files concurrently, at most
// limit at a time. An unreadable file gets a Metadata whose Digest is
// Sentinel; only cancellation fails the call.
func (h *Hasher) MetadataAll(ctx context.Context, paths []string, limit int) (map[string]*Metadata, error) {
	if limit <= 0 {
		limit = 4
	}
	out := make(map[string]*Metadata, len(paths))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			meta, err := h.ComputeMetadata(p)
			if err != nil {
				meta = &Metadata{Digest: Sentinel, Algorithm: h.algorithm, Extension: filepath.Ext(p)}
			}
			mu.Lock()
			out[p] = meta
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("hasher: metadata all: %w", err)
	}
	return out, nil
}

// Metadata holds computed file metadata.
type Metadata struct {
	Digest      string // hex digest, Sentinel on failure
	Algorithm   string
	Size        int64
	Extension   string
	ContentType string
}

// ComputeMetadata streams the file once for its digest and size and sniffs
// the content type from the first 512 bytes.
func (h *Hasher) ComputeMetadata(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hasher: open file: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("hasher: read head: %w", err)
	}
	contentType := http.DetectContentType(head[:n])

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("hasher: seek: %w", err)
	}

	d := h.newHash()
	size, err := io.CopyBuffer(d, f, make([]byte, chunkSize))
	if err != nil {
		return nil, fmt.Errorf("hasher: copy: %w", err)
	}

	return &Metadata{
		Digest:      hex.EncodeToString(d.Sum(nil)),
		Algorithm:   h.algorithm,
		Size:        size,
		Extension:   filepath.Ext(path),
		ContentType: contentType,
	}, nil
}

// Matches reports whether two digests are equal. Sentinel never matches.
func Matches(a, b string) bool {
	return a != Sentinel && b != Sentinel && a == b
}
