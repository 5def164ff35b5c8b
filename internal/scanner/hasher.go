package scanner

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"github.com/twbeatles/dupescan/internal/constants"
)

// FileHasher computes content digests for the quick and full passes.
// Digests are BLAKE3 truncated to 128 bits, rendered as lowercase hex.
type FileHasher struct {
	partialBytes int64
	bufferSize   int
}

// NewFileHasher creates a hasher with the standard prefix length and
// read buffer size
func NewFileHasher() *FileHasher {
	return &FileHasher{
		partialBytes: constants.PartialHashBytes,
		bufferSize:   constants.FullHashBufferSize,
	}
}

// PartialHash digests the first 64 KiB of the file. Files shorter than
// the prefix are digested whole; the result still counts as a partial
// hash because grouping keys pair it with the exact size.
func (h *FileHasher) PartialHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.CopyN(hasher, f, h.partialBytes); err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to hash file prefix: %w", err)
	}

	return digestHex(hasher), nil
}

// FullHash digests the entire file content with a streaming read
func (h *FileHasher) FullHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	// Hint to kernel that we'll read sequentially (doubles read-ahead)
	// Gracefully degrades on non-Linux systems
	applySequentialHint(f)

	hasher := blake3.New()
	buf := make([]byte, h.bufferSize)
	n, err := io.CopyBuffer(hasher, f, buf)
	if err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	// Free page cache for large files to prevent cache pollution
	releaseCacheForLargeFile(f, n)

	return digestHex(hasher), nil
}

// HashBytes digests an in-memory buffer; used for manifest hashing
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:constants.HashSizeBytes])
}

// digestHex truncates the 256-bit BLAKE3 digest to 128 bits of hex
func digestHex(hasher *blake3.Hasher) string {
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:constants.HashSizeBytes])
}
