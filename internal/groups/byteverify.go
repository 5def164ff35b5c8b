package groups

import (
	"bytes"
	"io"
	"os"

	"github.com/twbeatles/dupescan/internal/constants"
)

// VerifySplit partitions a hash-equal candidate group into byte-exact
// subgroups. Each member is streamed against the representative of every
// existing subgroup; a mismatch opens a new subgroup. Unreadable members
// are dropped rather than grouped on stale hashes.
func VerifySplit(paths []string) [][]string {
	var parts [][]string

	for _, path := range paths {
		// An unreadable member never becomes a subgroup representative
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		f.Close()

		placed := false
		for i, part := range parts {
			equal, err := filesEqual(part[0], path)
			if err != nil {
				placed = true
				break
			}
			if equal {
				parts[i] = append(parts[i], path)
				placed = true
				break
			}
		}
		if !placed {
			parts = append(parts, []string{path})
		}
	}

	return parts
}

// filesEqual streams both files chunkwise and reports bytewise equality
func filesEqual(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()

	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, constants.ByteCompareBufferSize)
	bufB := make([]byte, constants.ByteCompareBufferSize)

	for {
		nA, errA := io.ReadFull(fa, bufA)
		nB, errB := io.ReadFull(fb, bufB)

		if nA != nB || !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}

		endA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		endB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if endA && endB {
			return true, nil
		}
		if errA != nil && !endA {
			return false, errA
		}
		if errB != nil && !endB {
			return false, errB
		}
		if endA != endB {
			return false, nil
		}
	}
}
