package disk

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// SpaceInfo is a snapshot of the filesystem holding a path
type SpaceInfo struct {
	TotalBytes  int64
	FreeBytes   int64
	UsedBytes   int64
	UsedPercent float64
}

// Space queries filesystem statistics for a path. FreeBytes is the
// space available to unprivileged users (Bavail, not Bfree).
func Space(path string) (*SpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("statfs failed for %s: %w", path, err)
	}

	total := stat.Blocks * uint64(stat.Bsize)
	available := stat.Bavail * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	used := total - free

	var usedPercent float64
	if total > 0 {
		usedPercent = float64(used) / float64(total) * 100
	}

	return &SpaceInfo{
		TotalBytes:  int64(total),
		FreeBytes:   int64(available),
		UsedBytes:   int64(used),
		UsedPercent: usedPercent,
	}, nil
}

const (
	kb = 1 << 10
	mb = 1 << 20
	gb = 1 << 30
	tb = 1 << 40
)

var sizeUnits = map[string]int64{
	"":   1,
	"B":  1,
	"KB": kb, "K": kb,
	"MB": mb, "M": mb,
	"GB": gb, "G": gb,
	"TB": tb, "T": tb,
}

// ParseSize converts a human-readable size like "4MB", "10G" or a plain
// byte count to bytes. Units are case-insensitive powers of 1024.
func ParseSize(sizeStr string) (int64, error) {
	raw := strings.TrimSpace(sizeStr)
	if raw == "" {
		return 0, fmt.Errorf("size string cannot be empty")
	}

	split := len(raw)
	for split > 0 && !isDigit(raw[split-1]) && raw[split-1] != '.' {
		split--
	}
	numPart := strings.TrimSpace(raw[:split])
	unitPart := strings.ToUpper(strings.TrimSpace(raw[split:]))

	value, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size format: %s (expected forms like '4MB', '10G' or '1024')", sizeStr)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}

	mult, ok := sizeUnits[unitPart]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q in %s", unitPart, sizeStr)
	}
	return int64(value * float64(mult)), nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
