//go:build unix

package lockcheck

import (
	"os"

	"golang.org/x/sys/unix"
)

// IsLocked probes whether another process holds an exclusive lock on the
// file. The probe is non-blocking: a failed flock attempt is released
// immediately on the kernel side because the descriptor is closed.
//
// Semantics:
// - zero-size files are never reported locked
// - a missing file is not locked
// - a file we cannot open for reading is treated as locked
func IsLocked(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Size() == 0 {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false
		}
		return true
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return true
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false
}
