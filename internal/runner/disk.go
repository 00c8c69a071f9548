//go:build unix

package runner

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// StatfsProbe reads free space with statfs(2).
type StatfsProbe struct{}

// FreeBytes returns the bytes available to an unprivileged user.
func (StatfsProbe) FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
