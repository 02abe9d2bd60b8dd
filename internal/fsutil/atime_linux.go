//go:build linux

package fsutil

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// AccessTime returns the last access time of the file at path.
// It falls back to the modification time in info when the stat fails.
func AccessTime(path string, info fs.FileInfo) time.Time {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return info.ModTime()
	}
	sec, nsec := st.Atim.Unix()
	return time.Unix(sec, nsec)
}
