//go:build !linux && !darwin

package fsutil

import (
	"io/fs"
	"time"
)

// AccessTime returns the modification time on platforms where the access
// time is not exposed.
func AccessTime(_ string, info fs.FileInfo) time.Time {
	return info.ModTime()
}
