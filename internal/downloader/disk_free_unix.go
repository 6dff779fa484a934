//go:build !windows

package downloader

import (
	"os"
	"syscall"
)

// FreeDiskSpace returns the bytes available to unprivileged users at path, or 0.
func FreeDiskSpace(path string) int64 {
	stat, err := os.Stat(path)
	if err != nil || !stat.IsDir() {
		return 0
	}

	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return 0
	}

	return int64(fs.Bavail) * int64(fs.Bsize)
}
