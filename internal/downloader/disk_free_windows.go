//go:build windows

package downloader

import (
	"os"

	"golang.org/x/sys/windows"
)

// FreeDiskSpace returns the bytes available to the caller at path, or 0.
func FreeDiskSpace(path string) int64 {
	stat, err := os.Stat(path)
	if err != nil || !stat.IsDir() {
		return 0
	}

	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0
	}

	var freeBytes, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytes, &totalBytes, &totalFreeBytes); err != nil {
		return 0
	}

	return int64(freeBytes)
}
