//go:build windows

package fsstore

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// CheckDiskSpace returns disk space information for the volume holding path.
func CheckDiskSpace(path string) (*DiskSpaceInfo, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Dir(path)
	}

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("fsstore: failed to convert path: %w", err)
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return nil, fmt.Errorf("fsstore: failed to get disk stats: %w", err)
	}

	return &DiskSpaceInfo{
		Total:     totalBytes,
		Free:      totalFreeBytes,
		Available: freeBytesAvailable,
		UsedPct:   usedPercent(totalBytes, totalFreeBytes),
	}, nil
}
