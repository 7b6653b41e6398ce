//go:build unix

package fsstore

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CheckDiskSpace returns disk space information for the file system holding path.
func CheckDiskSpace(path string) (*DiskSpaceInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		// path may not exist yet; fall back to its parent
		if err := unix.Statfs(filepath.Dir(path), &stat); err != nil {
			return nil, fmt.Errorf("fsstore: failed to get disk stats: %w", err)
		}
	}

	bsize := uint64(stat.Bsize)
	total := uint64(stat.Blocks) * bsize
	free := uint64(stat.Bfree) * bsize
	return &DiskSpaceInfo{
		Total:     total,
		Free:      free,
		Available: uint64(stat.Bavail) * bsize,
		UsedPct:   usedPercent(total, free),
	}, nil
}
