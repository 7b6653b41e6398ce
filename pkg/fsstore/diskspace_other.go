//go:build !unix && !windows

package fsstore

import "errors"

// CheckDiskSpace is not available on this platform; writes are not guarded.
func CheckDiskSpace(string) (*DiskSpaceInfo, error) {
	return nil, errors.New("fsstore: disk stats not supported on this platform")
}
