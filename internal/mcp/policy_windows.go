//go:build windows

package mcp

import (
	"os"
)

// openPolicyFile opens the policy file. There is no O_NOFOLLOW here, so a
// symlink is detected with Lstat before opening.
func openPolicyFile(path string) (*os.File, error) {
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrPolicySymlink
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return f, nil
}

// checkFileOwnership is a no-op: ownership is governed by ACLs, and the
// data directory itself is created private to the user.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}
