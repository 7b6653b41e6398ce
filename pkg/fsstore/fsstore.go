// Package fsstore is the byte-oriented file store the profile and archive
// layers write through.
package fsstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File and directory modes for everything written under a data directory.
const (
	FileMode = 0600
	DirMode  = 0700
)

// MinFreeBytes is the default free-space floor enforced before writes.
const MinFreeBytes = 10 * 1024 * 1024

// ErrInsufficientDisk is returned when a write would leave less than the
// configured free space.
var ErrInsufficientDisk = errors.New("fsstore: insufficient disk space")

// Store is the file-system surface used by the core.
type Store interface {
	ReadFile(path string) ([]byte, error)
	// WriteFile replaces path atomically: readers see either the old or the
	// new content, never a partial write.
	WriteFile(path string, data []byte, perm fs.FileMode) error
	Stat(path string) (fs.FileInfo, error)
	MkdirAll(path string, perm fs.FileMode) error
	Exists(path string) bool
	Remove(path string) error
	Chmod(path string, perm fs.FileMode) error
}

// DiskSpaceInfo contains disk usage information.
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}

// OS is the operating-system Store.
type OS struct {
	// MinFree is the free-space floor checked before each write. Zero
	// disables the check.
	MinFree uint64
}

// NewOS returns an OS store with the default free-space floor.
func NewOS() *OS {
	return &OS{MinFree: MinFreeBytes}
}

var _ Store = (*OS)(nil)

func (o *OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (o *OS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

func (o *OS) MkdirAll(path string, perm fs.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (o *OS) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func (o *OS) Chmod(path string, perm fs.FileMode) error {
	return os.Chmod(path, perm)
}

// Remove deletes path. A missing file is not an error.
func (o *OS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// WriteFile writes to a temporary sibling, syncs it and renames it over path.
func (o *OS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := o.checkDiskSpaceForWrite(dir, len(data)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("fsstore: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("fsstore: failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsstore: failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fsstore: failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("fsstore: failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("fsstore: failed to replace %s: %w", filepath.Base(path), err)
	}
	committed = true
	return nil
}

// checkDiskSpaceForWrite requires MinFree or twice the data size, whichever
// is larger. Failure to read disk stats does not block the write.
func (o *OS) checkDiskSpaceForWrite(dir string, dataSize int) error {
	if o.MinFree == 0 {
		return nil
	}
	info, err := CheckDiskSpace(dir)
	if err != nil {
		return nil
	}

	required := o.MinFree
	if uint64(dataSize)*2 > required {
		required = uint64(dataSize) * 2
	}
	if info.Available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk, info.Available/(1024*1024), required/(1024*1024))
	}
	return nil
}

func usedPercent(total, free uint64) int {
	if total == 0 {
		return 0
	}
	return int(100 * (total - free) / total)
}
