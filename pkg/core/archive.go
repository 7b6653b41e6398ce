package core

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/logwayss/logwayss/pkg/audit"
	"github.com/logwayss/logwayss/pkg/fsstore"
	"github.com/logwayss/logwayss/pkg/rowstore"
)

// ExportArchive writes a consistent snapshot of the entry database to dest.
// Entries stay encrypted; the session key is never written. An existing
// dest is not overwritten.
func (c *Core) ExportArchive(ctx context.Context, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireUnlocked(); err != nil {
		return err
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("core: failed to resolve archive path: %w", err)
	}
	if c.files.Exists(abs) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, dest)
	}

	if _, err := c.db.Run(ctx, `VACUUM INTO ?`, abs); err != nil {
		c.auditLog(audit.OpArchiveExport, audit.ResultError, "", nil)
		return fmt.Errorf("core: failed to export archive: %w", err)
	}
	if err := c.files.Chmod(abs, fsstore.FileMode); err != nil {
		c.log.Warn("failed to set archive permissions", "path", abs, "err", err)
	}

	c.auditLog(audit.OpArchiveExport, audit.ResultSuccess, "", map[string]any{"path": abs})
	c.log.Info("archive exported", "path", abs)
	return nil
}

// ImportArchive replaces the entry database with the archive at src. The
// live database is closed first and reopened afterwards; existing entries
// are discarded. The caller is responsible for confirming intent.
func (c *Core) ImportArchive(ctx context.Context, src string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireUnlocked(); err != nil {
		return err
	}

	data, err := c.files.ReadFile(src)
	if err != nil {
		return fmt.Errorf("core: failed to read archive: %w", err)
	}

	dbPath := filepath.Join(c.dataDir, DBFileName)

	if err := c.db.Close(); err != nil {
		c.log.Warn("failed to close entry database before import", "err", err)
	}
	c.db = nil

	// Stale WAL frames would be replayed on top of the imported file.
	for _, side := range []string{dbPath + "-wal", dbPath + "-shm"} {
		if err := c.files.Remove(side); err != nil {
			c.log.Warn("failed to remove database side file", "path", side, "err", err)
		}
	}

	writeErr := c.files.WriteFile(dbPath, data, fsstore.FileMode)

	db, err := c.openStore(ctx, c.dataDir)
	if err != nil {
		c.lockLocked()
		if writeErr != nil {
			return fmt.Errorf("core: failed to import archive: %w", writeErr)
		}
		return err
	}
	c.db = db

	if writeErr != nil {
		c.auditLog(audit.OpArchiveImport, audit.ResultError, "", nil)
		return fmt.Errorf("core: failed to import archive: %w", writeErr)
	}

	c.auditLog(audit.OpArchiveImport, audit.ResultSuccess, "", map[string]any{"path": src})
	c.log.Info("archive imported", "path", src)
	return nil
}

// VerifyArchive checks that path is an intact entry database. It works on a
// copy and needs no unlocked session.
func (c *Core) VerifyArchive(ctx context.Context, path string) (*rowstore.IntegrityResult, error) {
	res, err := rowstore.CheckIntegrity(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	return res, nil
}
