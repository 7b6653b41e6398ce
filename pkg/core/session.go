package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/logwayss/logwayss/pkg/audit"
	"github.com/logwayss/logwayss/pkg/crypto"
	"github.com/logwayss/logwayss/pkg/profile"
	"github.com/logwayss/logwayss/pkg/rowstore"
)

// CreateProfile writes a new profile envelope in dataDir. A zero params uses
// the Core's configured KDF parameters. The session stays locked: callers
// unlock explicitly afterwards.
func (c *Core) CreateProfile(ctx context.Context, dataDir string, password []byte, params crypto.KDFParams) error {
	if params == (crypto.KDFParams{}) {
		params = c.kdf
	}

	key, _, err := profile.CreateKeyed(ctx, c.files, c.prims, dataDir, password, params)
	if err != nil {
		if errors.Is(err, profile.ErrAlreadyExists) {
			return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		}
		return err
	}
	defer crypto.SecureWipe(key)

	c.log.Info("profile created", "data_dir", dataDir)

	if c.auditOn {
		logger := audit.NewLogger(filepath.Join(dataDir, AuditDirName))
		if err := logger.SetKey(key); err != nil {
			c.log.Warn("failed to initialize audit logger", "err", err)
		} else {
			if err := logger.LogSuccess(audit.OpProfileCreate, c.auditSource, ""); err != nil {
				c.log.Warn("audit log write failed", "op", audit.OpProfileCreate, "err", err)
			}
			logger.Close()
		}
	}
	return nil
}

// UnlockProfile verifies password against dataDir's envelope and opens the
// entry database. An already unlocked session is locked first.
func (c *Core) UnlockProfile(ctx context.Context, dataDir string, password []byte) error {
	if c.cooldown {
		if remaining, err := c.checkCooldown(dataDir); err != nil {
			if errors.Is(err, ErrCooldownActive) {
				return fmt.Errorf("%w: please wait %v", ErrCooldownActive, remaining.Round(time.Second))
			}
			return err
		}
	}

	// The KDF runs without holding c.mu.
	key, _, err := profile.Unlock(ctx, c.files, c.prims, dataDir, password)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrNotFound):
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case errors.Is(err, profile.ErrInvalidCredentials):
			c.log.Warn("unlock failed", "data_dir", dataDir)
			if c.cooldown {
				cooldown, recordErr := c.recordFailedAttempt(dataDir)
				if recordErr != nil {
					c.log.Warn("failed to record unlock attempt", "err", recordErr)
				}
				if cooldown > 0 {
					return fmt.Errorf("%w: cooldown activated for %v", err, cooldown.Round(time.Second))
				}
			}
		}
		return err
	}

	db, err := c.openStore(ctx, dataDir)
	if err != nil {
		crypto.SecureWipe(key)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isUnlocked() {
		c.lockLocked()
	}
	c.sessionKey = key
	c.dataDir = dataDir
	c.db = db

	if c.cooldown {
		if err := c.clearLockState(dataDir); err != nil {
			c.log.Warn("failed to clear lock state", "err", err)
		}
	}

	if c.auditOn {
		logger := audit.NewLogger(filepath.Join(dataDir, AuditDirName))
		if err := logger.SetKey(key); err != nil {
			c.log.Warn("failed to initialize audit logger", "err", err)
		} else {
			c.audit = logger
			c.auditLog(audit.OpProfileUnlock, audit.ResultSuccess, "", nil)
		}
	}

	c.checkAndWarnPermissions(dataDir)
	c.log.Info("profile unlocked", "data_dir", dataDir)
	return nil
}

// Lock ends the session: the key is wiped and the database closed. Locking
// a locked Core does nothing.
func (c *Core) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockLocked()
}

// IsUnlocked reports whether a session is open.
func (c *Core) IsUnlocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isUnlocked()
}

// DataDir returns the unlocked profile's data directory, or "" when locked.
func (c *Core) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataDir
}

// AuditLogger returns the session's audit logger, or nil when locked or
// auditing is off.
func (c *Core) AuditLogger() *audit.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.audit
}

func (c *Core) isUnlocked() bool {
	return c.sessionKey != nil && c.db != nil
}

func (c *Core) requireUnlocked() error {
	if !c.isUnlocked() {
		return ErrProfileLocked
	}
	return nil
}

// lockLocked clears the session. Callers hold the write lock.
func (c *Core) lockLocked() {
	if c.audit != nil {
		if c.sessionKey != nil {
			c.auditLog(audit.OpProfileLock, audit.ResultSuccess, "", nil)
		}
		c.audit.Close()
		c.audit = nil
	}

	if c.sessionKey != nil {
		crypto.SecureWipe(c.sessionKey)
		c.sessionKey = nil
	}

	if c.db != nil {
		// Lock never fails: a close error is dropped here and nowhere else.
		if err := c.db.Close(); err != nil {
			c.log.Debug("row store close failed during lock", "err", err)
		}
		c.db = nil
	}

	if c.dataDir != "" {
		c.log.Info("profile locked", "data_dir", c.dataDir)
		c.dataDir = ""
	}
}

func (c *Core) openStore(ctx context.Context, dataDir string) (rowstore.Store, error) {
	db, err := c.opener.Open(ctx, filepath.Join(dataDir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("core: failed to open entry database: %w", err)
	}
	if err := rowstore.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("core: %w", err)
	}
	if err := c.files.Chmod(filepath.Join(dataDir, DBFileName), 0600); err != nil {
		c.log.Warn("failed to set database permissions", "err", err)
	}
	return db, nil
}

// checkAndWarnPermissions logs a warning for group or world accessible
// profile files. It never blocks the unlock.
func (c *Core) checkAndWarnPermissions(dataDir string) {
	if info, err := c.files.Stat(dataDir); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			c.log.Warn("data directory has insecure permissions", "perm", fmt.Sprintf("%04o", perm), "expected", "0700")
		}
	}
	for _, name := range []string{profile.FileName, DBFileName} {
		if info, err := c.files.Stat(filepath.Join(dataDir, name)); err == nil {
			if perm := info.Mode().Perm(); perm&0077 != 0 {
				c.log.Warn("file has insecure permissions", "file", name, "perm", fmt.Sprintf("%04o", perm), "expected", "0600")
			}
		}
	}
}
