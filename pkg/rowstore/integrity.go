package rowstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// IntegrityResult is the outcome of CheckIntegrity.
type IntegrityResult struct {
	Valid       bool     `json:"valid"`
	DBIntegrity bool     `json:"db_integrity"`
	TablesFound []string `json:"tables_found,omitempty"`
	EntryCount  int64    `json:"entry_count"`
	Errors      []string `json:"errors,omitempty"`
}

// CheckIntegrity checks that path is a SQLite database that passes
// PRAGMA integrity_check and carries the entry tables. The file is copied
// to a scratch directory first so the original is never opened for writing
// and no -wal/-shm files appear next to it.
func CheckIntegrity(ctx context.Context, path string) (*IntegrityResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("rowstore: failed to stat %s: %w", filepath.Base(path), err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("rowstore: %s is a directory", filepath.Base(path))
	}

	scratch, err := os.MkdirTemp("", "rowstore-verify-*")
	if err != nil {
		return nil, fmt.Errorf("rowstore: failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	copyPath := filepath.Join(scratch, "verify.sqlite3")
	if err := copyFile(path, copyPath); err != nil {
		return nil, err
	}

	result := &IntegrityResult{}

	dsn, err := buildDSN(copyPath, []string{"query_only(1)", "busy_timeout(5000)"})
	if err != nil {
		return nil, err
	}
	s, err := openDSN(ctx, dsn)
	if err != nil {
		result.Errors = append(result.Errors, "failed to open database: "+err.Error())
		return result, nil
	}
	defer s.Close()

	row, err := s.Get(ctx, "PRAGMA integrity_check")
	if err != nil {
		result.Errors = append(result.Errors, "database integrity check failed: "+err.Error())
		return result, nil
	}
	if got := row.String("integrity_check"); got != "ok" {
		result.Errors = append(result.Errors, "database integrity check returned: "+got)
		return result, nil
	}
	result.DBIntegrity = true

	for _, table := range RequiredTables {
		_, err := s.Get(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
		if errors.Is(err, ErrNoRow) {
			result.Errors = append(result.Errors, "required table not found: "+table)
			continue
		}
		if err != nil {
			result.Errors = append(result.Errors, "failed to read schema: "+err.Error())
			continue
		}
		result.TablesFound = append(result.TablesFound, table)
	}

	if len(result.Errors) == 0 {
		row, err := s.Get(ctx, "SELECT COUNT(*) AS n FROM entries")
		if err != nil {
			result.Errors = append(result.Errors, "failed to count entries: "+err.Error())
		} else {
			result.EntryCount = row.Int("n")
		}
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("rowstore: failed to open %s: %w", filepath.Base(src), err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("rowstore: failed to create copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("rowstore: failed to copy database: %w", err)
	}
	return out.Close()
}
