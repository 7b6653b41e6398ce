package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/logwayss/logwayss/pkg/core"
	"github.com/logwayss/logwayss/pkg/entry"
	"github.com/logwayss/logwayss/pkg/record"
	"github.com/logwayss/logwayss/pkg/rowstore"
)

var importForce bool

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(verifyArchiveCmd)

	importCmd.Flags().BoolVarP(&importForce, "force", "f", false, "Skip confirmation prompt")
}

// exportCmd writes an archive of the entry database
var exportCmd = &cobra.Command{
	Use:   "export <file" + core.ArchiveSuffix + ">",
	Short: "Exports all entries to an archive file",
	Long: `Exports all entries to an archive file. Entries stay encrypted, so the
archive can only be read by a profile with the same master password and salt.
An existing file is never overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openProfile(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Lock()

		if err := c.ExportArchive(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, core.ErrAlreadyExists) {
				return fmt.Errorf("%s already exists", args[0])
			}
			return fmt.Errorf("failed to export archive: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Archive written to %s\n", args[0])
		return nil
	},
}

// importCmd replaces the entry database with an archive
var importCmd = &cobra.Command{
	Use:   "import <file" + core.ArchiveSuffix + ">",
	Short: "Replaces all entries with an archive",
	Long: `Replaces all entries with the contents of an archive.

The archive is verified first. Every entry currently in the profile is
discarded; export them first if you want to keep them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		// 1. Verify before asking for anything
		result, err := newCore().VerifyArchive(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to verify archive: %w", err)
		}
		if !result.Valid {
			printIntegrityResult(out, result)
			return errors.New("archive verification failed")
		}

		// 2. Confirm
		if !importForce {
			fmt.Fprintf(out, "This will replace all entries with %d entries from %s. Continue? [y/N]: ", result.EntryCount, args[0])
			if !confirmed(cmd.InOrStdin()) {
				fmt.Fprintln(out, "Import cancelled.")
				return nil
			}
		}

		// 3. Unlock and replace
		c, err := openProfile(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Lock()

		if err := c.ImportArchive(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to import archive: %w", err)
		}

		// 4. Entries sealed under another key fail here, not at import
		if _, err := c.Query(cmd.Context(), entry.Filter{}, &entry.Pagination{Limit: 1}); errors.Is(err, record.ErrIntegrity) {
			warnf("imported entries do not decrypt with this profile's key; the archive may come from another profile")
		}

		fmt.Fprintf(out, "Imported %d entries.\n", result.EntryCount)
		return nil
	},
}

// verifyArchiveCmd checks an archive without importing it
var verifyArchiveCmd = &cobra.Command{
	Use:   "verify-archive <file" + core.ArchiveSuffix + ">",
	Short: "Checks that an archive is an intact entry database",
	Long: `Checks that an archive is an intact entry database. No password is
needed; the entries themselves are not decrypted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newCore().VerifyArchive(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to verify archive: %w", err)
		}
		printIntegrityResult(cmd.OutOrStdout(), result)
		if !result.Valid {
			return errors.New("archive verification failed")
		}
		return nil
	},
}

func printIntegrityResult(w io.Writer, result *rowstore.IntegrityResult) {
	if result.Valid {
		success(w, "Archive verified: %d entries", result.EntryCount)
		return
	}
	failure(w, "Archive verification FAILED")
	fmt.Fprintf(w, "  Database integrity: %v\n", result.DBIntegrity)
	if len(result.TablesFound) > 0 {
		fmt.Fprintf(w, "  Tables found: %s\n", strings.Join(result.TablesFound, ", "))
	}
	fmt.Fprintln(w, "  Errors:")
	for _, e := range result.Errors {
		fmt.Fprintf(w, "    - %s\n", e)
	}
}

// confirmed reads one line and reports whether it was y or yes.
func confirmed(r io.Reader) bool {
	line, _ := bufio.NewReader(r).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
