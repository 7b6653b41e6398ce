package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/logwayss/logwayss/internal/mcp"
	"github.com/logwayss/logwayss/pkg/core"
	"github.com/logwayss/logwayss/pkg/crypto"
	"github.com/logwayss/logwayss/pkg/security"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

// initCmd creates a new profile
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Creates a new profile",
	Long: `Creates a new profile in the data directory.

The master password is never stored. Losing it makes every entry unreadable.
The profile stays locked afterwards; every other command asks for the
password again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Creating profile in %s...\n", cfg.DataDir)

		_, fromEnv := os.LookupEnv(mcp.PasswordEnv)

		// 1. Prompt for master password
		password, err := readPassword("Enter master password: ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)

		// 2. Confirm it, unless it came from the environment
		if !fromEnv {
			confirm, err := readPassword("Confirm master password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureWipe(confirm)
			if !bytes.Equal(password, confirm) {
				return errors.New("passwords do not match")
			}
		}

		// 3. Check strength. Only the length bounds are fatal.
		check := security.CheckMasterPassword(password)
		if !check.Valid {
			return fmt.Errorf("password validation failed: %s", check.Warnings[0])
		}
		fmt.Fprintf(out, "Password strength: %s\n", check.Strength)
		for _, w := range check.Warnings {
			warnf("%s", w)
		}

		// 4. Create the profile
		if err := newCore().CreateProfile(cmd.Context(), cfg.DataDir, password, cfg.KDF); err != nil {
			if errors.Is(err, core.ErrAlreadyExists) {
				return fmt.Errorf("a profile already exists in %s", cfg.DataDir)
			}
			return fmt.Errorf("failed to create profile: %w", err)
		}

		success(out, "Profile created. Unlock it with any command, e.g. 'logwayss query'.")
		return nil
	},
}
