package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/logwayss/logwayss/internal/config"
	"github.com/logwayss/logwayss/internal/logging"
	"github.com/logwayss/logwayss/internal/mcp"
	"github.com/logwayss/logwayss/pkg/audit"
	"github.com/logwayss/logwayss/pkg/core"
	"github.com/logwayss/logwayss/pkg/crypto"
	"github.com/logwayss/logwayss/pkg/rowstore"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	dataDirFlag string
	cfg         *config.Config
	logger      *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "logwayss",
	Short: "logwayss is an encrypted personal log",
	Long: `logwayss keeps typed, tagged log entries in a local profile.
Every payload is encrypted with a key derived from your master password.`,
	SilenceUsage: true,
	// PersistentPreRunE runs before the root command and all subcommands.
	// It loads the configuration and builds the logger.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "completion", "version", "help":
			return nil
		}

		var err error
		cfg, err = config.Load(dataDirFlag)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the logwayss version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "logwayss %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Profile directory (default: ~/.logwayss, env: LOGWAYSS_DATA_DIR)")

	rootCmd.AddCommand(versionCmd)
}

// newCore builds a Core from the loaded configuration.
func newCore() *core.Core {
	return core.New(
		core.WithLogger(logger),
		core.WithKDFParams(cfg.KDF),
		core.WithCooldown(cfg.Security.Cooldown),
		core.WithAudit(cfg.Security.Audit),
		core.WithAuditSource(audit.SourceCLI),
		core.WithRowOpener(rowstore.SQLiteOpener{Synchronous: cfg.Storage.Synchronous}),
	)
}

// openProfile prompts for the master password and unlocks the profile.
// Callers must Lock the returned Core.
func openProfile(ctx context.Context) (*core.Core, error) {
	password, err := readPassword("Enter master password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(password)

	c := newCore()
	if err := c.UnlockProfile(ctx, cfg.DataDir, password); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("no profile in %s: run 'logwayss init' first", cfg.DataDir)
		}
		return nil, fmt.Errorf("failed to unlock profile: %w", err)
	}
	return c, nil
}

// readPassword takes the password from LOGWAYSS_PASSWORD, unsetting it, or
// prompts on the terminal.
func readPassword(prompt string) ([]byte, error) {
	if pw, ok := os.LookupEnv(mcp.PasswordEnv); ok {
		os.Unsetenv(mcp.PasswordEnv)
		return []byte(pw), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("stdin is not a terminal: set %s to supply the password", mcp.PasswordEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// parseDuration extends time.ParseDuration with d (days), w (weeks),
// m (30-day months) and y (365-day years).
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var days int
	switch unit {
	case 'd':
		days = 1
	case 'w':
		days = 7
	case 'm':
		days = 30
	case 'y':
		days = 365
	default:
		return time.ParseDuration(s)
	}

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative duration: %s", s)
	}
	return time.Duration(value*days) * 24 * time.Hour, nil
}
