package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/logwayss/logwayss/pkg/fsstore"
)

// Audit flags
var (
	auditLimit int
	auditSince string
)

// Audit export flags
var (
	auditExportFormat string
	auditExportSince  string
	auditExportUntil  string
	auditExportOutput string
)

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h, 7d)")

	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "json", "Output format: json, csv")
	auditExportCmd.Flags().StringVar(&auditExportSince, "since", "", "Export events since duration (e.g., 30d)")
	auditExportCmd.Flags().StringVar(&auditExportUntil, "until", "", "Export events until date (RFC 3339)")
	auditExportCmd.Flags().StringVarP(&auditExportOutput, "output", "o", "", "Output file path (default: stdout)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspects the audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Parse since duration
		since, err := sinceTime(auditSince)
		if err != nil {
			return err
		}

		// 2. Unlock to get the audit key
		c, err := openProfile(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Lock()

		if c.AuditLogger() == nil {
			return errors.New("audit log is disabled (security.audit)")
		}

		// 3. Get audit events
		events, err := c.AuditLogger().ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No audit events found")
			return nil
		}

		// 4. Display events
		for _, event := range events {
			// Format: TIMESTAMP OPERATION SOURCE RESULT [SUBJECT]
			line := fmt.Sprintf("%s %s %s %s", event.Timestamp, event.Operation, event.Source, event.Result)
			if event.Subject != "" {
				subject := event.Subject
				if len(subject) > 16 {
					subject = subject[:16] + "..."
				}
				line += " subject:" + subject
			}
			if event.Error != nil {
				line += " error:" + event.Error.Code
			}
			fmt.Fprintln(out, line)
		}

		fmt.Fprintf(out, "\nTotal: %d events\n", len(events))
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openProfile(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Lock()

		if c.AuditLogger() == nil {
			return errors.New("audit log is disabled (security.audit)")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Verifying audit log integrity...")

		result, err := c.AuditLogger().Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		if !result.Valid {
			failure(out, "Audit log verification FAILED")
			fmt.Fprintf(out, "  Records total: %d\n", result.RecordsTotal)
			fmt.Fprintf(out, "  Records verified: %d\n", result.RecordsVerified)
			fmt.Fprintln(out, "  Errors:")
			for _, e := range result.Errors {
				fmt.Fprintf(out, "    - %s\n", e)
			}
			return errors.New("audit log integrity check failed")
		}
		success(out, "Audit log verified: %d records, chain intact", result.RecordsTotal)

		// Also output as JSON for machine parsing
		jsonResult, _ := json.Marshal(result)
		fmt.Fprintf(out, "\nJSON: %s\n", jsonResult)
		return nil
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit logs to JSON or CSV format",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Validate flags before unlocking
		if auditExportFormat != "json" && auditExportFormat != "csv" {
			return fmt.Errorf("invalid format: %s (use 'json' or 'csv')", auditExportFormat)
		}
		since, err := sinceTime(auditExportSince)
		if err != nil {
			return err
		}
		var until time.Time
		if auditExportUntil != "" {
			until, err = time.Parse(time.RFC3339, auditExportUntil)
			if err != nil {
				return fmt.Errorf("invalid until format (use RFC 3339): %w", err)
			}
		}

		// 2. Unlock and export
		c, err := openProfile(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Lock()

		if c.AuditLogger() == nil {
			return errors.New("audit log is disabled (security.audit)")
		}

		data, err := c.AuditLogger().Export(auditExportFormat, since, until)
		if err != nil {
			return fmt.Errorf("failed to export audit logs: %w", err)
		}

		// 3. Output to file or stdout
		if auditExportOutput == "" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		absPath, err := filepath.Abs(auditExportOutput)
		if err != nil {
			return fmt.Errorf("invalid output path: %w", err)
		}
		if err := fsstore.NewOS().WriteFile(absPath, data, fsstore.FileMode); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Audit logs exported to %s\n", absPath)
		return nil
	},
}

// sinceTime converts a --since duration into an absolute time. Empty means
// the zero time.
func sinceTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since format: %w", err)
	}
	return time.Now().Add(-d), nil
}
