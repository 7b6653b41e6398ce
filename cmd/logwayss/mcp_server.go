package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logwayss/logwayss/internal/mcp"
	"github.com/logwayss/logwayss/pkg/core"
	"github.com/logwayss/logwayss/pkg/rowstore"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI assistant integration",
	Long: `Start the MCP server that lets AI assistants read your log entries.

The server implements the Model Context Protocol (MCP) over stdio transport.
It is read-only: agents can list and read entries but never add or change
them.

Available tools:
  - entry_query: List entries with metadata, filtered by type, time and tags
  - entry_get:   Get one entry; the payload only if the policy allows it
  - entry_tags:  List tags with entry counts

Authentication:
  Set LOGWAYSS_PASSWORD environment variable before starting the server.
  The password is read once and immediately cleared from the environment.

  SECURITY NOTE: On Linux, the environment variable may briefly be visible
  via /proc/<pid>/environ before it is cleared.

Policy:
  Create ~/.logwayss/mcp-policy.yaml (mode 0600) to control what agents see:

    version: 1
    expose_payload: false      # entry_get returns payloads when true
    allowed_types: [text, log] # empty allows every type
    max_sensitivity: medium    # hides entries with meta.sensitivity above

  Without a policy file, metadata is visible and payloads are not.

Example MCP configuration (~/.claude.json):
  {
    "mcpServers": {
      "logwayss": {
        "type": "stdio",
        "command": "/path/to/logwayss",
        "args": ["mcp-server"],
        "env": {
          "LOGWAYSS_PASSWORD": "your-master-password"
        }
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer()
	},
}

func runMCPServer() error {
	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := mcp.NewServer(ctx, &mcp.ServerOptions{
		DataDir: cfg.DataDir,
		CoreOptions: []core.Option{
			core.WithKDFParams(cfg.KDF),
			core.WithCooldown(cfg.Security.Cooldown),
			core.WithAudit(cfg.Security.Audit),
			core.WithRowOpener(rowstore.SQLiteOpener{Synchronous: cfg.Storage.Synchronous}),
		},
		Logger:       logger,
		DefaultLimit: cfg.Query.DefaultLimit,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
			server.Close()
		case <-ctx.Done():
		}
	}()

	// Run the server
	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
