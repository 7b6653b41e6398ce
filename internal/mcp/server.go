// Package mcp implements the MCP (Model Context Protocol) server for logwayss.
// Agents can list and read entries; what they see is limited by the policy in
// the data directory, and payloads stay hidden unless the policy exposes them.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/logwayss/logwayss/internal/logging"
	"github.com/logwayss/logwayss/pkg/audit"
	"github.com/logwayss/logwayss/pkg/core"
	"github.com/logwayss/logwayss/pkg/crypto"
)

// PasswordEnv is read (and then unset) when no password is passed in.
const PasswordEnv = "LOGWAYSS_PASSWORD"

// defaultQueryLimit applies when neither the caller nor the config sets one.
const defaultQueryLimit = 50

// Server represents the MCP server for logwayss.
type Server struct {
	server       *mcp.Server
	core         *core.Core
	dataDir      string
	policy       *Policy
	log          *slog.Logger
	defaultLimit int
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// DataDir is the profile directory. Required.
	DataDir string

	// Password unlocks the profile and is wiped afterwards. If empty,
	// PasswordEnv is used.
	Password []byte

	// CoreOptions are passed to core.New after the MCP audit source.
	CoreOptions []core.Option

	Logger       *slog.Logger
	DefaultLimit int
	Version      string
}

// NewServer unlocks the profile and registers the tools.
func NewServer(ctx context.Context, opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.DataDir == "" {
		return nil, errors.New("mcp: data directory is required")
	}

	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	policy, err := LoadPolicy(opts.DataDir)
	if err != nil {
		if !errors.Is(err, ErrPolicyNotFound) {
			// An unusable policy file falls back to the default, which
			// never exposes payloads.
			log.Warn("failed to load MCP policy, using default", "err", err)
		}
		policy = DefaultPolicy()
	}

	password := opts.Password
	if len(password) == 0 {
		password = []byte(os.Getenv(PasswordEnv))
		os.Unsetenv(PasswordEnv)
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("mcp: no password provided: set %s environment variable", PasswordEnv)
	}
	defer crypto.SecureWipe(password)

	coreOpts := append([]core.Option{core.WithAuditSource(audit.SourceMCP), core.WithLogger(log)}, opts.CoreOptions...)
	c := core.New(coreOpts...)
	if err := c.UnlockProfile(ctx, opts.DataDir, password); err != nil {
		return nil, fmt.Errorf("mcp: failed to unlock profile: %w", err)
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "logwayss",
			Version: version,
		},
		nil,
	)

	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	s := &Server{
		server:       mcpServer,
		core:         c,
		dataDir:      opts.DataDir,
		policy:       policy,
		log:          log,
		defaultLimit: limit,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "entry_query",
		Description: "List entries newest first, filtered by type, time range and tags (all listed tags must match). " +
			"Returns metadata only, never payloads.",
	}, s.handleEntryQuery)

	payloadNote := "Payloads are not returned under the current policy."
	if s.policy.ExposePayload {
		payloadNote = "The decrypted payload is included and becomes part of the conversation context."
	}
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "entry_get",
		Description: "Get one entry by id. " + payloadNote,
	}, s.handleEntryGet)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "entry_tags",
		Description: "List tags in use with the number of entries carrying each.",
	}, s.handleEntryTags)
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	defer s.core.Lock()

	s.log.Info("mcp server started", "data_dir", s.dataDir)
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close locks the profile.
func (s *Server) Close() error {
	s.core.Lock()
	return nil
}
