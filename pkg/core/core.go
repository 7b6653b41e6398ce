// Package core is the logwayss session: it unlocks a profile, holds the
// session key while unlocked, and runs every entry and archive operation
// through the authenticated record codec.
//
// A Core is one session. Its state is guarded by a sync.RWMutex: entry reads
// and writes share the read lock, while unlock, lock and archive operations
// take the write lock. Key derivation happens before the write lock is taken,
// so IsUnlocked and running queries are never blocked behind the KDF.
package core

import (
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/logwayss/logwayss/pkg/audit"
	"github.com/logwayss/logwayss/pkg/crypto"
	"github.com/logwayss/logwayss/pkg/fsstore"
	"github.com/logwayss/logwayss/pkg/rowstore"
)

// File names inside a data directory.
const (
	DBFileName    = "db.sqlite3"
	AuditDirName  = "audit"
	ArchiveSuffix = ".lwx"
)

// Core is a single profile session.
type Core struct {
	mu sync.RWMutex

	files  fsstore.Store
	opener rowstore.Opener
	prims  crypto.Primitives
	log    *slog.Logger
	now    func() time.Time

	kdf         crypto.KDFParams
	cooldown    bool
	auditOn     bool
	auditSource string

	// Session state, set by UnlockProfile and cleared by Lock.
	sessionKey []byte
	dataDir    string
	db         rowstore.Store
	audit      *audit.Logger

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures a Core.
type Option func(*Core)

// WithFileStore replaces the OS file store.
func WithFileStore(fs fsstore.Store) Option {
	return func(c *Core) { c.files = fs }
}

// WithRowOpener replaces the SQLite opener.
func WithRowOpener(o rowstore.Opener) Option {
	return func(c *Core) { c.opener = o }
}

// WithPrimitives replaces the crypto primitives.
func WithPrimitives(p crypto.Primitives) Option {
	return func(c *Core) { c.prims = p }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) { c.log = l }
}

// WithClock sets the time source for entry timestamps and cooldowns.
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

// WithKDFParams sets the parameters used by CreateProfile when the caller
// passes none. Zero fields take the defaults.
func WithKDFParams(p crypto.KDFParams) Option {
	return func(c *Core) { c.kdf = p.WithDefaults() }
}

// WithCooldown enables or disables the failed-unlock cooldown.
func WithCooldown(enabled bool) Option {
	return func(c *Core) { c.cooldown = enabled }
}

// WithAudit enables or disables the audit log.
func WithAudit(enabled bool) Option {
	return func(c *Core) { c.auditOn = enabled }
}

// WithAuditSource sets the source recorded on audit events (cli, mcp, api).
func WithAuditSource(source string) Option {
	return func(c *Core) { c.auditSource = source }
}

// New returns a locked Core.
func New(opts ...Option) *Core {
	c := &Core{
		files:       fsstore.NewOS(),
		opener:      rowstore.SQLiteOpener{},
		prims:       crypto.Default{},
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		kdf:         crypto.DefaultKDFParams(),
		cooldown:    true,
		auditOn:     true,
		auditSource: audit.SourceAPI,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newID returns a ULID for t, monotonic within this Core.
func (c *Core) newID(t time.Time) (string, error) {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), c.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// auditLog records an event if auditing is on and a session is open.
// Failures are logged and never fail the caller. Callers hold c.mu.
func (c *Core) auditLog(op, result, subject string, fields map[string]any) {
	if c.audit == nil {
		return
	}
	var errInfo *audit.ErrorInfo
	if result == audit.ResultError {
		errInfo = &audit.ErrorInfo{Code: op}
	}
	if err := c.audit.Log(op, c.auditSource, result, subject, errInfo, fields); err != nil {
		c.log.Warn("audit log write failed", "op", op, "err", err)
	}
}
