// Package audit provides audit logging with HMAC chain for tamper detection.
//
// Events are appended to monthly JSONL files under the audit directory. Each
// event carries an HMAC over its fields and the previous event's HMAC, so
// removing, reordering or editing a record breaks the chain. The HMAC key is
// derived from the session key, so the log can only be written and verified
// while a profile is unlocked.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/logwayss/logwayss/pkg/crypto"
	"github.com/logwayss/logwayss/pkg/fsstore"
)

// MinAuditDiskSpace is the free space required before appending an event.
const MinAuditDiskSpace = 1024 * 1024

// Operation types for audit logging
const (
	OpProfileCreate       = "profile.create"
	OpProfileUnlock       = "profile.unlock"
	OpProfileUnlockFailed = "profile.unlock_failed"
	OpProfileLock         = "profile.lock"

	OpEntryCreate = "entry.create"
	OpEntryGet    = "entry.get"
	OpEntryQuery  = "entry.query"

	OpArchiveExport = "archive.export"
	OpArchiveImport = "archive.import"
)

// Source identifies where the operation originated
const (
	SourceCLI = "cli"
	SourceMCP = "mcp"
	SourceAPI = "api"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

const (
	metaFileName = "audit.meta"
	genesisHash  = "genesis"
	hkdfInfo     = "logwayss-audit-v1"
)

var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit log record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"` // ULID
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision

	Operation string `json:"op"`
	// Subject is the HMAC of the entry id, never the id itself.
	Subject   string `json:"subject,omitempty"`
	Source    string `json:"source"`
	SessionID string `json:"session_id"`

	Result  string         `json:"result"`
	Error   *ErrorInfo     `json:"error,omitempty"`
	Context map[string]any `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain provides HMAC chain for tamper detection
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// ChainState holds the persistent chain state
type ChainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Logger handles audit log writing with HMAC chain
type Logger struct {
	path      string
	files     fsstore.Store
	hmacKey   []byte
	mu        sync.Mutex
	sequence  int64
	prevHash  string
	sessionID string
	now       func() time.Time
}

// NewLogger creates a logger writing under path. It cannot log until SetKey
// is called.
func NewLogger(path string) *Logger {
	return &Logger{
		path:      path,
		files:     &fsstore.OS{MinFree: MinAuditDiskSpace},
		prevHash:  genesisHash,
		sessionID: ulid.Make().String(),
		now:       time.Now,
	}
}

// SetKey derives the HMAC key from the session key using HKDF-SHA256 and
// loads the persisted chain state.
func (l *Logger) SetKey(sessionKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, sessionKey, nil, []byte(hkdfInfo))
	if _, err := r.Read(key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKey = key

	if err := l.loadChainState(); err != nil {
		// First run, or an unreadable meta file: start a new chain.
		l.sequence = 0
		l.prevHash = genesisHash
	}
	return nil
}

// Close wipes the HMAC key. The logger can be re-keyed with SetKey.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hmacKey != nil {
		crypto.SecureWipe(l.hmacKey)
		l.hmacKey = nil
	}
}

// Log records an audit event. subject, when non-empty, is stored as an HMAC.
func (l *Logger) Log(op, source, result, subject string, errInfo *ErrorInfo, fields map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}

	if err := l.files.MkdirAll(l.path, fsstore.DirMode); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	now := l.now().UTC()
	event := Event{
		Version:   1,
		ID:        ulid.Make().String(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		Source:    source,
		SessionID: l.sessionID,
		Result:    result,
		Error:     errInfo,
		Context:   fields,
	}
	if subject != "" {
		event.Subject = l.mac([]byte(subject))
	}

	event.Chain.Sequence = l.sequence + 1
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.mac(buildRecordData(&event))

	if err := l.writeEvent(&event, now); err != nil {
		return err
	}

	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC
	return l.saveChainState()
}

// LogSuccess is a convenience method for successful operations
func (l *Logger) LogSuccess(op, source, subject string) error {
	return l.Log(op, source, ResultSuccess, subject, nil, nil)
}

// LogError is a convenience method for failed operations
func (l *Logger) LogError(op, source, subject, errCode, errMsg string) error {
	return l.Log(op, source, ResultError, subject, &ErrorInfo{Code: errCode, Message: errMsg}, nil)
}

func (l *Logger) mac(data []byte) string {
	m := hmac.New(sha256.New, l.hmacKey)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// buildRecordData serializes every significant field for the HMAC. Context
// keys are sorted so the result is deterministic.
func buildRecordData(event *Event) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%s|%s|%s|",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Subject,
		event.Source,
		event.SessionID,
		event.Result,
	)
	if event.Error != nil {
		fmt.Fprintf(&b, "%s|%s", event.Error.Code, event.Error.Message)
	}
	b.WriteByte('|')

	keys := make([]string, 0, len(event.Context))
	for k := range event.Context {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v|", k, event.Context[k])
	}

	fmt.Fprintf(&b, "|%d|%s", event.Chain.Sequence, event.Chain.PrevHash)
	return b.Bytes()
}

// writeEvent appends an event to the month's log file.
func (l *Logger) writeEvent(event *Event, now time.Time) error {
	if info, err := fsstore.CheckDiskSpace(l.path); err == nil && info.Available < MinAuditDiskSpace {
		return fmt.Errorf("%w: only %d bytes available for audit log", fsstore.ErrInsufficientDisk, info.Available)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}

	name := filepath.Join(l.path, now.Format("2006-01")+".jsonl")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fsstore.FileMode)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadChainState() error {
	data, err := l.files.ReadFile(filepath.Join(l.path, metaFileName))
	if err != nil {
		return err
	}
	var state ChainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(ChainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := l.files.WriteFile(filepath.Join(l.path, metaFileName), data, fsstore.FileMode); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify walks every log file in order and checks sequence numbers, the
// previous-hash links and each record's HMAC.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesisHash
	var expectedSeq int64 = 1

	for i := range events {
		event := &events[i]
		result.RecordsTotal++

		if event.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d",
				event.ID, expectedSeq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != expectedPrev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s: expected prev %s, got %s",
				event.ID, expectedPrev, event.Chain.PrevHash))
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.mac(buildRecordData(event)))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		} else {
			result.RecordsVerified++
		}

		expectedPrev = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}

	if result.RecordsTotal > 0 && (l.sequence != expectedSeq-1 || l.prevHash != expectedPrev) {
		result.Valid = false
		result.Errors = append(result.Errors, "chain state does not match the last record: records may have been truncated")
	}
	return result, nil
}

// ListEvents returns audit events, oldest first.
// limit: maximum number of events to return, most recent kept (0 = all)
// since: only return events after this time (zero = no filter)
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	filtered := filterByTime(events, since, time.Time{})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// Export renders events between since and until as "json" or "csv".
// Zero times mean no bound.
func (l *Logger) Export(format string, since, until time.Time) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	events = filterByTime(events, since, until)

	switch format {
	case "json":
		return json.MarshalIndent(events, "", "  ")
	case "csv":
		return formatCSV(events)
	default:
		return nil, fmt.Errorf("audit: unsupported format: %s", format)
	}
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

// readAll reads every event from the log files in chronological order.
func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl names sort chronologically.
	slices.Sort(files)

	var events []Event
	for _, file := range files {
		fileEvents, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", filepath.Base(file), err)
		}
		events = append(events, fileEvents...)
	}
	return events, nil
}

func readLogFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}
	return events, sc.Err()
}

func filterByTime(events []Event, since, until time.Time) []Event {
	if since.IsZero() && until.IsZero() {
		return events
	}
	var out []Event
	for _, event := range events {
		ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
		if err != nil {
			continue
		}
		if !since.IsZero() && !ts.After(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		out = append(out, event)
	}
	return out
}

// formatCSV writes events as CSV. Fields that a spreadsheet would read as
// a formula are prefixed with a quote.
func formatCSV(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"timestamp", "operation", "source", "result", "subject"}); err != nil {
		return nil, err
	}
	for _, event := range events {
		subject := event.Subject
		if len(subject) > 16 {
			subject = subject[:16] + "..."
		}
		row := []string{event.Timestamp, event.Operation, event.Source, event.Result, subject}
		for i, field := range row {
			row[i] = defuseFormula(field)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func defuseFormula(field string) string {
	if field == "" {
		return field
	}
	switch field[0] {
	case '=', '+', '-', '@':
		return "'" + field
	}
	return field
}
