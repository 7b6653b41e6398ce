package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/logwayss/logwayss/pkg/core"
	"github.com/logwayss/logwayss/pkg/crypto"
	"github.com/logwayss/logwayss/pkg/entry"
)

const testPassword = "testpassword123"

var testKDF = crypto.KDFParams{N: 1 << 10, R: 8, P: 1, KeyLen: 32}

// testProfile creates a profile holding entries and returns its directory.
func testProfile(t *testing.T, entries ...entry.New) string {
	t.Helper()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "profile")

	c := core.New(core.WithKDFParams(testKDF))
	if err := c.CreateProfile(ctx, dir, []byte(testPassword), crypto.KDFParams{}); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}
	if err := c.UnlockProfile(ctx, dir, []byte(testPassword)); err != nil {
		t.Fatalf("UnlockProfile() error = %v", err)
	}
	defer c.Lock()
	for _, n := range entries {
		if _, err := c.CreateEntry(ctx, n); err != nil {
			t.Fatalf("CreateEntry() error = %v", err)
		}
	}
	return dir
}

func testServer(t *testing.T, dir string) *Server {
	t.Helper()
	s, err := NewServer(context.Background(), &ServerOptions{
		DataDir:  dir,
		Password: []byte(testPassword),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestPolicy(t *testing.T, dir, content string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("policy file modes are not enforced on windows")
	}
	writePolicy(t, dir, content, 0600)
}

func newEntry(typ entry.Type, text string, tags []string, sensitivity string) entry.New {
	n := entry.New{
		Type:    typ,
		Tags:    tags,
		Payload: json.RawMessage(`{"text":"` + text + `"}`),
	}
	if sensitivity != "" {
		n.Meta = entry.Meta{entry.MetaSensitivity: sensitivity}
	}
	return n
}

func TestNewServer_NoPassword(t *testing.T) {
	dir := testProfile(t)
	t.Setenv(PasswordEnv, "")

	_, err := NewServer(context.Background(), &ServerOptions{DataDir: dir})
	if err == nil {
		t.Fatal("NewServer() error = nil, want error when no password provided")
	}
}

func TestNewServer_NoDataDir(t *testing.T) {
	if _, err := NewServer(context.Background(), nil); err == nil {
		t.Error("NewServer(nil) error = nil, want error")
	}
}

func TestNewServer_InvalidPassword(t *testing.T) {
	dir := testProfile(t)

	_, err := NewServer(context.Background(), &ServerOptions{
		DataDir:  dir,
		Password: []byte("wrongpassword"),
	})
	if !errors.Is(err, core.ErrInvalidCredentials) {
		t.Errorf("NewServer() error = %v, want %v", err, core.ErrInvalidCredentials)
	}
}

func TestNewServer_FromEnvironment(t *testing.T) {
	dir := testProfile(t)
	t.Setenv(PasswordEnv, testPassword)

	s, err := NewServer(context.Background(), &ServerOptions{DataDir: dir})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	defer s.Close()

	if _, ok := os.LookupEnv(PasswordEnv); ok {
		t.Errorf("%s still set after NewServer", PasswordEnv)
	}
	if !s.core.IsUnlocked() {
		t.Error("profile not unlocked")
	}
}

func TestNewServer_DefaultPolicyWhenMissing(t *testing.T) {
	s := testServer(t, testProfile(t))
	if s.policy.ExposePayload || s.policy.Restricts() {
		t.Errorf("policy = %+v, want default", s.policy)
	}
}

func TestNewServer_InsecurePolicyFallsBack(t *testing.T) {
	dir := testProfile(t)
	writePolicy(t, dir, "version: 1\nexpose_payload: true\n", 0644)

	s := testServer(t, dir)
	if s.policy.ExposePayload {
		t.Error("insecure policy file was honoured")
	}
}

func TestServer_Close(t *testing.T) {
	s := testServer(t, testProfile(t))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.core.IsUnlocked() {
		t.Error("profile still unlocked after Close")
	}
}

func TestHandleEntryQuery_Empty(t *testing.T) {
	s := testServer(t, testProfile(t))

	_, out, err := s.handleEntryQuery(context.Background(), nil, EntryQueryInput{})
	if err != nil {
		t.Fatalf("handleEntryQuery() error = %v", err)
	}
	if out.Entries == nil || len(out.Entries) != 0 {
		t.Errorf("Entries = %v, want empty non-nil slice", out.Entries)
	}
}

func TestHandleEntryQuery_Filters(t *testing.T) {
	dir := testProfile(t,
		newEntry(entry.TypeText, "a", []string{"work", "idea"}, ""),
		newEntry(entry.TypeLog, "b", []string{"work"}, ""),
		newEntry(entry.TypeText, "c", nil, ""),
	)
	s := testServer(t, dir)
	ctx := context.Background()

	tests := []struct {
		name  string
		input EntryQueryInput
		want  int
	}{
		{"all", EntryQueryInput{}, 3},
		{"by type", EntryQueryInput{Type: "text"}, 2},
		{"by tags", EntryQueryInput{Tags: []string{"work", "idea"}}, 1},
		{"limit", EntryQueryInput{Limit: 2}, 2},
		{"offset", EntryQueryInput{Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out, err := s.handleEntryQuery(ctx, nil, tt.input)
			if err != nil {
				t.Fatalf("handleEntryQuery() error = %v", err)
			}
			if len(out.Entries) != tt.want {
				t.Errorf("got %d entries, want %d", len(out.Entries), tt.want)
			}
			for _, e := range out.Entries {
				if e.Payload != nil {
					t.Errorf("entry %s carries a payload", e.ID)
				}
			}
		})
	}

	if _, _, err := s.handleEntryQuery(ctx, nil, EntryQueryInput{Type: "bogus"}); !errors.Is(err, entry.ErrValidation) {
		t.Errorf("handleEntryQuery(bogus type) error = %v, want %v", err, entry.ErrValidation)
	}
	if _, _, err := s.handleEntryQuery(ctx, nil, EntryQueryInput{Limit: -1}); !errors.Is(err, entry.ErrValidation) {
		t.Errorf("handleEntryQuery(limit -1) error = %v, want %v", err, entry.ErrValidation)
	}
}

func TestHandleEntryQuery_Policy(t *testing.T) {
	dir := testProfile(t,
		newEntry(entry.TypeText, "a", nil, "low"),
		newEntry(entry.TypeText, "b", nil, "high"),
		newEntry(entry.TypeLog, "c", nil, ""),
		newEntry(entry.TypeText, "d", nil, ""),
	)
	createTestPolicy(t, dir, "version: 1\nallowed_types: [text]\nmax_sensitivity: medium\n")
	s := testServer(t, dir)
	ctx := context.Background()

	_, out, err := s.handleEntryQuery(ctx, nil, EntryQueryInput{})
	if err != nil {
		t.Fatalf("handleEntryQuery() error = %v", err)
	}
	if len(out.Entries) != 2 {
		t.Fatalf("got %d entries, want 2 (text entries at or below medium)", len(out.Entries))
	}

	// Paging applies to the visible entries.
	_, out, err = s.handleEntryQuery(ctx, nil, EntryQueryInput{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("handleEntryQuery() error = %v", err)
	}
	if len(out.Entries) != 1 {
		t.Errorf("got %d entries, want 1", len(out.Entries))
	}

	if _, _, err := s.handleEntryQuery(ctx, nil, EntryQueryInput{Type: "log"}); err == nil {
		t.Error("handleEntryQuery(type log) error = nil, want policy error")
	}
}

func firstID(t *testing.T, s *Server) string {
	t.Helper()
	_, out, err := s.handleEntryQuery(context.Background(), nil, EntryQueryInput{Limit: 1})
	if err != nil || len(out.Entries) == 0 {
		t.Fatalf("handleEntryQuery() = %v, %v", out.Entries, err)
	}
	return out.Entries[0].ID
}

func TestHandleEntryGet_Redacted(t *testing.T) {
	s := testServer(t, testProfile(t, newEntry(entry.TypeText, "secret", []string{"x"}, "")))
	id := firstID(t, s)

	_, out, err := s.handleEntryGet(context.Background(), nil, EntryGetInput{ID: id})
	if err != nil {
		t.Fatalf("handleEntryGet() error = %v", err)
	}
	if !out.PayloadRedacted || out.Entry.Payload != nil {
		t.Errorf("payload exposed without policy: %+v", out)
	}
	if out.Entry.ID != id || len(out.Entry.Tags) != 1 {
		t.Errorf("Entry = %+v, want id %s with one tag", out.Entry, id)
	}
}

func TestHandleEntryGet_ExposePayload(t *testing.T) {
	dir := testProfile(t, newEntry(entry.TypeText, "hello", nil, ""))
	createTestPolicy(t, dir, "version: 1\nexpose_payload: true\n")
	s := testServer(t, dir)
	id := firstID(t, s)

	_, out, err := s.handleEntryGet(context.Background(), nil, EntryGetInput{ID: id})
	if err != nil {
		t.Fatalf("handleEntryGet() error = %v", err)
	}
	payload, ok := out.Entry.Payload.(map[string]any)
	if !ok || payload["text"] != "hello" {
		t.Errorf("Payload = %v, want text hello", out.Entry.Payload)
	}
}

func TestHandleEntryGet_HiddenLooksMissing(t *testing.T) {
	dir := testProfile(t, newEntry(entry.TypeLog, "x", nil, ""))
	s := testServer(t, dir)
	id := firstID(t, s)

	// Tighten the policy after the id is known.
	s.policy = &Policy{Version: 1, AllowedTypes: []string{"text"}}

	_, _, err := s.handleEntryGet(context.Background(), nil, EntryGetInput{ID: id})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("handleEntryGet() error = %v, want %v", err, core.ErrNotFound)
	}
}

func TestHandleEntryGet_Errors(t *testing.T) {
	s := testServer(t, testProfile(t))
	ctx := context.Background()

	if _, _, err := s.handleEntryGet(ctx, nil, EntryGetInput{}); err == nil {
		t.Error("handleEntryGet(empty id) error = nil")
	}
	if _, _, err := s.handleEntryGet(ctx, nil, EntryGetInput{ID: "missing"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("handleEntryGet(missing) error = %v, want %v", err, core.ErrNotFound)
	}
}

func TestHandleEntryTags(t *testing.T) {
	dir := testProfile(t,
		newEntry(entry.TypeText, "a", []string{"x", "y"}, ""),
		newEntry(entry.TypeLog, "b", []string{"x"}, ""),
	)
	s := testServer(t, dir)
	ctx := context.Background()

	_, out, err := s.handleEntryTags(ctx, nil, EntryTagsInput{})
	if err != nil {
		t.Fatalf("handleEntryTags() error = %v", err)
	}
	want := []core.TagCount{{Tag: "x", Count: 2}, {Tag: "y", Count: 1}}
	if len(out.Tags) != len(want) || out.Tags[0] != want[0] || out.Tags[1] != want[1] {
		t.Errorf("Tags = %v, want %v", out.Tags, want)
	}

	s.policy = &Policy{Version: 1, AllowedTypes: []string{"log"}}
	_, out, err = s.handleEntryTags(ctx, nil, EntryTagsInput{})
	if err != nil {
		t.Fatalf("handleEntryTags() error = %v", err)
	}
	if len(out.Tags) != 1 || out.Tags[0] != (core.TagCount{Tag: "x", Count: 1}) {
		t.Errorf("Tags under policy = %v, want [x:1]", out.Tags)
	}
}

func TestPaginate(t *testing.T) {
	entries := []*entry.Entry{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	tests := []struct {
		page entry.Pagination
		want int
	}{
		{entry.Pagination{}, 3},
		{entry.Pagination{Limit: 2}, 2},
		{entry.Pagination{Offset: 1}, 2},
		{entry.Pagination{Limit: 5, Offset: 2}, 1},
		{entry.Pagination{Offset: 3}, 0},
	}
	for _, tt := range tests {
		if got := paginate(entries, tt.page); len(got) != tt.want {
			t.Errorf("paginate(%+v) = %d entries, want %d", tt.page, len(got), tt.want)
		}
	}
}
