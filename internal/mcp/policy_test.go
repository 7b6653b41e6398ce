package mcp

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/logwayss/logwayss/pkg/entry"
)

func writePolicy(t *testing.T, dir, content string, perm os.FileMode) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, PolicyFileName), []byte(content), perm); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
	// WriteFile is subject to the umask only on create.
	if err := os.Chmod(filepath.Join(dir, PolicyFileName), perm); err != nil {
		t.Fatalf("failed to chmod policy file: %v", err)
	}
}

func TestLoadPolicy_NotFound(t *testing.T) {
	_, err := LoadPolicy(t.TempDir())
	if !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("LoadPolicy() error = %v, want %v", err, ErrPolicyNotFound)
	}
}

func TestLoadPolicy_Success(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not enforced on windows")
	}
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, `version: 1
expose_payload: true
allowed_types:
  - text
  - log
max_sensitivity: medium
`, 0600)

	policy, err := LoadPolicy(tmpDir)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if policy.Version != 1 {
		t.Errorf("Version = %d, want 1", policy.Version)
	}
	if !policy.ExposePayload {
		t.Error("ExposePayload = false, want true")
	}
	if len(policy.AllowedTypes) != 2 {
		t.Errorf("AllowedTypes = %v, want 2 types", policy.AllowedTypes)
	}
	if policy.MaxSensitivity != "medium" {
		t.Errorf("MaxSensitivity = %q, want medium", policy.MaxSensitivity)
	}
}

func TestLoadPolicy_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not enforced on windows")
	}
	tmpDir := t.TempDir()
	writePolicy(t, tmpDir, "version: 1\n", 0644)

	_, err := LoadPolicy(tmpDir)
	if !errors.Is(err, ErrPolicyInsecure) {
		t.Errorf("LoadPolicy() error = %v, want %v", err, ErrPolicyInsecure)
	}
}

func TestLoadPolicy_Invalid(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not enforced on windows")
	}
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "invalid: yaml: content: [[["},
		{"unsupported version", "version: 2\n"},
		{"missing version", "expose_payload: true\n"},
		{"unknown type", "version: 1\nallowed_types: [diary]\n"},
		{"unknown sensitivity", "version: 1\nmax_sensitivity: extreme\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			writePolicy(t, tmpDir, tt.content, 0600)
			if _, err := LoadPolicy(tmpDir); err == nil {
				t.Error("LoadPolicy() error = nil, want error")
			}
		})
	}
}

func TestLoadPolicy_Symlink(t *testing.T) {
	tmpDir := t.TempDir()

	realPath := filepath.Join(tmpDir, "real-policy.yaml")
	if err := os.WriteFile(realPath, []byte("version: 1\n"), 0600); err != nil {
		t.Fatalf("failed to write real policy file: %v", err)
	}
	if err := os.Symlink(realPath, filepath.Join(tmpDir, PolicyFileName)); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := LoadPolicy(tmpDir)
	if !errors.Is(err, ErrPolicySymlink) {
		t.Errorf("LoadPolicy() error = %v, want %v", err, ErrPolicySymlink)
	}
}

func TestPolicy_Allows(t *testing.T) {
	mk := func(typ entry.Type, sensitivity string) *entry.Entry {
		e := &entry.Entry{Type: typ}
		if sensitivity != "" {
			e.Meta = entry.Meta{entry.MetaSensitivity: sensitivity}
		}
		return e
	}

	tests := []struct {
		name   string
		policy *Policy
		entry  *entry.Entry
		want   bool
	}{
		{"default allows all", DefaultPolicy(), mk(entry.TypeEvent, "high"), true},
		{"type allowed", &Policy{Version: 1, AllowedTypes: []string{"text"}}, mk(entry.TypeText, ""), true},
		{"type denied", &Policy{Version: 1, AllowedTypes: []string{"text"}}, mk(entry.TypeLog, ""), false},
		{"sensitivity at cap", &Policy{Version: 1, MaxSensitivity: "medium"}, mk(entry.TypeText, "medium"), true},
		{"sensitivity above cap", &Policy{Version: 1, MaxSensitivity: "medium"}, mk(entry.TypeText, "high"), false},
		{"no sensitivity under cap", &Policy{Version: 1, MaxSensitivity: "low"}, mk(entry.TypeText, ""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Allows(tt.entry); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_Restricts(t *testing.T) {
	if DefaultPolicy().Restricts() {
		t.Error("DefaultPolicy().Restricts() = true, want false")
	}
	if DefaultPolicy().ExposePayload {
		t.Error("DefaultPolicy().ExposePayload = true, want false")
	}
	if !(&Policy{Version: 1, MaxSensitivity: "low"}).Restricts() {
		t.Error("Restricts() = false with max_sensitivity set")
	}
}
