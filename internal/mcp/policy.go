package mcp

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/logwayss/logwayss/pkg/entry"
)

// Policy controls what the MCP server shows to agents. It is read from
// mcp-policy.yaml in the data directory.
type Policy struct {
	Version int `yaml:"version"`
	// ExposePayload lets entry_get return decrypted payloads.
	ExposePayload bool `yaml:"expose_payload"`
	// AllowedTypes limits visible entry types. Empty allows every type.
	AllowedTypes []string `yaml:"allowed_types"`
	// MaxSensitivity hides entries whose meta.sensitivity ranks higher.
	// Empty shows every level.
	MaxSensitivity string `yaml:"max_sensitivity"`
}

// PolicyFileName is the name of the policy file
const PolicyFileName = "mcp-policy.yaml"

// ErrPolicyNotFound is returned when no policy file exists
var ErrPolicyNotFound = errors.New("mcp: policy file not found")

// ErrPolicyInsecure is returned when policy file has insecure permissions
var ErrPolicyInsecure = errors.New("mcp: policy file has insecure permissions")

// ErrPolicySymlink is returned when policy file is a symlink
var ErrPolicySymlink = errors.New("mcp: policy file is a symlink")

// ErrPolicyNotOwnedByUser is returned when policy file is not owned by current user
var ErrPolicyNotOwnedByUser = errors.New("mcp: policy file not owned by current user")

// DefaultPolicy is used when no policy file exists: metadata of every
// entry is visible, payloads are not.
func DefaultPolicy() *Policy {
	return &Policy{Version: 1}
}

// LoadPolicy loads the MCP policy from the data directory. The file is
// opened without following symlinks and checked through the open
// descriptor, so it cannot be swapped between the checks and the read.
func LoadPolicy(dataDir string) (*Policy, error) {
	policyPath := filepath.Join(dataDir, PolicyFileName)

	f, err := openPolicyFile(policyPath)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) || errors.Is(err, ErrPolicySymlink) {
			return nil, err
		}
		return nil, fmt.Errorf("mcp: failed to open policy file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mcp: failed to stat policy file: %w", err)
	}

	// Must be 0600
	if perm := info.Mode().Perm(); perm != 0600 {
		return nil, fmt.Errorf("%w: %o (expected 0600)", ErrPolicyInsecure, perm)
	}

	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("mcp: failed to read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return nil, fmt.Errorf("mcp: failed to parse policy file: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate checks the policy version and values.
func (p *Policy) Validate() error {
	if p.Version != 1 {
		return fmt.Errorf("mcp: unsupported policy version: %d", p.Version)
	}
	for _, t := range p.AllowedTypes {
		if !entry.Type(t).Valid() {
			return fmt.Errorf("mcp: invalid allowed_types entry: %q", t)
		}
	}
	if p.MaxSensitivity != "" && entry.SensitivityRank(p.MaxSensitivity) == 0 {
		return fmt.Errorf("mcp: invalid max_sensitivity: %q (must be low, medium or high)", p.MaxSensitivity)
	}
	return nil
}

// TypeAllowed reports whether entries of type t may be shown.
func (p *Policy) TypeAllowed(t entry.Type) bool {
	return len(p.AllowedTypes) == 0 || slices.Contains(p.AllowedTypes, string(t))
}

// Allows reports whether e may be shown at all.
func (p *Policy) Allows(e *entry.Entry) bool {
	if !p.TypeAllowed(e.Type) {
		return false
	}
	if p.MaxSensitivity != "" {
		if entry.SensitivityRank(e.Meta.Sensitivity()) > entry.SensitivityRank(p.MaxSensitivity) {
			return false
		}
	}
	return true
}

// Restricts reports whether the policy hides any entries.
func (p *Policy) Restricts() bool {
	return len(p.AllowedTypes) > 0 || p.MaxSensitivity != ""
}
