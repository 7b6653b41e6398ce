package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/logwayss/logwayss/pkg/crypto"
	"github.com/logwayss/logwayss/pkg/fsstore"
)

// fastParams keeps scrypt cheap in tests.
var fastParams = crypto.KDFParams{N: 1 << 10, R: 8, P: 1, KeyLen: 32}

func newProfile(t *testing.T, password string) (string, fsstore.Store) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "profile")
	store := fsstore.NewOS()
	if _, err := Create(context.Background(), store, crypto.Default{}, dir, []byte(password), fastParams); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return dir, store
}

func TestCreateAndUnlock(t *testing.T) {
	dir, store := newProfile(t, "pw")

	key, env, err := Unlock(context.Background(), store, crypto.Default{}, dir, []byte("pw"))
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if len(key) != crypto.KeyLength {
		t.Errorf("key length = %d, want %d", len(key), crypto.KeyLength)
	}
	if env.KDFParams != fastParams {
		t.Errorf("KDFParams = %+v, want %+v", env.KDFParams, fastParams)
	}
	if len(env.Salt) != crypto.SaltLength {
		t.Errorf("salt length = %d, want %d", len(env.Salt), crypto.SaltLength)
	}

	info, err := os.Stat(Path(dir))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != fsstore.FileMode && os.PathSeparator == '/' {
		t.Errorf("profile permissions = %04o, want 0600", perm)
	}
}

func TestCreateFileLayout(t *testing.T) {
	dir, _ := newProfile(t, "pw")

	data, err := os.ReadFile(Path(dir))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("profile is not JSON: %v", err)
	}
	for _, k := range []string{"schema_version", "kdf_params", "salt", "iv", "tag", "ciphertext"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("profile.json missing %q", k)
		}
	}
	params := raw["kdf_params"].(map[string]any)
	for _, k := range []string{"N", "r", "p", "keyLen"} {
		if _, ok := params[k]; !ok {
			t.Errorf("kdf_params missing %q", k)
		}
	}
	if iv := raw["iv"].(string); len(iv) != 2*crypto.NonceLength || strings.ToLower(iv) != iv {
		t.Errorf("iv = %q, want %d lowercase hex chars", iv, 2*crypto.NonceLength)
	}
}

func TestCreateAlreadyExists(t *testing.T) {
	dir, store := newProfile(t, "pw")
	before, _ := os.ReadFile(Path(dir))

	_, err := Create(context.Background(), store, crypto.Default{}, dir, []byte("other"), fastParams)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Create() error = %v, want %v", err, ErrAlreadyExists)
	}
	after, _ := os.ReadFile(Path(dir))
	if !bytes.Equal(before, after) {
		t.Error("existing profile was modified")
	}
}

func TestCreateInvalidParams(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(context.Background(), fsstore.NewOS(), crypto.Default{}, dir, []byte("pw"), crypto.KDFParams{N: 1000})
	if !errors.Is(err, crypto.ErrInvalidKDFParams) {
		t.Errorf("Create() error = %v, want %v", err, crypto.ErrInvalidKDFParams)
	}
	if Exists(fsstore.NewOS(), dir) {
		t.Error("profile written despite invalid params")
	}
}

func TestUnlockWrongPassword(t *testing.T) {
	dir, store := newProfile(t, "pw")
	_, _, err := Unlock(context.Background(), store, crypto.Default{}, dir, []byte("wrong"))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Unlock() error = %v, want %v", err, ErrInvalidCredentials)
	}
}

func TestUnlockNotFound(t *testing.T) {
	_, _, err := Unlock(context.Background(), fsstore.NewOS(), crypto.Default{}, t.TempDir(), []byte("pw"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Unlock() error = %v, want %v", err, ErrNotFound)
	}
}

// rewrite applies mutate to the decoded profile file and writes it back.
func rewrite(t *testing.T, dir string, mutate func(map[string]any)) {
	t.Helper()
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	mutate(raw)
	data, err = json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(Path(dir), data, 0600); err != nil {
		t.Fatal(err)
	}
}

// flipHex changes the first hex digit of a field.
func flipHex(s string) string {
	c := byte('0')
	if s[0] == '0' {
		c = '1'
	}
	return string(c) + s[1:]
}

func TestUnlockTamperedEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"salt", func(m map[string]any) { m["salt"] = flipHex(m["salt"].(string)) }},
		{"iv", func(m map[string]any) { m["iv"] = flipHex(m["iv"].(string)) }},
		{"tag", func(m map[string]any) { m["tag"] = flipHex(m["tag"].(string)) }},
		{"ciphertext", func(m map[string]any) { m["ciphertext"] = flipHex(m["ciphertext"].(string)) }},
		{"schema_version", func(m map[string]any) { m["schema_version"] = 2 }},
		{"kdf r", func(m map[string]any) { m["kdf_params"].(map[string]any)["r"] = 4 }},
		{"kdf N invalid", func(m map[string]any) { m["kdf_params"].(map[string]any)["N"] = 1000 }},
		{"kdf keyLen", func(m map[string]any) { m["kdf_params"].(map[string]any)["keyLen"] = 16 }},
		{"kdf N huge", func(m map[string]any) { m["kdf_params"].(map[string]any)["N"] = int64(1) << 42 }},
		{"kdf r huge", func(m map[string]any) { m["kdf_params"].(map[string]any)["r"] = 1 << 22 }},
		{"kdf missing", func(m map[string]any) { delete(m, "kdf_params") }},
		{"bad hex", func(m map[string]any) { m["iv"] = "zz" }},
		{"empty ciphertext", func(m map[string]any) { m["ciphertext"] = "" }},
		{"truncated tag", func(m map[string]any) { m["tag"] = m["tag"].(string)[:8] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, store := newProfile(t, "pw")
			rewrite(t, dir, tt.mutate)
			_, _, err := Unlock(context.Background(), store, crypto.Default{}, dir, []byte("pw"))
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Unlock() error = %v, want %v", err, ErrInvalidCredentials)
			}
		})
	}
}

func TestUnlockNotJSON(t *testing.T) {
	dir, store := newProfile(t, "pw")
	if err := os.WriteFile(Path(dir), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	_, _, err := Unlock(context.Background(), store, crypto.Default{}, dir, []byte("pw"))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Unlock() error = %v, want %v", err, ErrInvalidCredentials)
	}
}

func TestUnlockLegacyScryptKey(t *testing.T) {
	dir, store := newProfile(t, "pw")
	rewrite(t, dir, func(m map[string]any) {
		params := m["kdf_params"].(map[string]any)
		delete(params, "keyLen")
		m["scrypt"] = params
		delete(m, "kdf_params")
	})

	key, env, err := Unlock(context.Background(), store, crypto.Default{}, dir, []byte("pw"))
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if len(key) != crypto.KeyLength || env.KDFParams.KeyLen != crypto.KeyLength {
		t.Errorf("legacy profile unlocked with key length %d, params %+v", len(key), env.KDFParams)
	}
}

// blockingPrimitives stalls DeriveKey until release is closed.
type blockingPrimitives struct {
	crypto.Default
	release chan struct{}
}

func (b blockingPrimitives) DeriveKey(password, salt []byte, params crypto.KDFParams) ([]byte, error) {
	<-b.release
	return b.Default.DeriveKey(password, salt, params)
}

func TestUnlockHonoursContext(t *testing.T) {
	dir, store := newProfile(t, "pw")

	prims := blockingPrimitives{release: make(chan struct{})}
	defer close(prims.release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := Unlock(ctx, store, prims, dir, []byte("pw"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Unlock() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestCreateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	_, err := Create(ctx, fsstore.NewOS(), crypto.Default{}, dir, []byte("pw"), fastParams)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Create() error = %v, want %v", err, context.Canceled)
	}
	if Exists(fsstore.NewOS(), dir) {
		t.Error("profile written after cancellation")
	}
}
