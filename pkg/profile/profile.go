// Package profile reads and writes the profile envelope: the file that stores
// the KDF parameters for a data directory and proves a password is correct.
//
// The envelope holds a small check payload sealed under the password-derived
// key. Unlock re-derives the key with the parameters stored in the file, never
// the caller's current defaults, and succeeds only if the payload opens and
// carries the expected magic string.
package profile

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/logwayss/logwayss/pkg/crypto"
	"github.com/logwayss/logwayss/pkg/fsstore"
	"github.com/logwayss/logwayss/pkg/record"
)

const (
	FileName      = "profile.json"
	SchemaVersion = 1
	Magic         = "LOGWAYSS_PROFILE"
)

var (
	ErrAlreadyExists      = errors.New("profile: profile already exists")
	ErrNotFound           = errors.New("profile: profile not found")
	ErrInvalidCredentials = errors.New("profile: invalid password or corrupted profile")
)

// Envelope is the decoded profile file.
type Envelope struct {
	SchemaVersion int
	KDFParams     crypto.KDFParams
	Salt          []byte
	Sealed        record.Sealed
}

// CheckPayload is the plaintext sealed inside the envelope.
type CheckPayload struct {
	Magic         string `json:"magic"`
	SchemaVersion int    `json:"schema_version"`
	CreatedAt     string `json:"created_at"`
}

// fileJSON is the on-disk layout. Binary fields are lowercase hex. Profiles
// written by earlier cores carry the parameters under "scrypt".
type fileJSON struct {
	SchemaVersion int               `json:"schema_version"`
	KDFParams     *crypto.KDFParams `json:"kdf_params,omitempty"`
	Scrypt        *crypto.KDFParams `json:"scrypt,omitempty"`
	Salt          string            `json:"salt"`
	IV            string            `json:"iv"`
	Tag           string            `json:"tag"`
	Ciphertext    string            `json:"ciphertext"`
}

// Path returns the envelope path for dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Exists reports whether dataDir already holds an envelope.
func Exists(store fsstore.Store, dataDir string) bool {
	return store.Exists(Path(dataDir))
}

// Create writes a new envelope for password. Zero fields in params take the
// defaults. The derived key is wiped before returning: creating a profile
// does not open a session.
func Create(ctx context.Context, store fsstore.Store, p crypto.Primitives, dataDir string, password []byte, params crypto.KDFParams) (*Envelope, error) {
	key, env, err := CreateKeyed(ctx, store, p, dataDir, password, params)
	if err != nil {
		return nil, err
	}
	crypto.SecureWipe(key)
	return env, nil
}

// CreateKeyed is Create but hands the derived key to the caller, who must
// wipe it.
func CreateKeyed(ctx context.Context, store fsstore.Store, p crypto.Primitives, dataDir string, password []byte, params crypto.KDFParams) ([]byte, *Envelope, error) {
	if Exists(store, dataDir) {
		return nil, nil, ErrAlreadyExists
	}

	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, nil, fmt.Errorf("profile: %w", err)
	}

	if err := store.MkdirAll(dataDir, fsstore.DirMode); err != nil {
		return nil, nil, fmt.Errorf("profile: failed to create data directory: %w", err)
	}

	salt, err := p.RandomBytes(crypto.SaltLength)
	if err != nil {
		return nil, nil, fmt.Errorf("profile: failed to generate salt: %w", err)
	}

	key, err := deriveKey(ctx, p, password, salt, params)
	if err != nil {
		return nil, nil, err
	}
	env, err := seal(store, p, dataDir, key, salt, params)
	if err != nil {
		crypto.SecureWipe(key)
		return nil, nil, err
	}
	return key, env, nil
}

func seal(store fsstore.Store, p crypto.Primitives, dataDir string, key, salt []byte, params crypto.KDFParams) (*Envelope, error) {
	payload, err := json.Marshal(CheckPayload{
		Magic:         Magic,
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("profile: failed to marshal check payload: %w", err)
	}

	sealed, err := record.Seal(p, key, record.ProfileAAD(SchemaVersion), payload)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	env := &Envelope{
		SchemaVersion: SchemaVersion,
		KDFParams:     params,
		Salt:          salt,
		Sealed:        sealed,
	}
	data, err := env.MarshalJSON()
	if err != nil {
		return nil, err
	}

	// Re-check right before the write so a profile created while the KDF
	// ran is not overwritten.
	if Exists(store, dataDir) {
		return nil, ErrAlreadyExists
	}
	if err := store.WriteFile(Path(dataDir), data, fsstore.FileMode); err != nil {
		return nil, fmt.Errorf("profile: failed to write profile: %w", err)
	}
	return env, nil
}

// Unlock verifies password against the envelope in dataDir and returns the
// derived session key. Every failure after the file is read is reported as
// ErrInvalidCredentials.
func Unlock(ctx context.Context, store fsstore.Store, p crypto.Primitives, dataDir string, password []byte) ([]byte, *Envelope, error) {
	env, err := Load(store, dataDir)
	if err != nil {
		return nil, nil, err
	}

	key, err := deriveKey(ctx, p, password, env.Salt, env.KDFParams)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, ErrInvalidCredentials
	}

	plaintext, err := record.Open(p, key, record.ProfileAAD(env.SchemaVersion), env.Sealed)
	if err != nil {
		crypto.SecureWipe(key)
		return nil, nil, ErrInvalidCredentials
	}

	var check CheckPayload
	if err := json.Unmarshal(plaintext, &check); err != nil || check.Magic != Magic {
		crypto.SecureWipe(key)
		return nil, nil, ErrInvalidCredentials
	}
	return key, env, nil
}

// Load reads and decodes the envelope without deriving any key. A file that
// exists but does not decode is ErrInvalidCredentials.
func Load(store fsstore.Store, dataDir string) (*Envelope, error) {
	data, err := store.ReadFile(Path(dataDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("profile: failed to read profile: %w", err)
	}

	var f fileJSON
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, ErrInvalidCredentials
	}

	params := f.KDFParams
	if params == nil {
		params = f.Scrypt
	}
	if params == nil {
		return nil, ErrInvalidCredentials
	}
	kdf := *params
	if kdf.KeyLen == 0 {
		kdf.KeyLen = crypto.KeyLength
	}
	if err := kdf.Validate(); err != nil {
		return nil, ErrInvalidCredentials
	}

	env := &Envelope{SchemaVersion: f.SchemaVersion, KDFParams: kdf}
	for _, field := range []struct {
		dst *[]byte
		src string
	}{
		{&env.Salt, f.Salt},
		{&env.Sealed.IV, f.IV},
		{&env.Sealed.Tag, f.Tag},
		{&env.Sealed.Ciphertext, f.Ciphertext},
	} {
		b, err := hex.DecodeString(field.src)
		if err != nil || len(b) == 0 {
			return nil, ErrInvalidCredentials
		}
		*field.dst = b
	}
	return env, nil
}

// MarshalJSON encodes the envelope in the on-disk layout.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	params := e.KDFParams
	data, err := json.MarshalIndent(fileJSON{
		SchemaVersion: e.SchemaVersion,
		KDFParams:     &params,
		Salt:          hex.EncodeToString(e.Salt),
		IV:            hex.EncodeToString(e.Sealed.IV),
		Tag:           hex.EncodeToString(e.Sealed.Tag),
		Ciphertext:    hex.EncodeToString(e.Sealed.Ciphertext),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("profile: failed to marshal profile: %w", err)
	}
	return data, nil
}

// deriveKey runs the KDF on its own goroutine. If ctx ends first the caller
// gets ctx.Err() and the key, once it arrives, is wiped.
func deriveKey(ctx context.Context, p crypto.Primitives, password, salt []byte, params crypto.KDFParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The goroutine owns its copy; the caller may wipe password on return.
	pw := append([]byte(nil), password...)

	type result struct {
		key []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer crypto.SecureWipe(pw)
		key, err := p.DeriveKey(pw, salt, params)
		done <- result{key, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("profile: failed to derive key: %w", r.err)
		}
		return r.key, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.key != nil {
				crypto.SecureWipe(r.key)
			}
		}()
		return nil, ctx.Err()
	}
}
