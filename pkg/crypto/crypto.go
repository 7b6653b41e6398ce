// Package crypto provides the cryptographic primitives used by logwayss.
//
// This package implements AES-256-GCM authenticated encryption with a
// detached authentication tag and scrypt password-based key derivation.
//
// # Security Features
//
//   - AES-256-GCM with additional authenticated data (AAD)
//   - scrypt key derivation with tunable cost (default N=2^15, r=8, p=1)
//   - Fresh cryptographically secure 96-bit nonce for every encryption
//   - Secure memory wiping for key material
//
// # Example Usage
//
//	salt, _ := crypto.RandomBytes(crypto.SaltLength)
//	key, err := crypto.DeriveKey([]byte("password"), salt, crypto.DefaultKDFParams())
//
//	iv, tag, ciphertext, err := crypto.Encrypt(aad, key, plaintext)
//	plaintext, err := crypto.Decrypt(aad, key, iv, tag, ciphertext)
//
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/scrypt"
)

// Sizes in bytes.
const (
	// KeyLength is the length of encryption keys (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces (96 bits).
	NonceLength = 12

	// TagLength is the length of the GCM authentication tag.
	TagLength = 16

	// SaltLength is the length of the KDF salt written by new profiles.
	SaltLength = 32
)

// Default scrypt cost parameters.
const (
	DefaultN = 1 << 15
	DefaultR = 8
	DefaultP = 1
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrInvalidTagLength indicates the tag is not 16 bytes.
	ErrInvalidTagLength = errors.New("crypto: invalid tag length, must be 16 bytes")

	// ErrDecryptionFailed indicates authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrInvalidKDFParams indicates unusable scrypt parameters.
	ErrInvalidKDFParams = errors.New("crypto: invalid kdf parameters")
)

// KDFParams are the scrypt cost parameters. They are persisted with every
// profile so that a profile is always re-derived with the parameters it was
// created with.
type KDFParams struct {
	N      int `json:"N"`
	R      int `json:"r"`
	P      int `json:"p"`
	KeyLen int `json:"keyLen"`
}

// DefaultKDFParams returns N=2^15, r=8, p=1 and a 32-byte key.
func DefaultKDFParams() KDFParams {
	return KDFParams{N: DefaultN, R: DefaultR, P: DefaultP, KeyLen: KeyLength}
}

// WithDefaults fills zero fields from DefaultKDFParams.
func (p KDFParams) WithDefaults() KDFParams {
	d := DefaultKDFParams()
	if p.N == 0 {
		p.N = d.N
	}
	if p.R == 0 {
		p.R = d.R
	}
	if p.P == 0 {
		p.P = d.P
	}
	if p.KeyLen == 0 {
		p.KeyLen = d.KeyLen
	}
	return p
}

// Upper bounds on scrypt cost. Parameters read from disk are untrusted and
// scrypt panics on allocations it cannot make.
const (
	MaxN         = 1 << 24
	MaxKDFMemory = 1 << 30 // bytes, 128*N*r
)

// Validate reports whether scrypt accepts the parameters within the cost
// bounds and the key fits AES-256.
func (p KDFParams) Validate() error {
	if p.N <= 1 || p.N&(p.N-1) != 0 {
		return fmt.Errorf("%w: N must be a power of two greater than 1, got %d", ErrInvalidKDFParams, p.N)
	}
	if p.N > MaxN {
		return fmt.Errorf("%w: N must be at most %d, got %d", ErrInvalidKDFParams, MaxN, p.N)
	}
	if p.R < 1 || p.P < 1 {
		return fmt.Errorf("%w: r and p must be positive", ErrInvalidKDFParams)
	}
	if uint64(p.R)*uint64(p.P) >= 1<<30 {
		return fmt.Errorf("%w: r*p too large", ErrInvalidKDFParams)
	}
	if 128*uint64(p.N)*uint64(p.R) > MaxKDFMemory {
		return fmt.Errorf("%w: 128*N*r exceeds %d bytes", ErrInvalidKDFParams, MaxKDFMemory)
	}
	if p.KeyLen != KeyLength {
		return fmt.Errorf("%w: keyLen must be %d, got %d", ErrInvalidKDFParams, KeyLength, p.KeyLen)
	}
	return nil
}

// Primitives is the set of low-level operations the rest of the module
// depends on. Default is the production implementation; tests may wrap it.
type Primitives interface {
	RandomBytes(n int) ([]byte, error)
	DeriveKey(password, salt []byte, params KDFParams) ([]byte, error)
	Encrypt(aad, key, plaintext []byte) (iv, tag, ciphertext []byte, err error)
	Decrypt(aad, key, iv, tag, ciphertext []byte) ([]byte, error)
}

// Default implements Primitives with crypto/rand, scrypt and AES-256-GCM.
type Default struct{}

var _ Primitives = Default{}

func (Default) RandomBytes(n int) ([]byte, error) { return RandomBytes(n) }

func (Default) DeriveKey(password, salt []byte, params KDFParams) ([]byte, error) {
	return DeriveKey(password, salt, params)
}

func (Default) Encrypt(aad, key, plaintext []byte) (iv, tag, ciphertext []byte, err error) {
	return Encrypt(aad, key, plaintext)
}

func (Default) Decrypt(aad, key, iv, tag, ciphertext []byte) ([]byte, error) {
	return Decrypt(aad, key, iv, tag, ciphertext)
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: failed to read random bytes: %w", err)
	}
	return b, nil
}

// DeriveKey derives a key from a password using scrypt.
//
// The cost is deliberately high with the default parameters; callers that
// must stay responsive should run it off their critical path.
func DeriveKey(password, salt []byte, params KDFParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	key, err := scrypt.Key(password, salt, params.N, params.R, params.P, params.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKDFParams, err)
	}
	return key, nil
}

// Encrypt encrypts plaintext using AES-256-GCM and binds aad to the tag.
//
// A new random 12-byte nonce is generated for every call and returned as iv.
// The 16-byte authentication tag is returned separately from the ciphertext.
func Encrypt(aad, key, plaintext []byte) (iv, tag, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}

	iv = make([]byte, NonceLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, aad)
	split := len(sealed) - gcm.Overhead()

	ciphertext = make([]byte, split)
	copy(ciphertext, sealed[:split])
	tag = make([]byte, gcm.Overhead())
	copy(tag, sealed[split:])

	return iv, tag, ciphertext, nil
}

// Decrypt verifies the tag over (aad, iv, ciphertext) and returns the plaintext.
//
// Any authentication failure returns ErrDecryptionFailed; the cause (wrong
// key, modified aad, corrupted bytes) is intentionally not distinguished.
func Decrypt(aad, key, iv, tag, ciphertext []byte) ([]byte, error) {
	if len(iv) != NonceLength {
		return nil, ErrInvalidNonceLength
	}
	if len(tag) != TagLength {
		return nil, ErrInvalidTagLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(ciphertext)+len(tag))
	buf = append(buf, ciphertext...)
	buf = append(buf, tag...)

	plaintext, err := gcm.Open(nil, iv, buf, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive keeps b reachable so the stores above are not elided.
	runtime.KeepAlive(b)
}
