// Package record binds an encrypted blob to the metadata it belongs to.
//
// A record is sealed under a context string (the AAD) built from the owning
// object's cleartext fields. The AAD is never stored: readers rebuild it from
// the same fields, so any edit to those fields after sealing makes Open fail.
package record

import (
	"errors"
	"fmt"

	"github.com/logwayss/logwayss/pkg/crypto"
)

// ErrIntegrity is returned by Open when the tag does not verify. Wrong key,
// wrong AAD and corrupted bytes all produce this same error.
var ErrIntegrity = errors.New("record: integrity check failed")

// Sealed is the at-rest form of a record.
type Sealed struct {
	IV         []byte
	Tag        []byte
	Ciphertext []byte
}

// Seal encrypts plaintext under key, binding aad. Every call draws a fresh IV.
func Seal(p crypto.Primitives, key []byte, aad string, plaintext []byte) (Sealed, error) {
	iv, tag, ciphertext, err := p.Encrypt([]byte(aad), key, plaintext)
	if err != nil {
		return Sealed{}, fmt.Errorf("record: failed to seal: %w", err)
	}
	return Sealed{IV: iv, Tag: tag, Ciphertext: ciphertext}, nil
}

// Open verifies and decrypts s. Malformed IV or tag lengths are reported as
// ErrIntegrity, the same as a failed tag check.
func Open(p crypto.Primitives, key []byte, aad string, s Sealed) ([]byte, error) {
	if len(key) != crypto.KeyLength {
		return nil, crypto.ErrInvalidKeyLength
	}
	if len(s.IV) != crypto.NonceLength || len(s.Tag) != crypto.TagLength {
		return nil, ErrIntegrity
	}
	plaintext, err := p.Decrypt([]byte(aad), key, s.IV, s.Tag, s.Ciphertext)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// EntryAAD is the context string for an entry payload.
func EntryAAD(schemaVersion int, id, entryType string) string {
	return fmt.Sprintf("schema=%d|id=%s|type=%s", schemaVersion, id, entryType)
}

// ProfileAAD is the context string for a profile check payload.
func ProfileAAD(schemaVersion int) string {
	return fmt.Sprintf("schema=%d|type=profile", schemaVersion)
}
