package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/logwayss/logwayss/pkg/profile"
	"github.com/logwayss/logwayss/pkg/record"
)

var (
	ErrAlreadyExists  = errors.New("core: already exists")
	ErrNotFound       = errors.New("core: not found")
	ErrProfileLocked  = errors.New("core: profile is locked")
	ErrCooldownActive = errors.New("core: cooldown period active")

	// ErrInvalidCredentials covers a wrong password and a corrupted or
	// tampered profile alike.
	ErrInvalidCredentials = profile.ErrInvalidCredentials
)

// QueryIntegrityError is returned by Query alongside the rows that did
// decrypt when one or more rows failed their integrity check.
type QueryIntegrityError struct {
	IDs []string
}

func (e *QueryIntegrityError) Error() string {
	return fmt.Sprintf("core: %d entries failed integrity check: %s", len(e.IDs), strings.Join(e.IDs, ", "))
}

func (e *QueryIntegrityError) Unwrap() error { return record.ErrIntegrity }
