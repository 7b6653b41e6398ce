// Package security checks master passwords before a profile is created.
package security

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Master password length bounds, in characters.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// PasswordStrength represents the strength level of a password.
type PasswordStrength int

const (
	// PasswordWeak indicates an insecure password (less than 8 chars).
	PasswordWeak PasswordStrength = iota
	// PasswordFair indicates a minimally acceptable password.
	PasswordFair
	// PasswordGood indicates a good password.
	PasswordGood
	// PasswordStrong indicates a strong password.
	PasswordStrong
)

// String returns a human-readable representation of the password strength.
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "Weak"
	case PasswordFair:
		return "Fair"
	case PasswordGood:
		return "Good"
	case PasswordStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// PasswordCheck is the result of CheckMasterPassword.
type PasswordCheck struct {
	Valid    bool             // Whether password meets minimum requirements
	Strength PasswordStrength // Estimated strength
	Warnings []string         // Suggestions for improvement (not errors)
}

// CheckMasterPassword rates a new master password. Only the length bounds
// make it invalid; everything else is advice.
//
// Length is the primary factor per NIST SP 800-63B; character classes only
// produce a warning.
func CheckMasterPassword(password []byte) PasswordCheck {
	length := utf8.RuneCount(password)

	if length < MinPasswordLength {
		return PasswordCheck{
			Strength: PasswordWeak,
			Warnings: []string{fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)},
		}
	}
	if length > MaxPasswordLength {
		return PasswordCheck{
			Strength: PasswordWeak,
			Warnings: []string{fmt.Sprintf("Password must be at most %d characters", MaxPasswordLength)},
		}
	}

	result := PasswordCheck{Valid: true, Strength: lengthStrength(length)}

	if classes(password) < 2 {
		result.Warnings = append(result.Warnings,
			"Consider using a mix of uppercase, lowercase, numbers, and symbols")
	}
	if length < 12 {
		result.Warnings = append(result.Warnings,
			"Longer passwords (12+ characters) are more secure")
	}
	return result
}

func lengthStrength(length int) PasswordStrength {
	switch {
	case length >= 20:
		return PasswordStrong
	case length >= 14:
		return PasswordGood
	case length >= 8:
		return PasswordFair
	default:
		return PasswordWeak
	}
}

// classes counts the character classes present: upper, lower, digit, other.
func classes(password []byte) int {
	var upper, lower, digit, other bool
	for _, r := range string(password) {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			other = true
		}
	}
	n := 0
	for _, b := range []bool{upper, lower, digit, other} {
		if b {
			n++
		}
	}
	return n
}
