// Package uuid wraps github.com/google/uuid. Identifiers handed to participants are
// random (v4) so that possession of one is a capability.
package uuid

import (
	"errors"

	"github.com/google/uuid"
)

var ErrInvalidFormat = errors.New("invalid uuid format")

type UUID = uuid.UUID

var Nil = uuid.Nil

// New returns a random v4 UUID. It panics if the system randomness source fails.
func New() UUID {
	return uuid.New()
}

// NewRandom returns a random v4 UUID.
func NewRandom() (UUID, error) {
	return uuid.NewRandom()
}

// Parse accepts only the canonical 36 character hyphenated form.
func Parse(s string) (UUID, error) {
	if !IsCanonical(s) {
		return Nil, ErrInvalidFormat
	}
	return uuid.Parse(s)
}

func MustParse(s string) UUID {
	return uuid.MustParse(s)
}

// IsCanonical reports whether s is xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx in hex, any case.
func IsCanonical(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHex(c) {
				return false
			}
		}
	}
	return true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
