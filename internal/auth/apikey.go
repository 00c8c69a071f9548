// Package auth handles the X-Api-Key scheme of the submission API.
//
// The server never stores the key itself, only its SHA-256 hex digest. The
// operator CLI resolves the raw key from the environment or a GPG-encrypted
// file.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HeaderName is the request header carrying the API key.
const HeaderName = "X-Api-Key"

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates the request carried no key.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the key does not match.
	ErrTypeInvalidKey
)

// ValidationError represents a specific type of API key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// HashKey returns the lowercase SHA-256 hex digest of key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Validator checks presented keys against a configured hash.
type Validator struct {
	hash string
}

// NewValidator returns a validator for the given SHA-256 hex digest. An
// empty hash disables validation.
func NewValidator(hash string) *Validator {
	return &Validator{hash: strings.ToLower(strings.TrimSpace(hash))}
}

// Enabled reports whether a hash is configured.
func (v *Validator) Enabled() bool {
	return v.hash != ""
}

// Validate returns nil when key is accepted. With validation disabled every
// key, including none, is accepted.
func (v *Validator) Validate(key string) error {
	if !v.Enabled() {
		return nil
	}
	if key == "" {
		return &ValidationError{Type: ErrTypeNoKey, Message: "missing API key"}
	}
	if subtle.ConstantTimeCompare([]byte(HashKey(key)), []byte(v.hash)) != 1 {
		return &ValidationError{Type: ErrTypeInvalidKey, Message: "invalid API key"}
	}
	return nil
}
