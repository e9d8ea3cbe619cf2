// Package jwtverifier verifies identity-provider bearer tokens.
//
// The package supports two modes:
//   - Direct: validate a Firebase ID token signature and claims against the
//     Google securetoken JWKS. Requires service account credentials.
//   - Insecure: decode the token payload without any validation. Used by the
//     authentication gate when the direct verifier is not ready.
package jwtverifier

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Verify when the verifier failed to initialize.
	ErrNotReady = errors.New("credential verifier is not initialized")
	// ErrExpired is wrapped by verification errors caused by an expired token.
	ErrExpired = errors.New("token is expired")
	// ErrMalformed is returned when a token does not have three segments.
	ErrMalformed = errors.New("token must have three dot-separated segments")
	// ErrUnknownKeyID is returned when no key in the JWKS matches the token kid.
	ErrUnknownKeyID = errors.New("no JWKS key matches the token key id")
)

// ConfigurationError describes why the verifier could not be initialized.
type ConfigurationError struct {
	// Source names the credential source that was tried, if any.
	Source string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("credential verifier configuration: %v", e.Err)
	}
	return fmt.Sprintf("credential verifier configuration (%s): %v", e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// VerificationError is returned by Verify for every rejected token.
type VerificationError struct {
	Err error
}

func (e *VerificationError) Error() string {
	return "token verification failed: " + e.Err.Error()
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func verificationErrorf(format string, a ...interface{}) error {
	return &VerificationError{Err: fmt.Errorf(format, a...)}
}
