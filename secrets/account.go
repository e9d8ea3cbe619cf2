// Package secrets loads identity-provider service account credentials from
// the environment, a local file, or the Google Cloud Secret Manager.
package secrets

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrNoSource is returned by Select when no credential source is configured.
	ErrNoSource = errors.New("no credential source configured")
	// ErrAmbiguousSource is returned by Select when more than one credential
	// source is configured.
	ErrAmbiguousSource = errors.New("more than one credential source configured")
	// ErrNoPEMBlock is returned when the private key is not PEM encoded.
	ErrNoPEMBlock = errors.New("private key is not PEM encoded")
	// ErrNotRSAKey is returned when the private key is not an RSA key.
	ErrNotRSAKey = errors.New("private key is not an RSA key")
)

// serviceAccountType is the only credential type accepted in JSON files.
const serviceAccountType = "service_account"

// ServiceAccount contains the fields of a service account key used to
// initialize the credential verifier.
type ServiceAccount struct {
	Type         string `json:"type,omitempty"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id,omitempty"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id,omitempty"`
}

// Loader loads service account credentials from one source.
type Loader interface {
	// Load reads and validates the credentials.
	Load(ctx context.Context) (*ServiceAccount, error)
	// Configured reports whether the operator configured this source.
	Configured() bool
	// Source names the source for logging.
	Source() string
}

// ParseServiceAccount parses a service account JSON document and validates it.
func ParseServiceAccount(b []byte) (*ServiceAccount, error) {
	sa := &ServiceAccount{}
	if err := json.Unmarshal(b, sa); err != nil {
		return nil, fmt.Errorf("failed to parse service account JSON: %w", err)
	}
	if sa.Type != "" && sa.Type != serviceAccountType {
		return nil, fmt.Errorf("unsupported credential type %q, want %q", sa.Type, serviceAccountType)
	}
	if err := sa.Validate(); err != nil {
		return nil, err
	}
	return sa, nil
}

// Validate reports every missing or malformed field of the service account.
func (sa *ServiceAccount) Validate() error {
	var result *multierror.Error
	if sa.ProjectID == "" {
		result = multierror.Append(result, errors.New("project_id is missing"))
	}
	if sa.ClientEmail == "" {
		result = multierror.Append(result, errors.New("client_email is missing"))
	}
	if sa.PrivateKey == "" {
		result = multierror.Append(result, errors.New("private_key is missing"))
	} else if _, err := sa.RSAPrivateKey(); err != nil {
		result = multierror.Append(result, fmt.Errorf("private_key is invalid: %w", err))
	}
	return result.ErrorOrNil()
}

// RSAPrivateKey decodes the PEM encoded private key. Both PKCS#8 and PKCS#1
// encodings are accepted.
func (sa *ServiceAccount) RSAPrivateKey() (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(sa.PrivateKey))
	if block == nil {
		return nil, ErrNoPEMBlock
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSAKey
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// Select returns the single configured loader among candidates. It returns
// ErrNoSource when none is configured and ErrAmbiguousSource when several are.
func Select(candidates ...Loader) (Loader, error) {
	var selected Loader
	for _, c := range candidates {
		if c == nil || !c.Configured() {
			continue
		}
		if selected != nil {
			return nil, fmt.Errorf("%w: %s and %s", ErrAmbiguousSource, selected.Source(), c.Source())
		}
		selected = c
	}
	if selected == nil {
		return nil, ErrNoSource
	}
	return selected, nil
}
