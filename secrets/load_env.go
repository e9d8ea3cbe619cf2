package secrets

import (
	"context"
	"strings"
)

// EnvConfig holds service account fields provided inline, typically through
// environment variables.
type EnvConfig struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string
}

// NewEnvConfig creates a new EnvConfig.
func NewEnvConfig(projectID, clientEmail, privateKey string) *EnvConfig {
	return &EnvConfig{
		ProjectID:   projectID,
		ClientEmail: clientEmail,
		PrivateKey:  privateKey,
	}
}

// Configured reports whether any inline field was provided.
func (c *EnvConfig) Configured() bool {
	return c.ProjectID != "" || c.ClientEmail != "" || c.PrivateKey != ""
}

// Source returns "env".
func (c *EnvConfig) Source() string {
	return "env"
}

// Load builds a service account from the inline fields. Environment variables
// cannot easily carry newlines, so literal "\n" sequences in the private key
// are expanded.
func (c *EnvConfig) Load(ctx context.Context) (*ServiceAccount, error) {
	sa := &ServiceAccount{
		Type:        serviceAccountType,
		ProjectID:   c.ProjectID,
		ClientEmail: c.ClientEmail,
		PrivateKey:  strings.ReplaceAll(c.PrivateKey, `\n`, "\n"),
	}
	if err := sa.Validate(); err != nil {
		return nil, err
	}
	return sa, nil
}
