package secrets

import (
	"context"
	"os"
)

// LocalConfig supports loading the service account from a local JSON file
// rather than from secretmanager.
type LocalConfig struct {
	Path string
}

// NewLocalConfig creates a new instance for loading a local service account file.
func NewLocalConfig(path string) *LocalConfig {
	return &LocalConfig{Path: path}
}

// Configured reports whether a file path was given.
func (c *LocalConfig) Configured() bool {
	return c.Path != ""
}

// Source returns "file".
func (c *LocalConfig) Source() string {
	return "file"
}

// Load reads the service account from the named file.
func (c *LocalConfig) Load(ctx context.Context) (*ServiceAccount, error) {
	b, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, err
	}
	return ParseServiceAccount(b)
}
