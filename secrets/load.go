package secrets

import (
	"context"
	"errors"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
)

// ErrNoSecretClient is returned when a secret is configured but no Secret
// Manager client could be created.
var ErrNoSecretClient = errors.New("secret manager client is not available")

// SecretClient wraps the AccessSecretVersion function provided by the
// secretmanager.Client.
type SecretClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	ListSecretVersions(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest, opts ...gax.CallOption) *secretmanager.SecretVersionIterator
}

// iter warps the Next() method of a *secretmanager.SecretVersionIterator.
type iter interface {
	Next(it *secretmanager.SecretVersionIterator) (*secretmanagerpb.SecretVersion, error)
}

// stdIter implements the iter interfaces, and is used to invoke the
// iterator.Next() method.
type stdIter struct{}

// Next invokes the Next() method of a *secretmanager.SecretVersionIterator.
func (s *stdIter) Next(it *secretmanager.SecretVersionIterator) (*secretmanagerpb.SecretVersion, error) {
	return it.Next()
}

// SecretConfig loads the service account JSON stored in a Secret Manager secret.
type SecretConfig struct {
	iter    iter
	Client  SecretClient
	Name    string
	Project string
}

// NewSecretConfig creates a new secret config. The client may be nil when it
// could not be created; Load then fails with ErrNoSecretClient.
func NewSecretConfig(project, name string, client SecretClient) *SecretConfig {
	return &SecretConfig{
		iter:    &stdIter{},
		Client:  client,
		Name:    name,
		Project: project,
	}
}

// Configured reports whether a secret name was given.
func (c *SecretConfig) Configured() bool {
	return c.Name != ""
}

// Source returns "secretmanager".
func (c *SecretConfig) Source() string {
	return "secretmanager"
}

// Load fetches the newest enabled version of the secret and parses it as a
// service account JSON document.
func (c *SecretConfig) Load(ctx context.Context) (*ServiceAccount, error) {
	if c.Client == nil {
		return nil, ErrNoSecretClient
	}
	if c.Project == "" {
		return nil, fmt.Errorf("project is required to load secret %q", c.Name)
	}
	versions, err := c.getSecretVersions(ctx, c.Client)
	if err != nil {
		return nil, err
	}
	// Versions are listed newest first.
	log.WithFields(log.Fields{
		"version": versions[0],
	}).Info("Loading service account credentials from Secret Manager")
	b, err := c.getSecret(ctx, c.Client, versions[0])
	if err != nil {
		return nil, err
	}
	return ParseServiceAccount(b)
}

// getSecret fetches the version of a secret specified by 'path' from the Secret
// Manager API.
func (c *SecretConfig) getSecret(ctx context.Context, client SecretClient, path string) ([]byte, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: path,
	}

	result, err := client.AccessSecretVersion(ctx, req)
	if err != nil {
		return nil, err
	}

	return result.Payload.Data, nil
}

// getSecretVersions returns a slice of all *enabled* versions for a secret. It
// will ignore disabled for destroyed versions of a secret.
func (c *SecretConfig) getSecretVersions(ctx context.Context, client SecretClient) ([]string, error) {
	req := &secretmanagerpb.ListSecretVersionsRequest{
		Parent:   c.path(),
		PageSize: 1000,
	}

	it := client.ListSecretVersions(ctx, req)
	versions := []string{}
	for {
		resp, err := c.iter.Next(it)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if resp.State != secretmanagerpb.SecretVersion_ENABLED {
			continue
		}
		versions = append(versions, resp.Name)
	}

	if len(versions) < 1 {
		return nil, fmt.Errorf("no versions found for secret: %s", c.Name)
	}

	return versions, nil
}

func (c *SecretConfig) path() string {
	return "projects/" + c.Project + "/secrets/" + c.Name
}
