// Package greenlenstest provides fakes and token helpers for unit tests of the
// greenlens service.
package greenlenstest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/m-lab/go/rtx"

	"github.com/greenlens/greenlens/secrets"
	"github.com/greenlens/greenlens/static"
)

// Issuer signs Firebase-style ID tokens and serves the matching JWKS.
type Issuer struct {
	ProjectID string
	KeyID     string
	Server    *httptest.Server

	key     *rsa.PrivateKey
	mu      sync.Mutex
	fetches int
}

// NewIssuer creates an Issuer for the given project and starts its JWKS
// server. Callers must Close it.
func NewIssuer(projectID string) *Issuer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	rtx.Must(err, "failed to generate RSA key")
	iss := &Issuer{
		ProjectID: projectID,
		KeyID:     "test-key",
		key:       key,
	}
	jwks := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       &key.PublicKey,
				KeyID:     iss.KeyID,
				Algorithm: string(jose.RS256),
				Use:       "sig",
			},
		},
	}
	iss.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		iss.mu.Lock()
		iss.fetches++
		iss.mu.Unlock()
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(jwks)
	}))
	return iss
}

// URL returns the JWKS server URL.
func (iss *Issuer) URL() *url.URL {
	u, err := url.Parse(iss.Server.URL)
	rtx.Must(err, "failed to parse JWKS server url")
	return u
}

// Fetches returns the number of JWKS downloads served.
func (iss *Issuer) Fetches() int {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	return iss.fetches
}

// Close stops the JWKS server.
func (iss *Issuer) Close() {
	iss.Server.Close()
}

// Claims returns a claim set that a Firebase verifier for this issuer accepts
// until exp.
func (iss *Issuer) Claims(subject string, exp time.Time) map[string]interface{} {
	now := time.Now()
	return map[string]interface{}{
		"iss":       static.FirebaseIssuerPrefix + iss.ProjectID,
		"aud":       iss.ProjectID,
		"sub":       subject,
		"user_id":   subject,
		"iat":       now.Add(-time.Minute).Unix(),
		"auth_time": now.Add(-time.Minute).Unix(),
		"exp":       exp.Unix(),
	}
}

// Token signs the claims with the issuer key using RS256 and the issuer kid.
func (iss *Issuer) Token(claims map[string]interface{}) string {
	return iss.TokenWithKeyID(iss.KeyID, claims)
}

// TokenWithKeyID signs the claims with the issuer key using the given kid.
func (iss *Issuer) TokenWithKeyID(kid string, claims map[string]interface{}) string {
	opts := (&jose.SignerOptions{}).WithType("JWT")
	if kid != "" {
		opts = opts.WithHeader(jose.HeaderKey("kid"), kid)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: iss.key}, opts)
	rtx.Must(err, "failed to create signer")
	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	rtx.Must(err, "failed to sign claims")
	return token
}

// UnsignedToken builds a compact token whose payload segment is the base64url
// JSON encoding of claims. The header and signature segments are not valid.
func UnsignedToken(claims map[string]interface{}) string {
	b, err := json.Marshal(claims)
	rtx.Must(err, "failed to marshal claims")
	return "a." + base64.RawURLEncoding.EncodeToString(b) + ".c"
}

// ServiceAccount returns inline service account credentials for the project,
// with a freshly generated private key.
func ServiceAccount(projectID string) *secrets.EnvConfig {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	rtx.Must(err, "failed to generate RSA key")
	b, err := x509.MarshalPKCS8PrivateKey(key)
	rtx.Must(err, "failed to marshal RSA key")
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: b}))
	// Escape newlines the way environment variables carry them.
	return secrets.NewEnvConfig(projectID, "firebase-adminsdk@"+projectID+".iam.gserviceaccount.com",
		strings.ReplaceAll(pemKey, "\n", `\n`))
}

// Verifier is a fake credential verifier that returns the configured Claims
// or Err.
type Verifier struct {
	Ready  bool
	Claims map[string]interface{}
	Err    error

	mu     sync.Mutex
	tokens []string
}

// IsReady returns the configured readiness.
func (v *Verifier) IsReady() bool {
	return v.Ready
}

// Verify records the token and returns the configured Claims or Err.
func (v *Verifier) Verify(ctx context.Context, token string) (map[string]interface{}, error) {
	v.mu.Lock()
	v.tokens = append(v.tokens, token)
	v.mu.Unlock()
	if v.Err != nil {
		return nil, v.Err
	}
	return v.Claims, nil
}

// Tokens returns the tokens passed to Verify.
func (v *Verifier) Tokens() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.tokens...)
}
