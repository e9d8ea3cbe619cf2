package jwtverifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	log "github.com/sirupsen/logrus"

	"github.com/greenlens/greenlens/metrics"
	"github.com/greenlens/greenlens/secrets"
	"github.com/greenlens/greenlens/static"
)

// Config contains optional settings for the direct verifier.
type Config struct {
	// JWKSURL is the signing key set location. Defaults to the Google
	// securetoken JWKS.
	JWKSURL *url.URL
	// CacheTTL controls how long the signing key set is reused.
	CacheTTL time.Duration
	// HTTPClient is used to download the signing key set.
	HTTPClient *http.Client
}

// Verifier validates Firebase ID tokens. A Verifier is immutable after
// Initialize returns: a not-ready Verifier stays not ready for the life of the
// process.
type Verifier struct {
	ready     bool
	projectID string
	issuer    string
	keys      *keySet
	now       func() time.Time
}

// Initialize loads service account credentials with loader and prepares the
// verifier. It always returns a non-nil Verifier. When err is non-nil the
// returned Verifier is not ready and err is a *ConfigurationError; callers
// decide whether to continue without verification or abort.
func Initialize(ctx context.Context, loader secrets.Loader, cfg Config) (*Verifier, error) {
	v := &Verifier{now: time.Now}
	metrics.VerifierReady.Set(0)
	if loader == nil {
		return v, &ConfigurationError{Err: secrets.ErrNoSource}
	}

	sa, err := loader.Load(ctx)
	if err != nil {
		return v, &ConfigurationError{Source: loader.Source(), Err: err}
	}
	key, err := sa.RSAPrivateKey()
	if err != nil {
		return v, &ConfigurationError{Source: loader.Source(), Err: err}
	}
	// The service account key must be usable for RS256, as the identity
	// provider SDK requires.
	_, err = jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, nil)
	if err != nil {
		return v, &ConfigurationError{Source: loader.Source(), Err: err}
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == nil {
		jwksURL, err = url.Parse(static.FirebaseJWKSURL)
		if err != nil {
			return v, &ConfigurationError{Source: loader.Source(), Err: err}
		}
	}
	if jwksURL.Scheme != "https" && jwksURL.Scheme != "http" {
		return v, &ConfigurationError{
			Source: loader.Source(),
			Err:    fmt.Errorf("JWKS URL must use http or https scheme, got: %s", jwksURL.Scheme),
		}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = static.JWKSCacheTTL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: static.JWKSFetchTimeout}
	}

	v.ready = true
	metrics.VerifierReady.Set(1)
	v.projectID = sa.ProjectID
	v.issuer = static.FirebaseIssuerPrefix + sa.ProjectID
	v.keys = newKeySet(jwksURL, client, ttl, v.now)

	log.WithFields(log.Fields{
		"source":  loader.Source(),
		"project": sa.ProjectID,
		"jwks":    jwksURL.String(),
	}).Info("Credential verifier initialized")
	return v, nil
}

// IsReady reports whether the verifier initialized successfully.
func (v *Verifier) IsReady() bool {
	return v.ready
}

// ProjectID returns the project whose tokens are accepted.
func (v *Verifier) ProjectID() string {
	return v.projectID
}

// Mode returns the verification mode name.
func (v *Verifier) Mode() string {
	return "direct"
}

// Verify checks the token signature and claims and returns the decoded claim
// set unmodified. Every failure is a *VerificationError. Calling Verify on a
// verifier that is not ready fails with ErrNotReady.
func (v *Verifier) Verify(ctx context.Context, token string) (map[string]interface{}, error) {
	if !v.ready {
		return nil, &VerificationError{Err: ErrNotReady}
	}

	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, verificationErrorf("failed to parse JWT: %w", err)
	}
	if len(tok.Headers) == 0 || tok.Headers[0].KeyID == "" {
		return nil, verificationErrorf("JWT has no kid header")
	}
	kid := tok.Headers[0].KeyID

	key, err := v.keys.get(ctx, kid)
	if err != nil {
		return nil, verificationErrorf("failed to find signing key %q: %w", kid, err)
	}

	var claims map[string]interface{}
	var std jwt.Claims
	if err := tok.Claims(key.Key, &claims, &std); err != nil {
		return nil, verificationErrorf("invalid JWT signature: %w", err)
	}
	if err := v.validate(&std, claims); err != nil {
		return nil, &VerificationError{Err: err}
	}

	log.WithFields(log.Fields{
		"mode":   v.Mode(),
		"key_id": kid,
	}).Debug("JWT verified successfully with JWKS")
	return claims, nil
}

// validate applies the Firebase ID token claim rules.
func (v *Verifier) validate(std *jwt.Claims, claims map[string]interface{}) error {
	now := v.now()
	if std.Expiry == nil {
		return errors.New("JWT has no exp claim")
	}
	if std.IssuedAt == nil {
		return errors.New("JWT has no iat claim")
	}
	err := std.Validate(jwt.Expected{
		Issuer:      v.issuer,
		AnyAudience: jwt.Audience{v.projectID},
		Time:        now,
	})
	if errors.Is(err, jwt.ErrExpired) {
		return fmt.Errorf("%w: %w", ErrExpired, err)
	}
	if err != nil {
		return fmt.Errorf("JWT claims validation failed: %w", err)
	}
	if std.Subject == "" {
		return errors.New("JWT has an empty sub claim")
	}
	if len(std.Subject) > static.FirebaseMaxSubjectLength {
		return fmt.Errorf("JWT sub claim is longer than %d characters", static.FirebaseMaxSubjectLength)
	}
	if authTime, ok := claims["auth_time"].(float64); ok {
		if time.Unix(int64(authTime), 0).After(now.Add(jwt.DefaultLeeway)) {
			return errors.New("JWT auth_time is in the future")
		}
	}
	return nil
}
