package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/greenlens/greenlens/auth/jwtverifier"
	"github.com/greenlens/greenlens/metrics"
	"github.com/greenlens/greenlens/static"
)

// Strategy authenticates a bearer token. On success the returned claims are
// attached to the request unmodified.
type Strategy interface {
	Authenticate(ctx context.Context, token string) (map[string]interface{}, *Rejection)
	Mode() string
}

// VerifiedStrategy authenticates tokens with a ready credential verifier.
// Every verification failure collapses into an invalid token rejection.
type VerifiedStrategy struct {
	Verifier Verifier
	// Timeout bounds each call to Verify. Zero means no timeout.
	Timeout time.Duration
}

// Authenticate verifies the token signature and claims.
func (s *VerifiedStrategy) Authenticate(ctx context.Context, token string) (map[string]interface{}, *Rejection) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	claims, err := s.Verifier.Verify(ctx, token)
	if err != nil {
		return nil, invalid(err)
	}
	return claims, nil
}

// Mode returns static.AuthModeVerified.
func (s *VerifiedStrategy) Mode() string {
	return static.AuthModeVerified
}

// FallbackStrategy authenticates tokens WITHOUT verifying their signature. It
// only checks that the token is structurally a JWT and not expired, and it
// logs a warning every time it is used.
type FallbackStrategy struct {
	now func() time.Time
}

// NewFallbackStrategy creates a FallbackStrategy that reads the current time
// from now.
func NewFallbackStrategy(now func() time.Time) *FallbackStrategy {
	if now == nil {
		now = time.Now
	}
	return &FallbackStrategy{now: now}
}

// Authenticate decodes the token payload and checks the optional exp claim.
func (s *FallbackStrategy) Authenticate(ctx context.Context, token string) (map[string]interface{}, *Rejection) {
	metrics.FallbackAuthenticationsTotal.Inc()
	log.Warn("Authenticating in fallback mode: token signatures are NOT verified, configure service account credentials for full verification")

	claims, err := jwtverifier.DecodeUnverified(token)
	if errors.Is(err, jwtverifier.ErrMalformed) {
		return nil, malformed(err)
	}
	if err != nil {
		return nil, invalid(err)
	}

	raw, ok := claims["exp"]
	if !ok || raw == nil {
		return claims, nil
	}
	// Strings are rejected even when they would compare as a future time.
	exp, ok := raw.(float64)
	if !ok {
		return nil, invalid(fmt.Errorf("exp claim must be a number, got %T", raw))
	}
	now := float64(s.now().UnixNano()) / float64(time.Second)
	if now > exp {
		return nil, expired(exp, now)
	}
	return claims, nil
}

// Mode returns static.AuthModeFallback.
func (s *FallbackStrategy) Mode() string {
	return static.AuthModeFallback
}

// unavailableStrategy rejects every token. It replaces the fallback strategy
// when verified authentication is required.
type unavailableStrategy struct{}

func (unavailableStrategy) Authenticate(ctx context.Context, token string) (map[string]interface{}, *Rejection) {
	return nil, invalid(jwtverifier.ErrNotReady)
}

func (unavailableStrategy) Mode() string {
	return static.AuthModeUnavailable
}
