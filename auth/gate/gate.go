// Package gate implements the authentication gate for protected routes.
//
// For each request the gate reads the bearer token from the Authorization
// header and authenticates it with one of two strategies: VerifiedStrategy
// when the credential verifier is ready, FallbackStrategy otherwise. Admitted
// requests carry the token claims in their context. Rejected requests receive
// HTTP 401 with a JSON error object and never reach the next handler.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/greenlens/greenlens/metrics"
	"github.com/greenlens/greenlens/static"
)

// Verifier is the credential verifier consumed by the gate. The gate only
// reads IsReady, and only calls Verify when IsReady is true.
type Verifier interface {
	IsReady() bool
	Verify(ctx context.Context, token string) (map[string]interface{}, error)
}

// Gate authenticates requests for protected routes.
type Gate struct {
	verifier        Verifier
	verified        Strategy
	fallback        Strategy
	timeout         time.Duration
	now             func() time.Time
	requireVerified bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout bounds each call to the credential verifier.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		g.timeout = d
	}
}

// WithRequireVerified disables the fallback strategy. While the verifier is
// not ready every token is rejected as invalid.
func WithRequireVerified(require bool) Option {
	return func(g *Gate) {
		g.requireVerified = require
	}
}

// WithClock sets the clock used to check token expiry in fallback mode.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates a Gate for the given verifier.
func New(v Verifier, opts ...Option) *Gate {
	g := &Gate{
		verifier: v,
		timeout:  static.VerifyTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.verified = &VerifiedStrategy{Verifier: v, Timeout: g.timeout}
	if g.requireVerified {
		g.fallback = unavailableStrategy{}
	} else {
		g.fallback = NewFallbackStrategy(g.now)
	}
	return g
}

// strategy selects the strategy for one request.
func (g *Gate) strategy() Strategy {
	if g.verifier != nil && g.verifier.IsReady() {
		return g.verified
	}
	return g.fallback
}

// Mode returns the name of the strategy new requests are authenticated with.
func (g *Gate) Mode() string {
	return g.strategy().Mode()
}

// Authenticate classifies the request. It returns the token claims when the
// request is admitted, or a non-nil Rejection. Authenticate never panics.
func (g *Gate) Authenticate(req *http.Request) (claims map[string]interface{}, rej *Rejection) {
	mode := "none"
	defer func() {
		if r := recover(); r != nil {
			claims = nil
			rej = invalid(fmt.Errorf("%v", r))
			log.WithFields(log.Fields{"mode": mode, "panic": r}).Error("Recovered from panic during authentication")
		}
		if rej != nil {
			metrics.AuthenticationsTotal.WithLabelValues(mode, rej.outcome()).Inc()
			return
		}
		metrics.AuthenticationsTotal.WithLabelValues(mode, "admitted").Inc()
	}()

	token, ok := bearerToken(req)
	if !ok {
		return nil, noToken()
	}
	s := g.strategy()
	mode = s.Mode()
	return s.Authenticate(req.Context(), token)
}

// Require is an alice-compatible middleware that runs next only for admitted
// requests. The claims are available to next via ClaimsFromContext.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		claims, rej := g.Authenticate(req)
		if rej != nil {
			log.WithFields(log.Fields{
				"path":   req.URL.Path,
				"reason": rej.Reason,
			}).WithError(rej.Err).Info("Request rejected")
			writeRejection(rw, rej)
			return
		}
		next.ServeHTTP(rw, req.WithContext(NewContext(req.Context(), claims)))
	})
}

// bearerToken returns the text after the "Bearer " prefix.
func bearerToken(req *http.Request) (string, bool) {
	h := req.Header.Get("Authorization")
	if !strings.HasPrefix(h, static.BearerPrefix) {
		return "", false
	}
	return strings.TrimPrefix(h, static.BearerPrefix), true
}

func writeRejection(rw http.ResponseWriter, rej *Rejection) {
	b, _ := json.Marshal(rej.Result())
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("WWW-Authenticate", "Bearer")
	rw.WriteHeader(http.StatusUnauthorized)
	rw.Write(b)
}
