package gate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"

	v1 "github.com/greenlens/greenlens/api/v1"
	"github.com/greenlens/greenlens/auth/jwtverifier"
	"github.com/greenlens/greenlens/greenlenstest"
	"github.com/greenlens/greenlens/metrics"
	"github.com/greenlens/greenlens/static"
)

func init() {
	// Disable most logs for unit tests.
	log.SetLevel(log.FatalLevel)
}

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time {
	return testNow
}

type panicVerifier struct{}

func (panicVerifier) IsReady() bool { return true }
func (panicVerifier) Verify(ctx context.Context, token string) (map[string]interface{}, error) {
	panic("verifier exploded")
}

type deadlineVerifier struct {
	deadline time.Time
	ok       bool
}

func (d *deadlineVerifier) IsReady() bool { return true }
func (d *deadlineVerifier) Verify(ctx context.Context, token string) (map[string]interface{}, error) {
	d.deadline, d.ok = ctx.Deadline()
	return map[string]interface{}{"sub": "u1"}, nil
}

func TestGate_Require(t *testing.T) {
	validClaims := map[string]interface{}{"sub": "u1", "iss": "https://securetoken.google.com/p"}
	future := float64(testNow.Add(time.Hour).Unix())
	past := float64(testNow.Add(-10 * time.Second).Unix())

	tests := []struct {
		name       string
		verifier   Verifier
		opts       []Option
		header     string
		wantStatus int
		wantBody   *v1.ErrorResult
		wantClaims map[string]interface{}
		wantTokens []string
	}{
		{
			name:       "no-header-ready",
			verifier:   &greenlenstest.Verifier{Ready: true, Claims: validClaims},
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonNoToken},
		},
		{
			name:       "no-header-not-ready",
			verifier:   &greenlenstest.Verifier{Ready: false},
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonNoToken},
		},
		{
			name:       "wrong-scheme-ready",
			verifier:   &greenlenstest.Verifier{Ready: true, Claims: validClaims},
			header:     "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonNoToken},
		},
		{
			name:       "lowercase-scheme-not-ready",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "bearer a.b.c",
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonNoToken},
		},
		{
			name:       "scheme-without-space",
			verifier:   &greenlenstest.Verifier{Ready: true, Claims: validClaims},
			header:     "Bearer",
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonNoToken},
		},
		{
			name:       "verified-success",
			verifier:   &greenlenstest.Verifier{Ready: true, Claims: validClaims},
			header:     "Bearer signed-token",
			wantStatus: http.StatusOK,
			wantClaims: validClaims,
			wantTokens: []string{"signed-token"},
		},
		{
			name:       "verified-failure",
			verifier:   &greenlenstest.Verifier{Ready: true, Err: errors.New("invalid signature")},
			header:     "Bearer signed-token",
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonInvalid, Details: "invalid signature"},
			wantTokens: []string{"signed-token"},
		},
		{
			name: "verified-expired-collapses-to-invalid",
			verifier: &greenlenstest.Verifier{
				Ready: true,
				Err:   &jwtverifier.VerificationError{Err: jwtverifier.ErrExpired},
			},
			header:     "Bearer signed-token",
			wantStatus: http.StatusUnauthorized,
			wantBody: &v1.ErrorResult{
				Error:   ReasonInvalid,
				Details: "token verification failed: token is expired",
			},
			wantTokens: []string{"signed-token"},
		},
		{
			name:       "verified-malformed-collapses-to-invalid",
			verifier:   &greenlenstest.Verifier{Ready: true, Err: errors.New("failed to parse JWT")},
			header:     "Bearer onlytwo.parts",
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonInvalid, Details: "failed to parse JWT"},
			wantTokens: []string{"onlytwo.parts"},
		},
		{
			name:       "fallback-malformed",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer onlytwo.parts",
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonMalformed},
		},
		{
			name:       "fallback-malformed-four-segments",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer a.b.c.d",
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonMalformed},
		},
		{
			name:       "fallback-empty-token",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer ",
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonMalformed},
		},
		{
			name:       "fallback-expired",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer " + greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1", "exp": past}),
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonExpired},
		},
		{
			name:       "fallback-exp-zero",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer " + greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1", "exp": 0}),
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonExpired},
		},
		{
			name:       "fallback-future-exp",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer " + greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1", "exp": future}),
			wantStatus: http.StatusOK,
			wantClaims: map[string]interface{}{"sub": "u1", "exp": future},
		},
		{
			name:       "fallback-no-exp",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer " + greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1", "role": "admin"}),
			wantStatus: http.StatusOK,
			wantClaims: map[string]interface{}{"sub": "u1", "role": "admin"},
		},
		{
			name:       "fallback-null-exp",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer " + greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1", "exp": nil}),
			wantStatus: http.StatusOK,
			wantClaims: map[string]interface{}{"sub": "u1", "exp": nil},
		},
		{
			name:       "fallback-string-exp",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer " + greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1", "exp": "tomorrow"}),
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonInvalid, Details: "exp claim must be a number, got string"},
		},
		{
			name:       "fallback-future-numeric-string-exp",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer " + greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1", "exp": "9999999999"}),
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonInvalid, Details: "exp claim must be a number, got string"},
		},
		{
			name:       "fallback-undecodable-payload",
			verifier:   &greenlenstest.Verifier{Ready: false},
			header:     "Bearer a.!!!.c",
			wantStatus: http.StatusUnauthorized,
			wantBody: &v1.ErrorResult{
				Error:   ReasonInvalid,
				Details: "failed to decode JWT payload: illegal base64 data at input byte 0",
			},
		},
		{
			name:       "fallback-disabled",
			verifier:   &greenlenstest.Verifier{Ready: false},
			opts:       []Option{WithRequireVerified(true)},
			header:     "Bearer " + greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1", "exp": future}),
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonInvalid, Details: jwtverifier.ErrNotReady.Error()},
		},
		{
			name:       "verifier-panic",
			verifier:   panicVerifier{},
			header:     "Bearer signed-token",
			wantStatus: http.StatusUnauthorized,
			wantBody:   &v1.ErrorResult{Error: ReasonInvalid, Details: "verifier exploded"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithClock(testClock)}, tt.opts...)
			g := New(tt.verifier, opts...)

			var gotClaims map[string]interface{}
			called := false
			next := http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				called = true
				gotClaims, _ = ClaimsFromContext(req.Context())
			})

			req := httptest.NewRequest(http.MethodPost, "/chat", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rw := httptest.NewRecorder()
			g.Require(next).ServeHTTP(rw, req)

			if rw.Code != tt.wantStatus {
				t.Errorf("Require() status = %d, want %d", rw.Code, tt.wantStatus)
			}
			if tt.wantBody != nil {
				if called {
					t.Errorf("Require() called next handler for rejected request")
				}
				if ct := rw.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Require() Content-Type = %q, want application/json", ct)
				}
				got := &v1.ErrorResult{}
				if err := json.Unmarshal(rw.Body.Bytes(), got); err != nil {
					t.Fatalf("Require() body is not JSON: %v", err)
				}
				if diff := deep.Equal(got, tt.wantBody); diff != nil {
					t.Errorf("Require() body diff = %v", diff)
				}
				return
			}
			if !called {
				t.Fatalf("Require() did not call next handler")
			}
			if diff := deep.Equal(gotClaims, tt.wantClaims); diff != nil {
				t.Errorf("Require() claims diff = %v", diff)
			}
			if fake, ok := tt.verifier.(*greenlenstest.Verifier); ok {
				if diff := deep.Equal(fake.Tokens(), tt.wantTokens); diff != nil {
					t.Errorf("Verify() tokens diff = %v", diff)
				}
			}
		})
	}
}

func TestGate_NotReadyNeverVerifies(t *testing.T) {
	v := &greenlenstest.Verifier{Ready: false, Claims: map[string]interface{}{"sub": "x"}}
	g := New(v, WithClock(testClock))
	for _, h := range []string{"Bearer a.b.c", "Bearer onlytwo.parts", "Bearer " + greenlenstest.UnsignedToken(map[string]interface{}{})} {
		req := httptest.NewRequest(http.MethodPost, "/chat", nil)
		req.Header.Set("Authorization", h)
		g.Authenticate(req)
	}
	if len(v.Tokens()) != 0 {
		t.Errorf("Authenticate() called Verify %d times on a verifier that is not ready", len(v.Tokens()))
	}
}

func TestGate_EndToEnd(t *testing.T) {
	v := &greenlenstest.Verifier{Ready: false}
	g := New(v, WithClock(testClock))
	now := testNow.Unix()

	tests := []struct {
		name       string
		token      string
		wantClaims map[string]interface{}
		wantReason string
	}{
		{
			name:       "admitted",
			token:      greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1", "exp": now + 3600}),
			wantClaims: map[string]interface{}{"sub": "u1", "exp": float64(now + 3600)},
		},
		{
			name:       "expired",
			token:      greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1", "exp": now - 10}),
			wantReason: ReasonExpired,
		},
		{
			name:       "malformed",
			token:      "onlytwo.parts",
			wantReason: ReasonMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/chat", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			claims, rej := g.Authenticate(req)
			if tt.wantReason != "" {
				if rej == nil || rej.Reason != tt.wantReason {
					t.Fatalf("Authenticate() rejection = %v, want %q", rej, tt.wantReason)
				}
				return
			}
			if rej != nil {
				t.Fatalf("Authenticate() unexpected rejection = %v", rej)
			}
			if diff := deep.Equal(claims, tt.wantClaims); diff != nil {
				t.Errorf("Authenticate() claims diff = %v", diff)
			}
		})
	}
}

func TestGate_RejectionErrors(t *testing.T) {
	g := New(&greenlenstest.Verifier{Ready: false}, WithClock(testClock))
	tests := []struct {
		name   string
		header string
		want   error
	}{
		{name: "no-token", header: "", want: ErrNoToken},
		{name: "malformed", header: "Bearer a.b", want: ErrMalformedToken},
		{name: "malformed-wraps-verifier", header: "Bearer a.b", want: jwtverifier.ErrMalformed},
		{name: "expired", header: "Bearer " + greenlenstest.UnsignedToken(map[string]interface{}{"exp": 1}), want: ErrExpiredToken},
		{name: "invalid", header: "Bearer a.!!!.c", want: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/chat", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			_, rej := g.Authenticate(req)
			if !errors.Is(rej, tt.want) {
				t.Errorf("Authenticate() rejection = %v, want %v", rej, tt.want)
			}
		})
	}
}

func TestGate_Mode(t *testing.T) {
	tests := []struct {
		name     string
		verifier Verifier
		opts     []Option
		want     string
	}{
		{name: "verified", verifier: &greenlenstest.Verifier{Ready: true}, want: static.AuthModeVerified},
		{name: "fallback", verifier: &greenlenstest.Verifier{Ready: false}, want: static.AuthModeFallback},
		{name: "nil-verifier", verifier: nil, want: static.AuthModeFallback},
		{
			name:     "unavailable",
			verifier: &greenlenstest.Verifier{Ready: false},
			opts:     []Option{WithRequireVerified(true)},
			want:     static.AuthModeUnavailable,
		},
		{
			name:     "require-verified-ready",
			verifier: &greenlenstest.Verifier{Ready: true},
			opts:     []Option{WithRequireVerified(true)},
			want:     static.AuthModeVerified,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.verifier, tt.opts...)
			if got := g.Mode(); got != tt.want {
				t.Errorf("Mode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGate_Timeout(t *testing.T) {
	v := &deadlineVerifier{}
	g := New(v, WithTimeout(5*time.Second))
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.Header.Set("Authorization", "Bearer signed-token")

	start := time.Now()
	_, rej := g.Authenticate(req)
	if rej != nil {
		t.Fatalf("Authenticate() unexpected rejection = %v", rej)
	}
	if !v.ok {
		t.Fatal("Verify() context has no deadline")
	}
	if v.deadline.Sub(start) > 5*time.Second+time.Second {
		t.Errorf("Verify() deadline = %v, want within 5s of %v", v.deadline, start)
	}
}

func TestGate_Metrics(t *testing.T) {
	g := New(&greenlenstest.Verifier{Ready: false}, WithClock(testClock))

	before := testutil.ToFloat64(metrics.FallbackAuthenticationsTotal)
	admitted := testutil.ToFloat64(metrics.AuthenticationsTotal.WithLabelValues(static.AuthModeFallback, "admitted"))

	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.Header.Set("Authorization", "Bearer "+greenlenstest.UnsignedToken(map[string]interface{}{"sub": "u1"}))
	g.Authenticate(req)

	if got := testutil.ToFloat64(metrics.FallbackAuthenticationsTotal); got != before+1 {
		t.Errorf("FallbackAuthenticationsTotal = %v, want %v", got, before+1)
	}
	got := testutil.ToFloat64(metrics.AuthenticationsTotal.WithLabelValues(static.AuthModeFallback, "admitted"))
	if got != admitted+1 {
		t.Errorf("AuthenticationsTotal = %v, want %v", got, admitted+1)
	}
}
