// Package static contains static information for the greenlens service.
package static

import "time"

// Constants used by the authentication gate, the credential verifier and the
// route handlers.
const (
	BearerPrefix              = "Bearer "
	FirebaseIssuerPrefix      = "https://securetoken.google.com/"
	FirebaseJWKSURL           = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	FirebaseMaxSubjectLength  = 128
	JWKSCacheTTL              = time.Hour
	JWKSMinRefreshInterval    = time.Minute
	JWKSFetchTimeout          = 10 * time.Second
	VerifyTimeout             = 10 * time.Second
	GeminiURL                 = "https://generativelanguage.googleapis.com/v1/models/"
	GeminiModel               = "gemini-2.5-flash"
	ChatTimeout               = 60 * time.Second
	ChatNoResponse            = "No response"
	ScoreNotAvailable         = "N/A"
	RedisKeyPrefix            = "greenlens:"
	RedisConnectRetries       = 5
	BackoffInitialInterval    = time.Second
	BackoffMaxInterval        = 30 * time.Second
	MaxRequestBodyBytes       = 1 << 20 // 1 MiB.
	AuthModeVerified          = "verified"
	AuthModeFallback          = "fallback"
	AuthModeUnavailable       = "unavailable"
	DefaultPort               = "5000"
)
