package handler

// Authenticator reports how protected routes authenticate requests.
type Authenticator interface {
	// Mode returns the name of the authentication mode (for health checks).
	Mode() string
}
