package gate

import (
	"errors"
	"fmt"

	v1 "github.com/greenlens/greenlens/api/v1"
)

// Rejection reasons returned to clients. These strings are part of the API.
const (
	ReasonNoToken   = "Unauthorized: No token provided"
	ReasonInvalid   = "Unauthorized: Invalid token"
	ReasonMalformed = "Unauthorized: Malformed token"
	ReasonExpired   = "Unauthorized: Token expired"
)

var (
	// ErrNoToken is wrapped by rejections of requests without a bearer token.
	ErrNoToken = errors.New("no bearer token provided")
	// ErrInvalidToken is wrapped by rejections of tokens that failed
	// verification or could not be decoded.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMalformedToken is wrapped by rejections of tokens that do not have
	// three segments.
	ErrMalformedToken = errors.New("malformed token")
	// ErrExpiredToken is wrapped by rejections of expired tokens in fallback
	// mode.
	ErrExpiredToken = errors.New("token expired")
)

// Rejection is the terminal outcome of a failed authentication.
type Rejection struct {
	// Reason is the client-visible reason string.
	Reason string
	// Details is an optional client-visible message.
	Details string
	// Err is the server-side cause.
	Err error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return r.Reason
	}
	return r.Reason + ": " + r.Err.Error()
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Result returns the JSON body written for the rejection.
func (r *Rejection) Result() *v1.ErrorResult {
	return &v1.ErrorResult{
		Error:   r.Reason,
		Details: r.Details,
	}
}

// outcome returns a metric label for the rejection.
func (r *Rejection) outcome() string {
	switch {
	case errors.Is(r, ErrNoToken):
		return "no token"
	case errors.Is(r, ErrMalformedToken):
		return "malformed"
	case errors.Is(r, ErrExpiredToken):
		return "expired"
	default:
		return "invalid"
	}
}

func noToken() *Rejection {
	return &Rejection{Reason: ReasonNoToken, Err: ErrNoToken}
}

func invalid(err error) *Rejection {
	return &Rejection{
		Reason:  ReasonInvalid,
		Details: err.Error(),
		Err:     fmt.Errorf("%w: %w", ErrInvalidToken, err),
	}
}

func malformed(err error) *Rejection {
	return &Rejection{
		Reason: ReasonMalformed,
		Err:    fmt.Errorf("%w: %w", ErrMalformedToken, err),
	}
}

func expired(exp, now float64) *Rejection {
	return &Rejection{
		Reason: ReasonExpired,
		Err:    fmt.Errorf("%w: exp %.0f is before %.0f", ErrExpiredToken, exp, now),
	}
}
