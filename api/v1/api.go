// Package v1 defines the request and response types of the greenlens API.
//
// Every error response is a JSON object with an "error" field. Requests
// rejected by the authentication gate always use status 401 and one of a small
// set of machine-stable error strings, optionally with "details".
package v1

import "time"

// ErrorResult is returned for every failed request.
type ErrorResult struct {
	// Error is a short, stable description of the failure.
	Error string `json:"error"`

	// Details carries the underlying cause, when one is available.
	Details string `json:"details,omitempty"`
}

// UsernameRequest is the body of check-username and get-email requests.
type UsernameRequest struct {
	Username string `json:"username"`
}

// ExistsResult reports whether a username is taken.
type ExistsResult struct {
	Exists bool `json:"exists"`
}

// EmailResult contains the email registered for a username.
type EmailResult struct {
	Email string `json:"email"`
}

// CreateUserRequest is the body of a user creation request.
type CreateUserRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirebaseUID string `json:"firebaseUid"`
}

// User is a registered user as returned by the API.
type User struct {
	ID          string    `json:"_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	FirebaseUID string    `json:"firebaseUid"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Scores are the sustainability scores a client attaches to a chat message.
// Values are kept as decoded from JSON; a nil value is reported as missing.
type Scores struct {
	Composite interface{} `json:"composite,omitempty"`
	Carbon    interface{} `json:"carbon,omitempty"`
	Water     interface{} `json:"water,omitempty"`
	Energy    interface{} `json:"energy,omitempty"`
	Waste     interface{} `json:"waste,omitempty"`
	Lifestyle interface{} `json:"lifestyle,omitempty"`
}

// ChatRequest is the body of a chat request.
type ChatRequest struct {
	Message string  `json:"message"`
	Scores  *Scores `json:"scores,omitempty"`
}

// ChatResult is returned by chat requests. On failure Reply holds a generic
// message and Error the cause.
type ChatResult struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

// MessageResult is a plain acknowledgement.
type MessageResult struct {
	Message string `json:"message"`
}

// HealthResult reports the service status and the active authentication mode.
type HealthResult struct {
	Status   string `json:"status"`
	AuthMode string `json:"auth_mode"`
}
