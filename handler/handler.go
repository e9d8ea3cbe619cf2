// Package handler provides a client and handlers for responding to greenlens
// requests.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/m-lab/go/rtx"

	v1 "github.com/greenlens/greenlens/api/v1"
	"github.com/greenlens/greenlens/static"
)

// UserStore defines how the user handlers look up and register users.
type UserStore interface {
	Exists(username string) (bool, error)
	FindByUsername(username string) (*v1.User, error)
	Create(username, email, firebaseUID string) (*v1.User, error)
	Ping() error
}

// ChatGenerator defines how the Chat handler generates replies.
type ChatGenerator interface {
	Reply(ctx context.Context, message string, scores *v1.Scores) (string, error)
}

// Client contains state needed for the greenlens handlers.
type Client struct {
	UserStore
	ChatGenerator
	auth Authenticator
}

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
}

// NewClient creates a new client.
func NewClient(users UserStore, chat ChatGenerator, auth Authenticator) *Client {
	return &Client{
		UserStore:     users,
		ChatGenerator: chat,
		auth:          auth,
	}
}

// Live is a minimal handler to indicate that the server is operating at all.
func (c *Client) Live(rw http.ResponseWriter, req *http.Request) {
	fmt.Fprintf(rw, "ok")
}

// Ready reports whether the server is working as expected and ready to serve
// requests, i.e. whether the user store is reachable.
func (c *Client) Ready(rw http.ResponseWriter, req *http.Request) {
	if err := c.UserStore.Ping(); err != nil {
		log.WithError(err).Warn("User store is not reachable")
		rw.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(rw, "not ready")
		return
	}
	fmt.Fprintf(rw, "ok")
}

// Health reports the service status and the authentication mode. A
// "fallback" mode means tokens are not cryptographically verified.
func (c *Client) Health(rw http.ResponseWriter, req *http.Request) {
	setHeaders(rw)
	result := v1.HealthResult{
		Status:   "ok",
		AuthMode: c.auth.Mode(),
	}
	writeResult(rw, http.StatusOK, &result)
}

// readRequest decodes the JSON request body into v. A missing or malformed
// body leaves v unchanged, so that handlers report the missing fields.
func readRequest(rw http.ResponseWriter, req *http.Request, v interface{}) {
	if req.Body == nil {
		return
	}
	b, err := io.ReadAll(http.MaxBytesReader(rw, req.Body, static.MaxRequestBodyBytes))
	if err != nil {
		log.WithError(err).Debug("Failed to read request body")
		return
	}
	if len(b) == 0 {
		return
	}
	if err := json.Unmarshal(b, v); err != nil {
		log.WithError(err).Debug("Ignoring malformed request body")
	}
}

// setHeaders sets the response headers for JSON responses.
func setHeaders(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "application/json")
	// Prevent caching of result.
	// See also: https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/Cache-Control
	rw.Header().Set("Cache-Control", "no-store")
}

// writeResult marshals the result and writes the result to the response writer.
func writeResult(rw http.ResponseWriter, status int, result interface{}) {
	b, err := json.MarshalIndent(result, "", "  ")
	// Errors are only possible when marshalling incompatible types, like functions.
	rtx.PanicOnError(err, "Failed to format result")
	rw.WriteHeader(status)
	rw.Write(b)
}
