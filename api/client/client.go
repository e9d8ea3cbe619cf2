// Package client implements a client for the greenlens API v1.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/m-lab/go/flagx"

	v1 "github.com/greenlens/greenlens/api/v1"
)

// DefaultTimeout is the default request timeout.
const DefaultTimeout = 60 * time.Second

var (
	// ErrNoUserAgent is returned when the client has no user agent.
	ErrNoUserAgent = errors.New("client has no user-agent specified")
	// ErrNoToken is returned by protected calls when the client has no token.
	ErrNoToken = errors.New("client has no bearer token")
	// ErrUnauthorized is wrapped by errors for 401 responses.
	ErrUnauthorized = errors.New("request was not authorized")
)

// APIError describes a non-2xx API response.
type APIError struct {
	StatusCode int
	Result     v1.ErrorResult
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("greenlens API returned status %d", e.StatusCode)
	if e.Result.Error != "" {
		msg += ": " + e.Result.Error
	}
	if e.Result.Details != "" {
		msg += " (" + e.Result.Details + ")"
	}
	return msg
}

// Unwrap returns ErrUnauthorized for 401 responses.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Client is a greenlens API client.
type Client struct {
	// HTTPClient is the client that will perform the request. By default
	// it is initialized to http.DefaultClient.
	HTTPClient *http.Client

	// Timeout is the maximum amount of time to wait for each request.
	Timeout time.Duration

	// UserAgent is the mandatory user agent to be used.
	UserAgent string

	// BaseURL is the base url used to contact the greenlens API.
	BaseURL *url.URL

	// Token is the bearer token sent with protected requests.
	Token string
}

// baseURL is the default base URL.
var baseURL = flagx.MustNewURL("http://localhost:5000/")

func init() {
	flag.Var(&baseURL, "greenlens.url", "The base url for the greenlens API")
}

// NewClient creates a new Client instance. The userAgent must not be empty.
// NewClient sets the BaseURL to the -greenlens.url flag.
func NewClient(userAgent, token string) *Client {
	return &Client{
		HTTPClient: http.DefaultClient,
		Timeout:    DefaultTimeout,
		UserAgent:  userAgent,
		BaseURL:    baseURL.URL,
		Token:      token,
	}
}

// CheckUsername reports whether the username is registered.
func (c *Client) CheckUsername(ctx context.Context, username string) (bool, error) {
	result := &v1.ExistsResult{}
	err := c.post(ctx, "/api/users/check-username", false, &v1.UsernameRequest{Username: username}, result)
	return result.Exists, err
}

// GetEmail returns the email registered for the username.
func (c *Client) GetEmail(ctx context.Context, username string) (string, error) {
	result := &v1.EmailResult{}
	err := c.post(ctx, "/api/users/get-email", false, &v1.UsernameRequest{Username: username}, result)
	return result.Email, err
}

// CreateUser registers a new user.
func (c *Client) CreateUser(ctx context.Context, r *v1.CreateUserRequest) (*v1.User, error) {
	result := &v1.User{}
	err := c.post(ctx, "/api/users", false, r, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Chat sends a chat message and returns the reply.
func (c *Client) Chat(ctx context.Context, message string, scores *v1.Scores) (string, error) {
	result := &v1.ChatResult{}
	err := c.post(ctx, "/chat", true, &v1.ChatRequest{Message: message, Scores: scores}, result)
	if err != nil {
		return "", err
	}
	return result.Reply, nil
}

// Logout confirms the client token with the server.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/api/logout", true, nil, &v1.MessageResult{})
}

// Health returns the server status.
func (c *Client) Health(ctx context.Context) (*v1.HealthResult, error) {
	result := &v1.HealthResult{}
	err := c.do(ctx, http.MethodGet, "/health", false, nil, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, p string, auth bool, body, result interface{}) error {
	return c.do(ctx, http.MethodPost, p, auth, body, result)
}

// do is an internal function used to perform the request.
func (c *Client) do(ctx context.Context, method, p string, auth bool, body, result interface{}) error {
	if c.UserAgent == "" {
		// user agent is required.
		return ErrNoUserAgent
	}
	if auth && c.Token == "" {
		return ErrNoToken
	}
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	reqctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	reqURL := *c.BaseURL
	reqURL.Path = path.Join(reqURL.Path, p)
	req, err := http.NewRequestWithContext(reqctx, method, reqURL.String(), r)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// Chat failures report the cause in "error" too; the body may also
		// be empty or not JSON.
		json.Unmarshal(b, &apiErr.Result)
		return apiErr
	}
	return json.Unmarshal(b, result)
}
