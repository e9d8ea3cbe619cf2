// Package proxy issues requests to upstream JSON services and parses their
// responses.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNoContent is returned when the upstream returns http.StatusNoContent.
var ErrNoContent = errors.New("no content from server")

// StatusError is returned when the upstream replies with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// maxErrorBody limits how much of an error response is kept in StatusError.
const maxErrorBody = 512

// UnmarshalResponse issues the given request with client and unmarshals the
// JSON response into result. A nil client uses http.DefaultClient. Responses
// with a non-2xx status are reported as *StatusError.
func UnmarshalResponse(client *http.Client, req *http.Request, result interface{}) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		// Cannot unmarshal empty content.
		return resp, ErrNoContent
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	return resp, json.Unmarshal(b, result)
}
