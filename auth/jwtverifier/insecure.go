package jwtverifier

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var stdToURL = strings.NewReplacer("+", "-", "/", "_")

// DecodeUnverified decodes the payload segment of a compact JWT WITHOUT
// checking its signature, header, or any claim. The token must have exactly
// three dot-separated segments, otherwise ErrMalformed is returned.
//
// WARNING: the returned claims are untrusted.
func DecodeUnverified(token string) (map[string]interface{}, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: got %d", ErrMalformed, len(parts))
	}

	// Tolerate padding and the standard base64 alphabet.
	seg := stdToURL.Replace(strings.TrimRight(parts[1], "="))
	payload, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT payload: %w", err)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse JWT payload: %w", err)
	}
	if claims == nil {
		return nil, errors.New("JWT payload is not a JSON object")
	}
	return claims, nil
}
