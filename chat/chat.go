// Package chat generates sustainability advice with the Gemini API.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/template"
	"time"

	log "github.com/sirupsen/logrus"

	v1 "github.com/greenlens/greenlens/api/v1"
	"github.com/greenlens/greenlens/metrics"
	"github.com/greenlens/greenlens/proxy"
	"github.com/greenlens/greenlens/static"
)

// ErrNoAPIKey is returned by NewClient when the API key is empty.
var ErrNoAPIKey = errors.New("gemini API key is required")

var promptTmpl = template.Must(template.New("prompt").Funcs(template.FuncMap{
	"score": score,
}).Parse(`
You are a sustainability AI assistant.

Composite: {{score .Scores.Composite}}
Carbon: {{score .Scores.Carbon}}
Water: {{score .Scores.Water}}
Energy: {{score .Scores.Energy}}
Waste: {{score .Scores.Waste}}
Lifestyle: {{score .Scores.Lifestyle}}

User Question:
{{.Message}}

Give concise sustainability advice.
`))

// score formats a score value, or static.ScoreNotAvailable when missing.
func score(v interface{}) string {
	if v == nil {
		return static.ScoreNotAvailable
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type candidate struct {
	Content content `json:"content"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

// text returns the first text part of the first candidate.
func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Content.Parts[0].Text
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a Client for model. The base URL is the models
// collection, e.g. static.GeminiURL.
func NewClient(apiKey string, base *url.URL, model string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + model + ":generateContent"
	return &Client{
		apiKey:     apiKey,
		endpoint:   u.String(),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Prompt renders the prompt sent for message and scores. Missing scores are
// reported as static.ScoreNotAvailable.
func Prompt(message string, scores *v1.Scores) (string, error) {
	if scores == nil {
		scores = &v1.Scores{}
	}
	var b bytes.Buffer
	err := promptTmpl.Execute(&b, struct {
		Message string
		Scores  *v1.Scores
	}{message, scores})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Reply asks the model for advice about message. It returns
// static.ChatNoResponse when the model returns no text.
func (c *Client) Reply(ctx context.Context, message string, scores *v1.Scores) (string, error) {
	t := time.Now()
	prompt, err := Prompt(message, scores)
	if err != nil {
		metrics.ChatRequestDuration.WithLabelValues("prompt error").Observe(time.Since(t).Seconds())
		return "", err
	}
	body, err := json.Marshal(&generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		metrics.ChatRequestDuration.WithLabelValues("marshal error").Observe(time.Since(t).Seconds())
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		metrics.ChatRequestDuration.WithLabelValues("request error").Observe(time.Since(t).Seconds())
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	// The key travels in a header so that it never appears in error messages.
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp := &generateResponse{}
	_, err = proxy.UnmarshalResponse(c.httpClient, req, resp)
	if err != nil {
		metrics.ChatRequestDuration.WithLabelValues("upstream error").Observe(time.Since(t).Seconds())
		log.WithField("endpoint", c.endpoint).WithError(err).Warn("Gemini request failed")
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := resp.text()
	if text == "" {
		metrics.ChatRequestDuration.WithLabelValues("no response").Observe(time.Since(t).Seconds())
		return static.ChatNoResponse, nil
	}
	metrics.ChatRequestDuration.WithLabelValues("OK").Observe(time.Since(t).Seconds())
	return text, nil
}
