package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/testingx"
	log "github.com/sirupsen/logrus"

	v1 "github.com/greenlens/greenlens/api/v1"
	"github.com/greenlens/greenlens/proxy"
	"github.com/greenlens/greenlens/static"
)

func init() {
	// Disable most logs for unit tests.
	log.SetLevel(log.FatalLevel)
}

func TestPrompt(t *testing.T) {
	tests := []struct {
		name    string
		message string
		scores  *v1.Scores
		want    []string
	}{
		{
			name:    "all-scores",
			message: "How do I save water?",
			scores: &v1.Scores{
				Composite: float64(72), Carbon: 3.5, Water: "good",
				Energy: float64(0), Waste: float64(10), Lifestyle: true,
			},
			want: []string{
				"Composite: 72\n", "Carbon: 3.5\n", "Water: good\n", "Energy: 0\n",
				"Waste: 10\n", "Lifestyle: true\n",
				"User Question:\nHow do I save water?\n",
				"Give concise sustainability advice.",
			},
		},
		{
			name:    "large-scores",
			message: "hi",
			scores:  &v1.Scores{Composite: float64(1500000), Carbon: 0.000001},
			want:    []string{"Composite: 1500000\n", "Carbon: 0.000001\n", "Water: N/A\n"},
		},
		{
			name:    "nil-scores",
			message: "hi",
			want: []string{
				"Composite: N/A\n", "Carbon: N/A\n", "Water: N/A\n",
				"Energy: N/A\n", "Waste: N/A\n", "Lifestyle: N/A\n",
			},
		},
		{
			name:    "partial-scores",
			message: "hi",
			scores:  &v1.Scores{Carbon: float64(40)},
			want:    []string{"Composite: N/A\n", "Carbon: 40\n", "Lifestyle: N/A\n"},
		},
		{
			name:    "message-is-not-escaped",
			message: "<b>a & b</b>",
			want:    []string{"<b>a & b</b>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Prompt(tt.message, tt.scores)
			testingx.Must(t, err, "failed to render prompt")
			if !strings.Contains(got, "You are a sustainability AI assistant.") {
				t.Errorf("Prompt() = %q, missing preamble", got)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("Prompt() = %q, want it to contain %q", got, w)
				}
			}
		})
	}
}

func TestClient_Reply(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		want       string
		wantErr    bool
		wantStatus int
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"candidates":[{"content":{"parts":[{"text":"Take shorter showers."}]}}]}`,
			want:   "Take shorter showers.",
		},
		{
			name:   "no-candidates",
			status: http.StatusOK,
			body:   `{"candidates":[]}`,
			want:   static.ChatNoResponse,
		},
		{
			name:   "no-parts",
			status: http.StatusOK,
			body:   `{"candidates":[{"content":{"parts":[]}}]}`,
			want:   static.ChatNoResponse,
		},
		{
			name:   "empty-text",
			status: http.StatusOK,
			body:   `{"candidates":[{"content":{"parts":[{"text":""}]}}]}`,
			want:   static.ChatNoResponse,
		},
		{
			name:       "error-status",
			status:     http.StatusBadRequest,
			body:       `{"error":{"message":"API key not valid"}}`,
			wantErr:    true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:    "error-bad-json",
			status:  http.StatusOK,
			body:    `not json`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReq generateRequest
			var gotPath, gotKey, gotQuery string
			srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				gotPath = req.URL.Path
				gotQuery = req.URL.RawQuery
				gotKey = req.Header.Get("x-goog-api-key")
				rtx.Must(json.NewDecoder(req.Body).Decode(&gotReq), "failed to decode request")
				rw.WriteHeader(tt.status)
				rw.Write([]byte(tt.body))
			}))
			defer srv.Close()

			base, err := url.Parse(srv.URL + "/v1/models/")
			rtx.Must(err, "failed to parse url")
			c, err := NewClient("fake-key", base, "gemini-test", time.Second)
			testingx.Must(t, err, "failed to create client")

			scores := &v1.Scores{Composite: float64(50)}
			got, err := c.Reply(context.Background(), "hello", scores)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantStatus != 0 {
				var serr *proxy.StatusError
				if !errors.As(err, &serr) || serr.StatusCode != tt.wantStatus {
					t.Errorf("Reply() error = %v, want status %d", err, tt.wantStatus)
				}
			}
			if err != nil && strings.Contains(err.Error(), "fake-key") {
				t.Errorf("Reply() error leaks the API key: %v", err)
			}
			if got != tt.want {
				t.Errorf("Reply() = %q, want %q", got, tt.want)
			}

			if gotPath != "/v1/models/gemini-test:generateContent" {
				t.Errorf("Reply() path = %q", gotPath)
			}
			if gotQuery != "" {
				t.Errorf("Reply() query = %q, want empty", gotQuery)
			}
			if gotKey != "fake-key" {
				t.Errorf("Reply() api key = %q, want fake-key", gotKey)
			}
			wantPrompt, _ := Prompt("hello", scores)
			want := generateRequest{Contents: []content{{Parts: []part{{Text: wantPrompt}}}}}
			if diff := deep.Equal(gotReq, want); diff != nil {
				t.Errorf("Reply() request diff = %v", diff)
			}
		})
	}
}

func TestClient_ReplyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base, err := url.Parse(srv.URL + "/")
	rtx.Must(err, "failed to parse url")
	srv.Close()

	c, err := NewClient("fake-key", base, static.GeminiModel, time.Second)
	testingx.Must(t, err, "failed to create client")
	_, err = c.Reply(context.Background(), "hello", nil)
	if err == nil {
		t.Fatal("Reply() error = nil, want error")
	}
	if strings.Contains(err.Error(), "fake-key") {
		t.Errorf("Reply() error leaks the API key: %v", err)
	}
}

func TestNewClient(t *testing.T) {
	base, _ := url.Parse(static.GeminiURL)
	_, err := NewClient("", base, static.GeminiModel, time.Second)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("NewClient() error = %v, want %v", err, ErrNoAPIKey)
	}
	c, err := NewClient("key", base, static.GeminiModel, time.Second)
	testingx.Must(t, err, "failed to create client")
	want := "https://generativelanguage.googleapis.com/v1/models/gemini-2.5-flash:generateContent"
	if c.endpoint != want {
		t.Errorf("NewClient() endpoint = %q, want %q", c.endpoint, want)
	}
}
