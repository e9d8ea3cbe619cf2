package handler

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	v1 "github.com/greenlens/greenlens/api/v1"
	"github.com/greenlens/greenlens/auth/gate"
	"github.com/greenlens/greenlens/metrics"
)

// subject returns the token subject of the authenticated caller, if any.
// Claims may come from fallback mode and must not be trusted for
// authorization.
func subject(req *http.Request) string {
	claims, ok := gate.ClaimsFromContext(req.Context())
	if !ok {
		return ""
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	if uid, ok := claims["user_id"].(string); ok {
		return uid
	}
	return ""
}

// Chat implements /chat requests. It must be wrapped by the authentication
// gate.
func (c *Client) Chat(rw http.ResponseWriter, req *http.Request) {
	setHeaders(rw)
	body := v1.ChatRequest{}
	readRequest(rw, req, &body)

	if body.Message == "" {
		writeResult(rw, http.StatusBadRequest, &v1.ChatResult{Reply: "Message required"})
		metrics.RequestsTotal.WithLabelValues("chat", "missing message", http.StatusText(http.StatusBadRequest)).Inc()
		return
	}

	reply, err := c.ChatGenerator.Reply(req.Context(), body.Message, body.Scores)
	if err != nil {
		log.WithField("subject", subject(req)).WithError(err).Error("Chat request failed")
		writeResult(rw, http.StatusInternalServerError, &v1.ChatResult{Reply: "Server Error", Error: err.Error()})
		metrics.RequestsTotal.WithLabelValues("chat", "generator", http.StatusText(http.StatusInternalServerError)).Inc()
		return
	}

	writeResult(rw, http.StatusOK, &v1.ChatResult{Reply: reply})
	metrics.RequestsTotal.WithLabelValues("chat", "success", http.StatusText(http.StatusOK)).Inc()
}

// Logout implements /api/logout requests. Sessions are not stored, so logout
// only confirms that the caller presented an acceptable token. It must be
// wrapped by the authentication gate.
func (c *Client) Logout(rw http.ResponseWriter, req *http.Request) {
	setHeaders(rw)
	log.WithField("subject", subject(req)).Info("User logged out")
	writeResult(rw, http.StatusOK, &v1.MessageResult{Message: "Logged out successfully"})
	metrics.RequestsTotal.WithLabelValues("logout", "success", http.StatusText(http.StatusOK)).Inc()
}
