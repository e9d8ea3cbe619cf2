package handler

import (
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	v1 "github.com/greenlens/greenlens/api/v1"
	"github.com/greenlens/greenlens/memorystore"
	"github.com/greenlens/greenlens/metrics"
)

const (
	errUsernameRequired = "Username required"
	errFieldsRequired   = "username, email and firebaseUid required"
	errUserNotFound     = "User not found"
	errUserExists       = "User already exists"
)

// CheckUsername implements /api/users/check-username requests.
func (c *Client) CheckUsername(rw http.ResponseWriter, req *http.Request) {
	setHeaders(rw)
	body := v1.UsernameRequest{}
	readRequest(rw, req, &body)

	if body.Username == "" {
		writeResult(rw, http.StatusBadRequest, &v1.ErrorResult{Error: errUsernameRequired})
		metrics.RequestsTotal.WithLabelValues("check-username", "missing username", http.StatusText(http.StatusBadRequest)).Inc()
		return
	}

	exists, err := c.UserStore.Exists(body.Username)
	if err != nil {
		log.WithError(err).Error("Failed to check username")
		writeResult(rw, http.StatusInternalServerError, &v1.ErrorResult{Error: err.Error()})
		metrics.RequestsTotal.WithLabelValues("check-username", "user store", http.StatusText(http.StatusInternalServerError)).Inc()
		return
	}

	writeResult(rw, http.StatusOK, &v1.ExistsResult{Exists: exists})
	metrics.RequestsTotal.WithLabelValues("check-username", "success", http.StatusText(http.StatusOK)).Inc()
}

// GetEmail implements /api/users/get-email requests.
func (c *Client) GetEmail(rw http.ResponseWriter, req *http.Request) {
	setHeaders(rw)
	body := v1.UsernameRequest{}
	readRequest(rw, req, &body)

	if body.Username == "" {
		writeResult(rw, http.StatusBadRequest, &v1.ErrorResult{Error: errUsernameRequired})
		metrics.RequestsTotal.WithLabelValues("get-email", "missing username", http.StatusText(http.StatusBadRequest)).Inc()
		return
	}

	user, err := c.UserStore.FindByUsername(body.Username)
	if errors.Is(err, memorystore.ErrUserNotFound) {
		writeResult(rw, http.StatusNotFound, &v1.ErrorResult{Error: errUserNotFound})
		metrics.RequestsTotal.WithLabelValues("get-email", "not found", http.StatusText(http.StatusNotFound)).Inc()
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to find user")
		writeResult(rw, http.StatusInternalServerError, &v1.ErrorResult{Error: err.Error()})
		metrics.RequestsTotal.WithLabelValues("get-email", "user store", http.StatusText(http.StatusInternalServerError)).Inc()
		return
	}

	writeResult(rw, http.StatusOK, &v1.EmailResult{Email: user.Email})
	metrics.RequestsTotal.WithLabelValues("get-email", "success", http.StatusText(http.StatusOK)).Inc()
}

// CreateUser implements /api/users requests.
func (c *Client) CreateUser(rw http.ResponseWriter, req *http.Request) {
	setHeaders(rw)
	body := v1.CreateUserRequest{}
	readRequest(rw, req, &body)

	if body.Username == "" || body.Email == "" || body.FirebaseUID == "" {
		writeResult(rw, http.StatusBadRequest, &v1.ErrorResult{Error: errFieldsRequired})
		metrics.RequestsTotal.WithLabelValues("create-user", "missing fields", http.StatusText(http.StatusBadRequest)).Inc()
		return
	}

	user, err := c.UserStore.Create(body.Username, body.Email, body.FirebaseUID)
	if errors.Is(err, memorystore.ErrUserExists) {
		writeResult(rw, http.StatusBadRequest, &v1.ErrorResult{Error: errUserExists})
		metrics.RequestsTotal.WithLabelValues("create-user", "exists", http.StatusText(http.StatusBadRequest)).Inc()
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to create user")
		writeResult(rw, http.StatusInternalServerError, &v1.ErrorResult{Error: err.Error()})
		metrics.RequestsTotal.WithLabelValues("create-user", "user store", http.StatusText(http.StatusInternalServerError)).Inc()
		return
	}

	log.WithFields(log.Fields{"id": user.ID, "username": user.Username}).Info("Created user")
	writeResult(rw, http.StatusCreated, user)
	metrics.RequestsTotal.WithLabelValues("create-user", "success", http.StatusText(http.StatusCreated)).Inc()
}
