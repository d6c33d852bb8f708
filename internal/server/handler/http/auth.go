// Package http provides the HTTP handlers and router of the PLMSync
// registry server.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/middleware"
	"github.com/atinyakov/PLMSync/internal/models"
)

// AuthService defines the authentication operations required by the HTTP handlers.
type AuthService interface {
	// Register creates the user and returns its PEM certificate and key.
	Register(ctx context.Context, login string) ([]byte, []byte, error)
	// Login records a login by an existing user.
	Login(ctx context.Context, login string) error
}

// AuthHandler handles HTTP requests for user registration and login.
type AuthHandler struct {
	// AuthService performs the underlying authentication operations.
	AuthService AuthService
	Log         *zap.Logger
}

// RegisterRequest represents the JSON payload for user registration.
type RegisterRequest struct {
	// Login is the username to register.
	Login string `json:"login"`
}

// Register handles user registration requests.
// It expects a JSON body with a non-empty "login" field and responds with
// the PEM-encoded client certificate and private key signed by the CA.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Login == "" {
		badRequest(w, "invalid request")
		return
	}

	certPEM, keyPEM, err := h.AuthService.Register(r.Context(), req.Login)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"cert": string(certPEM),
		"key":  string(keyPEM),
	})
}

// Login handles certificate-based login requests.
// The CommonName from the client certificate is used as the login.
// If the user exists, it returns a JSON status "ok" and the username.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	login := middleware.GetUserIDFromContext(r.Context())
	if login == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "client certificate required"})
		return
	}

	if err := h.AuthService.Login(r.Context(), login); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "user not found"})
			return
		}
		writeError(w, h.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"user":   login,
	})
}
