// Package auth provides the demo identity layer: a username is exchanged
// for a bearer token, with no credentials involved. It exists so the
// ledger can be keyed by user identity; it is not real authentication.
package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type contextKey struct{}

var userKey contextKey

// Sessions maps bearer tokens to usernames, in memory. Tokens live until
// logout or process restart — acceptable for a demo identity provider.
type Sessions struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewSessions creates an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{tokens: make(map[string]string)}
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Login handles POST /api/v1/auth/login. Any non-empty username is
// accepted and issued a fresh token.
func (s *Sessions) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}

	token := uuid.New().String()
	s.mu.Lock()
	s.tokens[token] = username
	s.mu.Unlock()

	slog.Info("user logged in", "user", username)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginResponse{Token: token, Username: username})
}

// Logout handles POST /api/v1/auth/logout, invalidating the caller's token.
func (s *Sessions) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token != "" {
		s.mu.Lock()
		delete(s.tokens, token)
		s.mu.Unlock()
	}
	w.WriteHeader(http.StatusNoContent)
}

// Middleware resolves the bearer token into a username on the request
// context. Requests without a valid token proceed as anonymous; the
// account service gives those a fresh, non-persisted ledger.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := bearerToken(r); token != "" {
			s.mu.RLock()
			username, ok := s.tokens[token]
			s.mu.RUnlock()
			if ok {
				r = r.WithContext(context.WithValue(r.Context(), userKey, username))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// UserFrom returns the authenticated username, or "" for anonymous.
func UserFrom(ctx context.Context) string {
	username, _ := ctx.Value(userKey).(string)
	return username
}

// WithUser returns a context carrying the given username. Used by tests.
func WithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey, username)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
