package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-trader/paper-engine/internal/auth"
)

func newRouter(sessions *auth.Sessions) chi.Router {
	r := chi.NewRouter()
	r.Use(sessions.Middleware)
	r.Post("/login", sessions.Login)
	r.Post("/logout", sessions.Logout)
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(auth.UserFrom(r.Context())))
	})
	return r
}

func postLogin(t *testing.T, router chi.Router, username string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username})
	req := httptest.NewRequest("POST", "/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLogin_IssuesToken(t *testing.T) {
	router := newRouter(auth.NewSessions())

	w := postLogin(t, router, "alice")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token    string `json:"token"`
		Username string `json:"username"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Token == "" {
		t.Fatal("missing token")
	}
	if resp.Username != "alice" {
		t.Errorf("username = %q, want alice", resp.Username)
	}

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Body.String() != "alice" {
		t.Errorf("whoami = %q, want alice", rec.Body.String())
	}
}

func TestLogin_EmptyUsernameRejected(t *testing.T) {
	router := newRouter(auth.NewSessions())

	for _, name := range []string{"", "   "} {
		if w := postLogin(t, router, name); w.Code != http.StatusBadRequest {
			t.Errorf("username %q: status = %d, want 400", name, w.Code)
		}
	}
}

func TestMiddleware_MissingOrBadTokenIsAnonymous(t *testing.T) {
	router := newRouter(auth.NewSessions())

	for _, header := range []string{"", "Bearer not-a-real-token", "Basic abc"} {
		req := httptest.NewRequest("GET", "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("header %q: status = %d", header, rec.Code)
		}
		if rec.Body.String() != "" {
			t.Errorf("header %q: expected anonymous, got %q", header, rec.Body.String())
		}
	}
}

func TestLogout_InvalidatesToken(t *testing.T) {
	router := newRouter(auth.NewSessions())

	w := postLogin(t, router, "bob")
	var resp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	req := httptest.NewRequest("POST", "/logout", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Body.String() != "" {
		t.Error("token still resolves after logout")
	}
}
