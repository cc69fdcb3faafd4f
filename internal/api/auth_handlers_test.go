package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSignupCreatesSession(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := strings.NewReader(`{"username":"Clipper","email":"clipper@example.com","password":"longenough","fullName":"Clip Maker"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", body)
	rec := httptest.NewRecorder()
	handler.Signup(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var resp authResponse
	decodeData(t, env, &resp)
	if resp.User.Username != "clipper" {
		t.Fatalf("expected normalized username clipper, got %q", resp.User.Username)
	}
	if resp.User.Email != "clipper@example.com" {
		t.Fatalf("unexpected email %q", resp.User.Email)
	}

	cookies := rec.Result().Cookies()
	found := false
	for _, cookie := range cookies {
		if cookie.Name == "clipvault_session" && cookie.Value != "" {
			found = true
			if !cookie.HttpOnly {
				t.Fatal("expected session cookie to be http-only")
			}
		}
	}
	if !found {
		t.Fatal("expected session cookie to be set")
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := strings.NewReader(`{"username":"x","email":"x@example.com","password":"short"}`)
	rec := httptest.NewRecorder()
	handler.Signup(rec, httptest.NewRequest(http.MethodPost, "/api/auth/signup", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success {
		t.Fatal("expected failure envelope")
	}
}

func TestLoginWithUsernameOrEmail(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.Signup(rec, httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"username":"viewer","email":"viewer@example.com","password":"longenough"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d", rec.Code)
	}

	for _, login := range []string{"viewer", "viewer@example.com", "VIEWER"} {
		rec := httptest.NewRecorder()
		handler.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"login":"`+login+`","password":"longenough"}`)))
		if rec.Code != http.StatusOK {
			t.Fatalf("login with %q returned %d: %s", login, rec.Code, rec.Body.String())
		}
	}

	rec = httptest.NewRecorder()
	handler.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"login":"viewer","password":"wrong password"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.Signup(rec, httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		strings.NewReader(`{"username":"sess","email":"sess@example.com","password":"longenough"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d", rec.Code)
	}
	var token string
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == "clipvault_session" {
			token = cookie.Value
		}
	}
	if token == "" {
		t.Fatal("expected session token cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.Session(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected active session, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.Session(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on revoke, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.Session(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after revoke, got %d", rec.Code)
	}
}

func TestSignupMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	handler.Signup(rec, httptest.NewRequest(http.MethodGet, "/api/auth/signup", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "POST" {
		t.Fatalf("expected Allow header POST, got %q", allow)
	}
}
