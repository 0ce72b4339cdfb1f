package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jwhitfield/gatehouse/internal/auth"
	"github.com/jwhitfield/gatehouse/internal/models"
)

func sessionRequest(accountID string) *http.Request {
	req := httptest.NewRequest("POST", "/test", nil)
	claims := &models.TokenClaims{AccountID: accountID, Type: models.TokenTypeSession}
	return req.WithContext(context.WithValue(req.Context(), auth.SessionContextKey, claims))
}

func TestRateLimitBySession_EnforcesLimit(t *testing.T) {
	mw := RateLimitBySession(3)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, sessionRequest("acct-limit-test"))
		if recorder.Code != http.StatusOK {
			t.Errorf("request %d failed with status %d, expected 200", i+1, recorder.Code)
		}
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, sessionRequest("acct-limit-test"))
	if recorder.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", recorder.Code)
	}

	if contentType := recorder.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}
}

func TestRateLimitBySession_IsolatesAccountBuckets(t *testing.T) {
	mw := RateLimitBySession(2)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, sessionRequest("acct-a"))
		if recorder.Code != http.StatusOK {
			t.Errorf("account A request %d failed", i+1)
		}
	}

	// Account B has its own bucket
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, sessionRequest("acct-b"))
	if recorder.Code != http.StatusOK {
		t.Errorf("account B should have an independent rate limit, got status %d", recorder.Code)
	}
}

func TestRateLimitBySession_FallbackToIP(t *testing.T) {
	mw := RateLimitBySession(5)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// No session claims - keyed by IP instead
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:8080"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", recorder.Code)
	}
}

func TestRateLimitByIP_FirstRequestSucceeds(t *testing.T) {
	mw := RateLimitByIP(DefaultAuthRateLimit())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", recorder.Code)
	}
}
