package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newSessionMiddlewareFixture() (*TokenManager, func(next http.Handler) http.Handler) {
	tm := NewTokenManager("test-secret-key-for-tokens", time.Hour, 5*time.Minute)
	return tm, RequireSession(tm)
}

func TestRequireSession_ValidToken_InjectsClaims(t *testing.T) {
	tm, middleware := newSessionMiddlewareFixture()

	token, err := tm.GenerateSessionToken("acct_123", "alice")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		claims, ok := SessionFromContext(r.Context())
		if !ok {
			t.Fatal("expected session claims in context")
		}
		if claims.AccountID != "acct_123" {
			t.Errorf("expected account acct_123, got %s", claims.AccountID)
		}
		if claims.Username != "alice" {
			t.Errorf("expected username alice, got %s", claims.Username)
		}
		w.WriteHeader(http.StatusOK)
	})

	middleware(next).ServeHTTP(w, req)

	if !nextCalled {
		t.Error("expected next handler to be called")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestRequireSession_MissingHeader_Rejected(t *testing.T) {
	_, middleware := newSessionMiddlewareFixture()

	req := httptest.NewRequest("GET", "/me", nil)
	w := httptest.NewRecorder()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})

	middleware(next).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestRequireSession_MalformedHeader_Rejected(t *testing.T) {
	tm, middleware := newSessionMiddlewareFixture()

	token, err := tm.GenerateSessionToken("acct_123", "alice")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	headers := []string{
		token,             // missing scheme
		"Basic " + token,  // wrong scheme
		"Bearer",          // missing token
		"bearer " + token, // scheme is case-sensitive
	}

	for _, header := range headers {
		req := httptest.NewRequest("GET", "/me", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()

		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("next handler should not be called for header %q", header)
		})

		middleware(next).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected status 401, got %d", header, w.Code)
		}
	}
}

func TestRequireSession_ChallengeToken_Rejected(t *testing.T) {
	tm, middleware := newSessionMiddlewareFixture()

	// A challenge token proves a password check, not a full authentication
	token, err := tm.GenerateChallengeToken("acct_123", "alice")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})

	middleware(next).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestRequireSession_ExpiredToken_Rejected(t *testing.T) {
	expired := NewTokenManager("test-secret-key-for-tokens", -time.Minute, -time.Minute)
	_, middleware := newSessionMiddlewareFixture()

	token, err := expired.GenerateSessionToken("acct_123", "alice")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not be called")
	})

	middleware(next).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestSessionFromContext_EmptyContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/me", nil)

	claims, ok := SessionFromContext(req.Context())
	if ok {
		t.Error("expected no claims in an empty context")
	}
	if claims != nil {
		t.Errorf("expected nil claims, got %+v", claims)
	}
}
