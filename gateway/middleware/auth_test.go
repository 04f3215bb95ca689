package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "stakingd-test-secret"

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "stakingd",
		Audience:   "staking-clients",
	}, nil)
}

func subjectEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := SubjectFromContext(r.Context())
		if err != nil {
			t.Fatalf("subject missing: %v", err)
		}
		_, _ = w.Write([]byte(subject))
	})
}

func mintToken(t *testing.T, req TokenRequest) string {
	t.Helper()
	if req.Secret == "" {
		req.Secret = testSecret
	}
	if req.Issuer == "" {
		req.Issuer = "stakingd"
	}
	if req.Audience == "" {
		req.Audience = "staking-clients"
	}
	token, err := IssueToken(req)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestAuthenticatorAcceptsScopedToken(t *testing.T) {
	auth := newTestAuthenticator()
	handler := auth.Middleware(ScopeStake)(subjectEcho(t))

	token := mintToken(t, TokenRequest{Subject: "stake1owner", Scopes: []string{ScopeStake}})
	req := httptest.NewRequest(http.MethodPost, "/v1/stake", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Body.String() != "stake1owner" {
		t.Fatalf("unexpected subject %q", res.Body.String())
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	auth := newTestAuthenticator()
	handler := auth.Middleware(ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "malformed", header: "Token abc", status: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + mintToken(t, TokenRequest{Secret: "other", Subject: "a", Scopes: []string{ScopeAdmin}}), status: http.StatusUnauthorized},
		{name: "wrong audience", header: "Bearer " + mintToken(t, TokenRequest{Audience: "elsewhere", Subject: "a", Scopes: []string{ScopeAdmin}}), status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + mintToken(t, TokenRequest{Subject: "a", Scopes: []string{ScopeAdmin}, Now: time.Now().Add(-3 * time.Hour), TTL: time.Hour}), status: http.StatusUnauthorized},
		{name: "missing scope", header: "Bearer " + mintToken(t, TokenRequest{Subject: "a", Scopes: []string{ScopeStake}}), status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/config", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
		})
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	handler := auth.Middleware(ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := SubjectFromContext(r.Context()); err == nil {
			t.Fatalf("expected no subject when auth disabled")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/config", nil))
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
}

func TestCORSEchoesAllowedOrigin(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example", "https://ops.example"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodOptions, "/v1/stake", nil)
	req.Header.Set("Origin", "https://ops.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example" {
		t.Fatalf("unexpected origin %q", got)
	}
}
