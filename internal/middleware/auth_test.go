package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockVerifier struct {
	verify func(ctx context.Context, idToken string) (*auth.Token, error)
	tokens []string
}

func (m *mockVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	m.tokens = append(m.tokens, idToken)
	if m.verify != nil {
		return m.verify(ctx, idToken)
	}
	return nil, errors.New("not implemented")
}

func acceptAll() *mockVerifier {
	return &mockVerifier{verify: func(_ context.Context, idToken string) (*auth.Token, error) {
		return &auth.Token{UID: "user-" + idToken, Claims: map[string]interface{}{"email": "me@example.com"}}, nil
	}}
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_ValidToken(t *testing.T) {
	var capturedUserID string
	var capturedAuthInfo AuthInfo
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		require.True(t, ok, "UserID should be in context")
		capturedUserID = userID

		info, ok := GetAuth(r)
		require.True(t, ok, "AuthInfo should be in context")
		capturedAuthInfo = info
		w.WriteHeader(http.StatusOK)
	})

	verifier := acceptAll()
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer abc")
	w := httptest.NewRecorder()
	NewAuthMiddleware(verifier).RequireAuth(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-abc", capturedUserID)
	assert.Equal(t, AuthInfo{UserID: "user-abc", Email: "me@example.com"}, capturedAuthInfo)
	assert.Equal(t, []string{"abc"}, verifier.tokens)
}

func TestRequireAuth_CookieFallback(t *testing.T) {
	verifier := acceptAll()
	called := false
	req := httptest.NewRequest(http.MethodGet, "/api/sync/1/events", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "from-cookie"})
	w := httptest.NewRecorder()
	NewAuthMiddleware(verifier).RequireAuth(okHandler(&called)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
	assert.Equal(t, []string{"from-cookie"}, verifier.tokens)
}

func TestRequireAuth_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		verify     func(ctx context.Context, idToken string) (*auth.Token, error)
		wantBody   string
	}{
		{name: "missing header", wantBody: "Missing authorization header"},
		{name: "basic scheme", authHeader: "Basic dXNlcjpwYXNz", wantBody: "Invalid authorization header format"},
		{name: "bearer without token", authHeader: "Bearer", wantBody: "Invalid authorization header format"},
		{name: "extra parts", authHeader: "Bearer a b", wantBody: "Invalid authorization header format"},
		{name: "lowercase scheme", authHeader: "bearer abc", wantBody: "Invalid authorization header format"},
		{
			name:       "expired token",
			authHeader: "Bearer expired",
			verify: func(context.Context, string) (*auth.Token, error) {
				return nil, errors.New("ID token has expired")
			},
			wantBody: "Invalid token",
		},
		{
			name:       "injection attempt",
			authHeader: "Bearer '; DROP TABLE users; --",
			verify: func(context.Context, string) (*auth.Token, error) {
				return nil, errors.New("invalid token")
			},
			wantBody: "Invalid authorization header format",
		},
		{
			name:       "very long token",
			authHeader: "Bearer " + strings.Repeat("a", 10000),
			verify: func(context.Context, string) (*auth.Token, error) {
				return nil, errors.New("invalid token")
			},
			wantBody: "Invalid token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			NewAuthMiddleware(&mockVerifier{verify: tt.verify}).RequireAuth(okHandler(&called)).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			assert.False(t, called, "handler must not run")
		})
	}
}

func TestRequireAuth_EmailClaimTypes(t *testing.T) {
	tests := []struct {
		name          string
		emailClaim    interface{}
		expectedEmail string
	}{
		{"valid string email", "user@example.com", "user@example.com"},
		{"non-string email claim (int)", 12345, ""},
		{"non-string email claim (bool)", true, ""},
		{"nil email claim", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &mockVerifier{verify: func(context.Context, string) (*auth.Token, error) {
				claims := map[string]interface{}{}
				if tt.emailClaim != nil {
					claims["email"] = tt.emailClaim
				}
				return &auth.Token{UID: "test-user", Claims: claims}, nil
			}}

			var captured AuthInfo
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured, _ = GetAuth(r)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", "Bearer test-token")
			w := httptest.NewRecorder()
			NewAuthMiddleware(verifier).RequireAuth(handler).ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.expectedEmail, captured.Email)
		})
	}
}

func TestGetUserID_NoAuthInContext(t *testing.T) {
	_, ok := GetUserID(context.Background())
	assert.False(t, ok)
}

func TestGetAuth_WrongTypeInContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), AuthKey, "not-auth-info"))
	_, ok := GetAuth(req)
	assert.False(t, ok)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	called := false
	h := Chain(okHandler(&called), mark("outer"), mark("inner"), Logger)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}
