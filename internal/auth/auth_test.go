package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestInitializeAuth(t *testing.T) {
	InitializeAuth("test-secret", true)

	if authConfig == nil {
		t.Fatal("authConfig should not be nil after initialization")
	}
	if string(authConfig.JwtSecret) != "test-secret" {
		t.Errorf("Expected JwtSecret 'test-secret', got %q", string(authConfig.JwtSecret))
	}
	if !authConfig.Enabled {
		t.Error("Expected Enabled to be true")
	}
}

func TestIsAuthEnabled(t *testing.T) {
	authConfig = nil
	if IsAuthEnabled() {
		t.Error("Expected IsAuthEnabled to return false when authConfig is nil")
	}

	InitializeAuth("secret", false)
	if IsAuthEnabled() {
		t.Error("Expected IsAuthEnabled to return false when auth is disabled")
	}

	InitializeAuth("secret", true)
	if !IsAuthEnabled() {
		t.Error("Expected IsAuthEnabled to return true when auth is enabled")
	}
}

func TestGenerateJWT(t *testing.T) {
	authConfig = nil
	if _, err := GenerateJWT(&User{Subject: "analyst"}, 0); err == nil {
		t.Error("Expected error when authConfig is nil")
	}

	InitializeAuth("test-secret-key", true)

	if _, err := GenerateJWT(&User{Subject: "  "}, 0); err == nil {
		t.Error("Expected error for blank subject")
	}
	if _, err := GenerateJWT(nil, 0); err == nil {
		t.Error("Expected error for nil user")
	}

	user := &User{Subject: "analyst", Name: "Research Desk"}
	tokenString, err := GenerateJWT(user, time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate JWT: %v", err)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return authConfig.JwtSecret, nil
	})
	if err != nil {
		t.Fatalf("Failed to parse generated JWT: %v", err)
	}
	if !token.Valid {
		t.Error("Generated JWT should be valid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		t.Fatal("Failed to parse claims")
	}
	if claims.Subject != user.Subject {
		t.Errorf("Expected subject %q, got %q", user.Subject, claims.Subject)
	}
	if claims.Name != user.Name {
		t.Errorf("Expected name %q, got %q", user.Name, claims.Name)
	}
	if claims.Issuer != "filingrag" {
		t.Errorf("Expected issuer 'filingrag', got %q", claims.Issuer)
	}
	if d := time.Until(claims.ExpiresAt.Time); d > time.Hour+time.Minute || d < time.Hour-time.Minute {
		t.Errorf("Expected expiry ~1h from now, got %v", d)
	}
}

func TestValidateJWT(t *testing.T) {
	authConfig = nil
	if _, err := ValidateJWT("some-token"); err == nil {
		t.Error("Expected error when authConfig is nil")
	}

	InitializeAuth("test-secret-key", true)

	if _, err := ValidateJWT("invalid-token"); err == nil {
		t.Error("Expected error for invalid token")
	}

	tokenString, err := GenerateJWT(&User{Subject: "analyst", Name: "Research Desk"}, 0)
	if err != nil {
		t.Fatalf("Failed to generate JWT for testing: %v", err)
	}
	validated, err := ValidateJWT(tokenString)
	if err != nil {
		t.Fatalf("Failed to validate JWT: %v", err)
	}
	if validated.Subject != "analyst" || validated.Name != "Research Desk" {
		t.Errorf("Unexpected user %+v", validated)
	}

	sign := func(claims Claims, key []byte) string {
		t.Helper()
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}
		return s
	}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "filingrag",
			Subject:   "analyst",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}}, authConfig.JwtSecret)},
		{"wrong key", sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "filingrag",
			Subject:   "analyst",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}, []byte("wrong-key"))},
		{"wrong issuer", sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "analyst",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}, authConfig.JwtSecret)},
		{"no expiry", sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  "filingrag",
			Subject: "analyst",
		}}, authConfig.JwtSecret)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateJWT(tt.token); err == nil {
				t.Errorf("Expected error for %s token", tt.name)
			}
		})
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	handlerCalled := false
	var seen *User
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		seen = GetUserFromContext(r)
		w.WriteHeader(200)
		if _, err := w.Write([]byte("OK")); err != nil {
			http.Error(w, "Failed to write response", http.StatusInternalServerError)
		}
	})

	// Auth disabled
	InitializeAuth("secret", false)
	middleware := OptionalAuthMiddleware(testHandler)

	req := httptest.NewRequest("GET", "/ask", nil)
	w := httptest.NewRecorder()
	middleware.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("Handler should be called when auth is disabled")
	}
	if w.Code != 200 {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	// Auth enabled, no token
	InitializeAuth("secret", true)
	middleware = OptionalAuthMiddleware(testHandler)

	req = httptest.NewRequest("GET", "/ask", nil)
	w = httptest.NewRecorder()
	handlerCalled = false
	middleware.ServeHTTP(w, req)

	if handlerCalled {
		t.Error("Handler should not be called when auth is enabled and no token provided")
	}
	if w.Code != 401 {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Authentication required") {
		t.Error("Expected authentication required message")
	}

	tokenString, err := GenerateJWT(&User{Subject: "analyst"}, 0)
	if err != nil {
		t.Fatalf("Failed to generate JWT: %v", err)
	}

	// Valid bearer header
	req = httptest.NewRequest("GET", "/ask", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w = httptest.NewRecorder()
	handlerCalled, seen = false, nil
	middleware.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("Handler should be called with valid token")
	}
	if seen == nil || seen.Subject != "analyst" {
		t.Errorf("Expected analyst in request context, got %+v", seen)
	}

	// Valid cookie
	req = httptest.NewRequest("GET", "/ask", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: tokenString})
	w = httptest.NewRecorder()
	handlerCalled = false
	middleware.ServeHTTP(w, req)

	if !handlerCalled {
		t.Error("Handler should be called with valid token in cookie")
	}

	// Invalid token
	req = httptest.NewRequest("GET", "/ask", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")
	w = httptest.NewRecorder()
	handlerCalled = false
	middleware.ServeHTTP(w, req)

	if handlerCalled {
		t.Error("Handler should not be called with invalid token")
	}
	if w.Code != 401 {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid authentication token") {
		t.Error("Expected invalid token message")
	}
}

func TestGetUserFromContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/ask", nil)
	if user := GetUserFromContext(req); user != nil {
		t.Error("Expected nil user when not in context")
	}

	ctx := context.WithValue(req.Context(), UserContextKey, &User{Subject: "analyst"})
	req = req.WithContext(ctx)
	user := GetUserFromContext(req)
	if user == nil {
		t.Fatal("Expected user from context")
	}
	if user.Subject != "analyst" {
		t.Errorf("Expected subject 'analyst', got %q", user.Subject)
	}

	ctx = context.WithValue(req.Context(), UserContextKey, "not-a-user")
	req = req.WithContext(ctx)
	if user := GetUserFromContext(req); user != nil {
		t.Error("Expected nil user when wrong type in context")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"header", "Bearer abc", "", "abc"},
		{"header wins over cookie", "Bearer abc", "def", "abc"},
		{"cookie", "", "def", "def"},
		{"basic scheme ignored", "Basic abc", "", ""},
		{"nothing", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "auth_token", Value: tt.cookie})
			}
			if got := bearerToken(req); got != tt.want {
				t.Errorf("bearerToken = %q, want %q", got, tt.want)
			}
		})
	}
}

func BenchmarkGenerateJWT(b *testing.B) {
	InitializeAuth("benchmark-secret", true)
	user := &User{Subject: "analyst"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := GenerateJWT(user, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkValidateJWT(b *testing.B) {
	InitializeAuth("benchmark-secret", true)
	token, err := GenerateJWT(&User{Subject: "analyst"}, 0)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ValidateJWT(token); err != nil {
			b.Fatal(err)
		}
	}
}
