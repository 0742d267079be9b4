package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret", "tradeclash")
	token, err := v.Issue("alice", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret", "tradeclash")

	expired, err := v.Issue("alice", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := NewVerifier("other", "tradeclash").Issue("alice", time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := NewVerifier("secret", "someone-else").Issue("alice", time.Hour)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "tradeclash"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifier_UserIDClaimWins(t *testing.T) {
	v := NewVerifier("secret", "")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "bob",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ignored"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", id)
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret", "")
	var seen string
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	token, err := v.Issue("alice", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantUser string
	}{
		{"valid token", "Bearer " + token, http.StatusOK, "alice"},
		{"anonymous", "", http.StatusOK, ""},
		{"bad scheme", "Basic " + token, http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantUser, seen)
		})
	}
}

func TestHeaderMiddleware(t *testing.T) {
	var seen string
	h := HeaderMiddleware("X-User-ID")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "carol")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "carol", seen)
}
