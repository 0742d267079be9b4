package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Middleware attaches the caller's identity to the request context.
// Requests without credentials pass through anonymously; handlers decide
// whether identity is required. A present but invalid token is rejected
// with 401.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := BearerToken(r)
			if errors.Is(err, ErrMissingToken) {
				next.ServeHTTP(w, r)
				return
			}
			if err == nil {
				var userID string
				if userID, err = v.Verify(raw); err == nil {
					next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
					return
				}
			}
			unauthorized(w)
		})
	}
}

// HeaderMiddleware trusts a user id header set by an upstream gateway that
// has already authenticated the caller.
func HeaderMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get(header); id != "" {
				r = r.WithContext(WithUserID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "invalid bearer token",
		"code":  "UNAUTHENTICATED",
	})
}
