package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/strefethen/dunehd-driver-go/internal/api"
	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/config"
)

var publicPrefixes = []string{
	"/v1/health",
	"/metrics",
}

// Middleware validates JWT tokens for protected routes. With no secret
// configured every request passes through.
func Middleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.AuthEnabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			user, err := Authenticate(cfg, r)
			if err != nil {
				api.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// Authenticate validates the bearer token on r. The hub socket may also
// pass the token as the "token" query parameter since browsers cannot set
// headers on a WebSocket upgrade.
func Authenticate(cfg config.Config, r *http.Request) (User, error) {
	token, err := bearerToken(r)
	if err != nil {
		return User{}, err
	}

	payload, err := VerifyToken(cfg, token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return User{}, apperrors.NewUnauthorizedError("Token has expired", apperrors.ErrorCodeAuthTokenExpired)
		}
		return User{}, apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeAuthTokenInvalid)
	}
	return User{Sub: payload.Sub, ClientName: payload.ClientName}, nil
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", apperrors.NewUnauthorizedError("Missing Authorization header")
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
	}
	return strings.TrimSpace(token), nil
}

func isPublicRoute(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
