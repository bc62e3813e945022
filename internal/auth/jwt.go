package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/strefethen/dunehd-driver-go/internal/config"
)

const (
	tokenIssuer   = "dunehd-driver"
	tokenAudience = "dunehd-driver-client"
)

// TokenPayload represents the validated payload data.
type TokenPayload struct {
	Sub        string
	ClientName string
}

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrNoSecret     = errors.New("jwt secret not configured")
)

type tokenClaims struct {
	ClientName string `json:"clientName"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed access token valid for the configured expiry.
func GenerateToken(cfg config.Config, payload TokenPayload) (string, error) {
	if cfg.JWTSecret == "" {
		return "", ErrNoSecret
	}
	if payload.Sub == "" || payload.ClientName == "" {
		return "", ErrTokenInvalid
	}

	now := time.Now()
	claims := tokenClaims{
		ClientName: payload.ClientName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.Sub,
			Issuer:    tokenIssuer,
			Audience:  []string{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.JWTTokenExpirySec) * time.Second)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// VerifyToken parses and validates the JWT.
func VerifyToken(cfg config.Config, token string) (TokenPayload, error) {
	if cfg.JWTSecret == "" {
		return TokenPayload{}, ErrNoSecret
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
	)

	claims := &tokenClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenPayload{}, ErrTokenExpired
		}
		return TokenPayload{}, ErrTokenInvalid
	}
	if parsed == nil || !parsed.Valid {
		return TokenPayload{}, ErrTokenInvalid
	}

	payload := TokenPayload{
		Sub:        claims.Subject,
		ClientName: claims.ClientName,
	}
	if payload.Sub == "" || payload.ClientName == "" {
		return TokenPayload{}, ErrTokenInvalid
	}
	return payload, nil
}
