package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errAuthDisabled = errors.New("operator methods are disabled: no auth secret configured")

// authorize verifies the bearer token on an operator-only request. Tokens are
// HS256 JWTs signed with the node's configured secret.
func (s *Server) authorize(r *http.Request) error {
	if len(s.authSecret) == 0 {
		return errAuthDisabled
	}
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return errors.New("missing bearer token")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.authSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// OperatorToken mints a short-lived bearer token for operator tooling.
func OperatorToken(secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errAuthDisabled
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}
