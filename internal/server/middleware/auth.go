package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type traderKey struct{}

// AuthConfig configures request authentication. With no JWT secret and no
// API keys, authentication is disabled and requests carry no trader.
type AuthConfig struct {
	JWTSecret string
	// APIKeys maps a static key to the trader it authenticates.
	APIKeys map[string]string
	// Public paths bypass authentication.
	Public []string
}

func (c AuthConfig) enabled() bool {
	return c.JWTSecret != "" || len(c.APIKeys) > 0
}

// WithTrader stores the authenticated trader ID on ctx.
func WithTrader(ctx context.Context, traderID string) context.Context {
	return context.WithValue(ctx, traderKey{}, traderID)
}

// TraderFrom returns the authenticated trader ID, if any.
func TraderFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traderKey{}).(string)
	return id, ok && id != ""
}

// Auth returns middleware that resolves the caller to a trader ID from a
// Bearer JWT (HS256, subject = trader) or an X-API-Key header. Browsers that
// cannot set headers on websocket upgrades may pass ?token= instead.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.enabled() || isPublic(cfg.Public, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			trader, err := authenticate(cfg, r)
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTrader(r.Context(), trader)))
		})
	}
}

func isPublic(public []string, path string) bool {
	for _, p := range public {
		if path == p {
			return true
		}
	}
	return false
}

func authenticate(cfg AuthConfig, r *http.Request) (string, error) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		if trader, ok := lookupAPIKey(cfg.APIKeys, key); ok {
			return trader, nil
		}
		return "", errors.New("invalid api key")
	}

	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", errors.New("missing authentication token")
	}
	// A static key is accepted as a bearer token too.
	if trader, ok := lookupAPIKey(cfg.APIKeys, token); ok {
		return trader, nil
	}
	if cfg.JWTSecret == "" {
		return "", errors.New("invalid authentication token")
	}
	return ParseToken(cfg.JWTSecret, token)
}

// lookupAPIKey compares against every key in constant time.
func lookupAPIKey(keys map[string]string, presented string) (string, bool) {
	var (
		trader string
		found  bool
	)
	for k, id := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(presented)) == 1 {
			trader, found = id, true
		}
	}
	return trader, found
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// IssueToken signs an HS256 token whose subject is traderID.
func IssueToken(secret, traderID string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("auth: jwt secret is empty")
	}
	claims := jwt.RegisteredClaims{
		Subject:   traderID,
		Issuer:    "tradeguard",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates an HS256 token and returns its subject.
func ParseToken(secret, token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("invalid authentication token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("invalid authentication token: no subject")
	}
	return claims.Subject, nil
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}
