// Package middleware provides the HTTP middleware chain: authentication,
// request logging, metrics, CORS, and per-identity rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coinjam/service_layer/internal/httputil"
	"github.com/coinjam/service_layer/pkg/logger"
)

type contextKey string

const identityKey contextKey = "identity"

// Claims are the JWT claims issued by the miniapp gateway. Subject carries
// the caller identity, either fid:<number> or wallet:<address>.
type Claims struct {
	DisplayName string `json:"display_name,omitempty"`
	Wallet      string `json:"wallet,omitempty"`
	AvatarURI   string `json:"avatar_uri,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller extracted from a verified token.
type Identity struct {
	ID          string
	DisplayName string
	Wallet      string
	AvatarURI   string
}

// AuthMiddleware verifies bearer tokens and attaches the caller identity to
// the request context.
type AuthMiddleware struct {
	secret    []byte
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. Requests to
// skipPaths pass through unauthenticated.
func NewAuthMiddleware(secret string, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{
		secret:    []byte(secret),
		log:       log,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorBody{Error: "missing authorization header"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorBody{Error: "malformed authorization header"})
			return
		}

		identity, err := m.verify(parts[1])
		if err != nil {
			m.log.WithError(err).WithField("path", r.URL.Path).Warn("token rejected")
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorBody{Error: "invalid token"})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func (m *AuthMiddleware) verify(tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, jwt.ErrTokenInvalidClaims
	}
	return Identity{
		ID:          claims.Subject,
		DisplayName: claims.DisplayName,
		Wallet:      claims.Wallet,
		AvatarURI:   claims.AvatarURI,
	}, nil
}

// WithIdentity stores the caller identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the authenticated caller from the context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.ID != ""
}
