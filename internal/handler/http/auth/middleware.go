package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"notification-gateway/internal/handler/http/respond"
)

// MinSecretLength is the shortest HS256 secret accepted.
const MinSecretLength = 32

// ErrWeakSecret is returned when the signing secret is too short.
var ErrWeakSecret = fmt.Errorf("JWT secret must be at least %d bytes", MinSecretLength)

type ctxKey string

const ctxPrincipal ctxKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    string
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalFromContext returns the caller stored by the middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	return p, ok
}

// Claims are the JWT claims the gateway issues and accepts.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer tokens and enforces role permissions.
type Authenticator struct {
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator builds an Authenticator for an HS256 secret.
func NewAuthenticator(secret string, logger *slog.Logger) (*Authenticator, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{secret: []byte(secret), logger: logger}, nil
}

// Middleware lets public endpoints through and requires a valid token
// whose role permits the method and path everywhere else.
//
// Parameters:
//   - next: the handler to protect
//
// Returns:
//   - 401 for a missing, malformed, expired or mis-signed token
//   - 403 when the role lacks permission
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsPublicEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		p, err := a.validate(r.Header.Get("Authorization"))
		RecordAuthzCheckDuration(time.Since(start).Seconds())
		if err != nil {
			RecordAuthRequest("unknown", resultInvalid)
			a.logger.Debug("bearer token rejected",
				slog.String("path", r.URL.Path),
				slog.String("reason", err.Error()))
			w.Header().Set("WWW-Authenticate", `Bearer realm="notification-gateway"`)
			respond.SafeError(w, http.StatusUnauthorized, fmt.Errorf("invalid or missing bearer token: %w", err))
			return
		}

		if !checkRolePermission(p.Role, r.Method, r.URL.Path) {
			RecordAuthRequest(p.Role, resultForbidden)
			RecordForbiddenAttempt(p.Role, r.Method)
			a.logger.Warn("forbidden request",
				slog.String("subject", p.Subject),
				slog.String("role", p.Role),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path))
			respond.JSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}

		RecordAuthRequest(p.Role, resultSuccess)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (a *Authenticator) validate(header string) (Principal, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Principal{}, errors.New("missing bearer token")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, prefix), &claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("invalid sub claim")
	}
	if !ValidRole(claims.Role) {
		return Principal{}, errors.New("invalid role claim")
	}
	return Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

// IssueToken signs a token for subject with role, valid for ttl.
func IssueToken(secret, subject, role string, ttl time.Duration) (string, error) {
	if len(secret) < MinSecretLength {
		return "", ErrWeakSecret
	}
	if subject == "" || !ValidRole(role) || ttl <= 0 {
		return "", errors.New("invalid token parameters: subject, known role and positive ttl are required")
	}

	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "notification-gateway",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
