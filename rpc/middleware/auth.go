package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"magink/crypto"
	"magink/observability/logging"
)

type AuthConfig struct {
	HMACSecret string
	Issuer     string
	ClockSkew  time.Duration
}

type contextKey string

const (
	ContextKeyToken  contextKey = "rpc.token"
	ContextKeyCaller contextKey = "rpc.caller"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrAuthDisabled = errors.New("auth secret not configured")
)

// Authenticator validates HS256 bearer tokens whose subject is the caller's
// address.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Enabled reports whether a secret is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Middleware attaches the authenticated caller to the request context when a
// valid bearer token is present. Requests without a token pass through
// anonymously; handlers decide whether a caller is required. Invalid tokens
// are rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" || !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		caller, err := a.Authenticate(tokenString)
		if err != nil {
			a.logger.Warn("auth: token validation failed", "error", err, logging.MaskField("token", tokenString))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ContextKeyToken, tokenString)
		ctx = context.WithValue(ctx, ContextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate parses the token and returns the caller address in its
// subject claim.
func (a *Authenticator) Authenticate(tokenString string) (crypto.Address, error) {
	if !a.Enabled() {
		return crypto.Address{}, ErrAuthDisabled
	}
	if strings.TrimSpace(tokenString) == "" {
		return crypto.Address{}, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return crypto.Address{}, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return crypto.Address{}, ErrInvalidToken
	}
	caller, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return crypto.Address{}, errors.Join(ErrInvalidToken, err)
	}
	return caller, nil
}

// SignToken issues an HS256 token for caller valid for ttl.
func SignToken(secret, issuer string, caller crypto.Address, ttl time.Duration) (string, error) {
	key := []byte(strings.TrimSpace(secret))
	if len(key) == 0 {
		return "", ErrAuthDisabled
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   caller.String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (crypto.Address, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).(crypto.Address)
	return caller, ok
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
