package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/headless-cms/authserver/internal/kv"
	"github.com/headless-cms/authserver/types"
	"github.com/samber/oops"
)

// DefaultSessionTTL is the lifetime of a session token and its cookie.
const DefaultSessionTTL = 24 * time.Hour

const revokedKeyPrefix = "revoked:"

// Claims are the JWT claims of a session token.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens and keeps the list of
// revoked token IDs in the KV store until each token would have expired.
type TokenIssuer struct {
	secret  []byte
	ttl     time.Duration
	revoked kv.Store
	logger  *slog.Logger
	now     func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration, revoked kv.Store, logger *slog.Logger) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenIssuer{
		secret:  []byte(secret),
		ttl:     ttl,
		revoked: revoked,
		logger:  logger,
		now:     time.Now,
	}
}

// TTL returns the session lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs a new session token for the user.
func (t *TokenIssuer) Issue(user types.User) (string, error) {
	now := t.now()
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").
			With("user_id", user.ID).
			Wrap(err)
	}
	return signed, nil
}

// Parse verifies the signature, expiry and revocation status of a token.
func (t *TokenIssuer) Parse(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return t.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err == nil && !token.Valid {
		err = errors.New("token is not valid")
	}
	if err != nil {
		return nil, oops.Code(CodeUnauthenticated).Public(MsgInvalidToken).Wrapf(err, "parse token")
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, publicError(CodeUnauthenticated, MsgInvalidToken)
	}

	revoked, err := t.revoked.Exists(ctx, revokedKeyPrefix+claims.ID)
	if err != nil {
		// Revocation checks fail open like the rate limiter.
		t.logger.WarnContext(ctx, "revocation list unavailable", "error", err)
		return claims, nil
	}
	if revoked {
		return nil, publicError(CodeUnauthenticated, MsgInvalidToken)
	}
	return claims, nil
}

// Revoke blocks the token ID until the token's own expiry.
func (t *TokenIssuer) Revoke(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" {
		return nil
	}
	ttl := t.ttl
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(t.now())
	}
	if ttl <= 0 {
		return nil
	}
	if err := t.revoked.Set(ctx, revokedKeyPrefix+claims.ID, claims.Subject, ttl); err != nil {
		return oops.Code("AUTH_TOKEN_REVOKE_FAILED").
			With("jti", claims.ID).
			Wrap(err)
	}
	return nil
}
