// Package auth verifies the connect-time credential of a chat connection.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// ErrExpiredToken is returned when the token has expired. It wraps
// chat.ErrInvalidToken so callers that only care about validity can keep
// using that sentinel.
var ErrExpiredToken = fmt.Errorf("token has expired: %w", chat.ErrInvalidToken)

// Config holds JWT verification settings.
type Config struct {
	Secret string `mapstructure:"jwt_secret"`
	// Issuer, when set, must match the token's iss claim.
	Issuer string `mapstructure:"issuer"`
	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration `mapstructure:"leeway"`
}

// Claims are the claims a chat token carries.
type Claims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTVerifier implements chat.IdentityVerifier for HMAC-signed tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

var _ chat.IdentityVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier. An empty secret is rejected because
// every token would then verify against the empty key.
func NewJWTVerifier(cfg Config) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: empty JWT secret")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}

	return &JWTVerifier{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify validates token and returns the identity it names.
func (v *JWTVerifier) Verify(_ context.Context, token string) (chat.Identity, error) {
	claims, err := v.ParseClaims(token)
	if err != nil {
		return chat.Identity{}, err
	}
	return chat.Identity{UserID: chat.UserID(claims.UserID), Username: claims.Username}, nil
}

// ParseClaims validates token and returns its claims. The username falls
// back to the subject claim when the token has no username.
func (v *JWTVerifier) ParseClaims(token string) (*Claims, error) {
	parsed, err := v.parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, chat.ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", chat.ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, chat.ErrInvalidToken
	}
	if claims.Username == "" {
		claims.Username = claims.Subject
	}
	if claims.UserID <= 0 || claims.Username == "" {
		return nil, fmt.Errorf("%w: missing user claims", chat.ErrInvalidToken)
	}
	return claims, nil
}

// Sign issues a token for id that expires after ttl. Token issuance is not
// part of the chat surface; this exists for tooling and tests.
func (v *JWTVerifier) Sign(id chat.Identity, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   int64(id.UserID),
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
