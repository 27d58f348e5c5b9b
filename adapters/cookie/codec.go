package cookie

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/fundgate/core"
	"github.com/layer-3/fundgate/ports"
)

const AudienceCookie = "session:cookie"

// PlainCodec stores the bearer token as the cookie value unchanged
type PlainCodec struct{}

// NewPlainCodec creates a codec that keeps the token verbatim
func NewPlainCodec() ports.CookieCodec {
	return PlainCodec{}
}

// Encode returns the token itself
func (PlainCodec) Encode(token string, _ string) (string, error) {
	if token == "" {
		return "", core.ErrInvalidCookie
	}
	return token, nil
}

// Decode returns the cookie value itself
func (PlainCodec) Decode(value string) (string, error) {
	if value == "" {
		return "", core.ErrInvalidCookie
	}
	return value, nil
}

// JWTCodec wraps the bearer token in an HS256 JWT so a tampered cookie is
// rejected before it reaches the upstream.
type JWTCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTCodec creates a signed cookie codec. A zero ttl leaves exp unset.
func NewJWTCodec(secret []byte, ttl time.Duration) (*JWTCodec, error) {
	if len(secret) < 32 {
		return nil, errors.New("cookie signing secret must be at least 32 bytes")
	}
	return &JWTCodec{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Encode seals token into a signed JWT
func (c *JWTCodec) Encode(token string, address string) (string, error) {
	if token == "" {
		return "", core.ErrInvalidCookie
	}

	now := c.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  core.NormalizeAddress(address),
			IssuedAt: jwt.NewNumericDate(now),
			Audience: jwt.ClaimStrings{AudienceCookie},
		},
		Token: token,
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign cookie: %w", err)
	}

	return signed, nil
}

// Decode verifies the JWT and returns the sealed token
func (c *JWTCodec) Decode(value string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithAudience(AudienceCookie), jwt.WithTimeFunc(c.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidCookie, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Token == "" {
		return "", core.ErrInvalidCookie
	}

	return claims.Token, nil
}
