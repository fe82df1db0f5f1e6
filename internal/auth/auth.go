package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "gatehouse"

// Claims is the signed payload of a session token. PrincipalID pins the
// token to one row so a reused username never inherits it.
type Claims struct {
	jwt.RegisteredClaims
	PrincipalID int64 `json:"pid"`
}

type tokenStatus int

const (
	tokenValid tokenStatus = iota
	tokenExpired
	tokenMalformed
)

func (s tokenStatus) String() string {
	switch s {
	case tokenValid:
		return "valid"
	case tokenExpired:
		return "expired"
	default:
		return "malformed"
	}
}

// TokenCodec issues and validates stateless HS256 session tokens.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithTokenClock overrides the codec time source.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithTokenIssuer overrides the iss claim.
func WithTokenIssuer(issuer string) TokenOption {
	return func(c *TokenCodec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// NewTokenCodec constructs a codec signing with secret for ttl.
func NewTokenCodec(secret string, ttl time.Duration, opts ...TokenOption) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token ttl must be greater than zero")
	}
	c := &TokenCodec{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(c.issuer),
	)
	return c, nil
}

// TTL returns the configured token lifetime.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue signs a token for the principal with the given username and id and
// returns it with its expiry.
func (c *TokenCodec) Issue(subject string, principalID int64) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: token subject is required")
	}
	if principalID <= 0 {
		return "", time.Time{}, errors.New("auth: token principal id is required")
	}
	now := c.now().UTC()
	exp := now.Add(c.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		PrincipalID: principalID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Validate returns the token claims. Expired, tampered and malformed tokens
// all yield ErrInvalidToken.
func (c *TokenCodec) Validate(token string) (*Claims, error) {
	claims, status := c.inspect(token)
	if status != tokenValid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *TokenCodec) inspect(token string) (*Claims, tokenStatus) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, tokenMalformed
	}
	parsed, err := c.parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, tokenExpired
		}
		return nil, tokenMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, tokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.PrincipalID <= 0 {
		return nil, tokenMalformed
	}
	return claims, tokenValid
}
