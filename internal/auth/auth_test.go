package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTokenIssueAndValidate(t *testing.T) {
	clock := newFakeClock()
	codec, err := NewTokenCodec("s3cret", time.Hour, WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}

	token, exp, err := codec.Issue("alice", 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry: %v", exp)
	}

	claims, err := codec.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "alice" || claims.PrincipalID != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	clock.Advance(59 * time.Minute)
	if _, err := codec.Validate(token); err != nil {
		t.Fatalf("token rejected before expiry: %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := codec.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after ttl, got %v", err)
	}
	if _, status := codec.inspect(token); status != tokenExpired {
		t.Fatalf("expected expired status, got %s", status)
	}
}

func TestTokenRejectsTamperedSignature(t *testing.T) {
	codec, err := NewTokenCodec("s3cret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	token, _, err := codec.Issue("alice", 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := codec.Validate(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, status := codec.inspect(tampered); status != tokenMalformed {
		t.Fatalf("expected malformed status, got %s", status)
	}
}

func TestTokenRejectsForeignAndIncompleteTokens(t *testing.T) {
	clock := newFakeClock()
	codec, err := NewTokenCodec("s3cret", time.Hour, WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	other, err := NewTokenCodec("different", time.Hour, WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	foreign, _, err := other.Issue("alice", 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:   defaultIssuer,
		Subject:  "alice",
		IssuedAt: jwt.NewNumericDate(clock.Now()),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    defaultIssuer,
		IssuedAt:  jwt.NewNumericDate(clock.Now()),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    defaultIssuer,
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	noPID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    defaultIssuer,
		Subject:   "alice",
		IssuedAt:  jwt.NewNumericDate(clock.Now()),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-token",
		"foreign secret": foreign,
		"missing exp":    noExp,
		"missing sub":    noSub,
		"alg none":       none,
		"missing pid":    noPID,
	}
	for name, token := range cases {
		if _, err := codec.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewTokenCodecValidatesArguments(t *testing.T) {
	if _, err := NewTokenCodec("", time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := NewTokenCodec("s3cret", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	codec, err := NewTokenCodec("s3cret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	if _, _, err := codec.Issue("alice", 0); err == nil {
		t.Fatalf("expected error for missing principal id")
	}
}
