// Package token mints and verifies the short-lived bearer tokens the
// coordinator hands out after a successful login. Tokens are stateless
// HS256 JWTs binding a (bank, username) subject to an expiry; the
// coordinator keeps no session state beyond the signing secret.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid is returned for malformed, unsigned, or
	// wrongly-signed tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for well-formed tokens past expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Subject is the (bank, username) pair a token authorizes.
type Subject struct {
	Bank     string
	Username string
}

func (s Subject) String() string {
	return s.Bank + "/" + s.Username
}

type claims struct {
	Bank string `json:"bank"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an issuer. TTL bounds the validity of every minted
// token.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Mint issues a signed token for the given subject.
func (i *Issuer) Mint(sub Subject) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Bank: sub.Bank,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})
	signed, err := t.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the bound subject.
func (i *Issuer) Verify(tokenString string) (Subject, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Subject{}, ErrTokenExpired
		}
		return Subject{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if c.Subject == "" || c.Bank == "" {
		return Subject{}, fmt.Errorf("%w: missing subject claims", ErrTokenInvalid)
	}
	return Subject{Bank: c.Bank, Username: c.Subject}, nil
}
