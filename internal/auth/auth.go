// Package auth signs and verifies the pusher assertion a git hook sends to
// the daemon. The hook runs inside the git server after transport
// authentication, so it is trusted to name the pusher; the signature stops
// anything else on the socket from doing the same.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "ticketd-hook"

// DefaultTTL bounds how long a signed assertion is accepted.
const DefaultTTL = 2 * time.Minute

// ErrUnsigned is returned by Verify when a secret is configured but the
// request carries no token.
var ErrUnsigned = errors.New("push assertion is not signed")

// Claims identify who pushed to which repository.
type Claims struct {
	Repository string `json:"repo"`
	jwt.RegisteredClaims
}

// Pusher returns the authenticated pusher name.
func (c *Claims) Pusher() string { return c.Subject }

// Signer creates and checks HS256 assertions with a shared secret. A Signer
// with an empty secret signs nothing and accepts unsigned assertions.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a signer for secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), ttl: DefaultTTL, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (s *Signer) Enabled() bool { return len(s.secret) > 0 }

// Sign returns a token asserting that pusher pushed to repository. It returns
// "" when no secret is configured.
func (s *Signer) Sign(pusher, repository string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	now := s.now()
	claims := Claims{
		Repository: repository,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   pusher,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign push assertion: %w", err)
	}
	return signed, nil
}

// Verify checks token and returns the pusher it names. The assertion must
// match repository. Without a secret the fallback pusher is trusted as is.
func (s *Signer) Verify(token, repository, fallback string) (string, error) {
	if !s.Enabled() {
		return fallback, nil
	}
	if token == "" {
		return "", ErrUnsigned
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid push assertion: %w", err)
	}
	if claims.Repository != repository {
		return "", fmt.Errorf("push assertion is for %q, not %q", claims.Repository, repository)
	}
	if claims.Pusher() == "" {
		return "", fmt.Errorf("push assertion names no pusher")
	}
	return claims.Pusher(), nil
}
