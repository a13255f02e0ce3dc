// Package auth verifies the bearer tokens issued by the site's login flow.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims carried by a forum session token. Subject is the numeric user id
// and ID the token id used for revocation.
type Claims struct {
	Nick string `json:"nick,omitempty"`
	jwt.RegisteredClaims
}

// Validate runs after the registered claims checks.
func (c Claims) Validate() error {
	if c.Subject == "" || c.ID == "" {
		return errors.New("token has no subject or id")
	}
	return nil
}

// Verifier checks HS256 session tokens against a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

// Verify returns the token's claims. Expired tokens give ErrExpiredToken,
// every other failure ErrInvalidToken.
func (v *Verifier) Verify(token string) (Claims, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpiredToken
	default:
		return Claims{}, ErrInvalidToken
	}
}

// Expiry is when the token stops being accepted.
func (c Claims) Expiry() time.Time {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}
