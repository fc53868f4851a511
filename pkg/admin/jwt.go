package admin

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthenticator accepts HMAC-signed bearer tokens from a fixed issuer.
// The operator name is taken from the sub claim.
type JWTAuthenticator struct {
	issuer string
	key    []byte
}

// NewJWTAuthenticator creates a JWT authenticator.
func NewJWTAuthenticator(issuer string, key []byte) (*JWTAuthenticator, error) {
	if issuer == "" {
		return nil, errors.New("jwt issuer is required")
	}
	if len(key) == 0 {
		return nil, errors.New("jwt signing key is required")
	}
	return &JWTAuthenticator{issuer: issuer, key: key}, nil
}

// Authenticate validates the bearer token. Invalid tokens are treated as
// missing credentials.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Operator, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, nil //nolint:nilnil // no credentials provided
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.key, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithExpirationRequired())
	if err != nil {
		slog.Debug("rejecting bearer token", "error", err)
		return nil, nil //nolint:nilnil // invalid token means unauthenticated
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, nil //nolint:nilnil // a token without a subject names nobody
	}
	return &Operator{Name: sub, AuthType: "jwt"}, nil
}

// ChainedAuthenticator tries authenticators in order and returns the first
// operator found.
type ChainedAuthenticator struct {
	authenticators []Authenticator
}

// NewChainedAuthenticator creates a chained authenticator.
func NewChainedAuthenticator(authenticators ...Authenticator) *ChainedAuthenticator {
	return &ChainedAuthenticator{authenticators: authenticators}
}

// Authenticate tries each authenticator in order. An error is returned only
// when no authenticator accepted the request.
func (c *ChainedAuthenticator) Authenticate(r *http.Request) (*Operator, error) {
	var lastErr error
	for _, auth := range c.authenticators {
		op, err := auth.Authenticate(r)
		if err == nil && op != nil {
			return op, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return nil, lastErr
}

// Verify interface compliance.
var (
	_ Authenticator = (*JWTAuthenticator)(nil)
	_ Authenticator = (*ChainedAuthenticator)(nil)
)
