package admin

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// contextKey is a private type for context keys in admin package.
type contextKey string

const operatorKey contextKey = "operator"

// Operator identifies an authenticated caller.
type Operator struct {
	Name     string
	AuthType string
}

// GetOperator returns the Operator from context, or nil if not set.
func GetOperator(ctx context.Context) *Operator {
	o, _ := ctx.Value(operatorKey).(*Operator)
	return o
}

// Authenticator validates operator credentials. A nil operator with a nil
// error means the request carries no acceptable credentials.
type Authenticator interface {
	Authenticate(r *http.Request) (*Operator, error)
}

type hashedKey struct {
	name string
	hash []byte
}

// APIKeyAuthenticator validates access via API keys.
type APIKeyAuthenticator struct {
	Keys   map[string]Operator // key -> operator
	hashed []hashedKey
}

// NewAPIKeyAuthenticator creates an authenticator for keys. Each entry is
// either "name:key" or a bare key. A key starting with "$2" is a bcrypt
// hash of the real key.
func NewAPIKeyAuthenticator(keys []string) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{Keys: make(map[string]Operator, len(keys))}
	for i, k := range keys {
		name, key, ok := strings.Cut(k, ":")
		if !ok {
			name, key = fmt.Sprintf("key-%d", i+1), k
		}
		name, key = strings.TrimSpace(name), strings.TrimSpace(key)
		switch {
		case key == "":
		case strings.HasPrefix(key, "$2"):
			a.hashed = append(a.hashed, hashedKey{name: name, hash: []byte(key)})
		default:
			a.Keys[key] = Operator{Name: name, AuthType: "api_key"}
		}
	}
	return a
}

// Authenticate checks the X-API-Key or Authorization header.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*Operator, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = bearerToken(r)
	}
	if key == "" {
		return nil, nil //nolint:nilnil // nil operator with nil error means no credentials provided
	}

	if op, ok := a.Keys[key]; ok {
		return &op, nil
	}
	for _, h := range a.hashed {
		if bcrypt.CompareHashAndPassword(h.hash, []byte(key)) == nil {
			return &Operator{Name: h.name, AuthType: "api_key"}, nil
		}
	}
	return nil, nil //nolint:nilnil // nil operator with nil error means invalid key
}

func bearerToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// RequireOperator creates middleware that enforces authentication.
func RequireOperator(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, err := auth.Authenticate(r)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}
			if op == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, op)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
