// Package auth verifies the access tokens minted by the platform's auth
// service and guards routes by role. Issuing tokens happens elsewhere.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/penguhub/marketplace/api/web"
	"github.com/penguhub/marketplace/api/weberr"
	"github.com/penguhub/marketplace/core/claims"
)

var (
	ErrNoToken      = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// TokenClaims is the payload of an access token. The subject is the user id.
type TokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify parses a signed token and returns the caller it identifies.
func (v *Verifier) Verify(token string) (claims.Claims, error) {
	var tc TokenClaims
	_, err := v.parser.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return claims.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch {
	case tc.Subject == "":
		return claims.Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	case tc.Role != claims.RoleAdmin && tc.Role != claims.RoleExpert && tc.Role != claims.RoleStudent:
		return claims.Claims{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, tc.Role)
	}

	return claims.Claims{UserID: tc.Subject, Role: tc.Role}, nil
}

// Sign mints a token for the given caller. The service itself never issues
// tokens; this exists for tests and local tooling.
func (v *Verifier) Sign(c claims.Claims, opts ...func(*jwt.RegisteredClaims)) (string, error) {
	tc := TokenClaims{Role: c.Role, RegisteredClaims: jwt.RegisteredClaims{Subject: c.UserID}}
	for _, opt := range opts {
		opt(&tc.RegisteredClaims)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(v.secret)
}

func bearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		// browsers cannot set headers on websocket upgrades
		if t := r.URL.Query().Get("token"); t != "" {
			return t, nil
		}
		return "", ErrNoToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Authenticate rejects requests without a valid token and stores the caller
// claims in the context.
func Authenticate(v *Verifier) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			token, err := bearer(r)
			if err != nil {
				return weberr.NotAuthorized(err)
			}

			clm, err := v.Verify(token)
			if err != nil {
				return weberr.NotAuthorized(err)
			}

			ctx = claims.Set(ctx, clm)
			return handler(ctx, w, r.WithContext(ctx))
		}
		return h
	}
	return m
}

// Role only lets callers with one of the given roles through. It must run
// after Authenticate.
func Role(roles ...string) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			clm, err := claims.Get(ctx)
			if err != nil {
				return weberr.NotAuthorized(err)
			}
			for _, role := range roles {
				if clm.Role == role {
					return handler(ctx, w, r)
				}
			}
			return weberr.Forbidden(fmt.Errorf("role %s cannot access %s", clm.Role, r.URL.Path))
		}
		return h
	}
	return m
}

func Admin() web.Middleware { return Role(claims.RoleAdmin) }
