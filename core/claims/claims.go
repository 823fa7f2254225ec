package claims

import (
	"context"
	"errors"
)

const (
	RoleAdmin   = "ADMIN"
	RoleExpert  = "EXPERT"
	RoleStudent = "STUDENT"
)

var ErrMissing = errors.New("claim value missing from context")

// Claims identify the caller of a request.
type Claims struct {
	UserID string
	Role   string
}

func (c Claims) IsAdmin() bool { return c.Role == RoleAdmin }

func (c Claims) Is(role string) bool { return c.Role == role }

type ctxKey int

const claimsKey ctxKey = 1

func Set(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func Get(ctx context.Context) (Claims, error) {
	v, ok := ctx.Value(claimsKey).(Claims)
	if !ok {
		return Claims{}, ErrMissing
	}
	return v, nil
}

func IsAdmin(ctx context.Context) bool {
	c, err := Get(ctx)
	if err != nil {
		return false
	}
	return c.IsAdmin()
}

// IsUser reports whether the caller is the user with the given id.
func IsUser(ctx context.Context, id string) bool {
	c, err := Get(ctx)
	if err != nil {
		return false
	}
	return c.UserID == id
}
