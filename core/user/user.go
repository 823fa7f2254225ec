// Package user reads the accounts the marketplace acts on. Accounts are
// created by the auth service.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("user not found")

type User struct {
	ID        string    `json:"id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Role      string    `json:"role" db:"role"`
	Credits   int64     `json:"penguCredits" db:"pengu_credits"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

const columns = `user_id, name, email, role, pengu_credits, created_at, updated_at`

func Fetch(ctx context.Context, db sqlx.QueryerContext, id string) (User, error) {
	return fetch(ctx, db, `SELECT `+columns+` FROM users WHERE user_id = $1`, id)
}

// FetchForUpdate locks the user row until the surrounding transaction ends.
func FetchForUpdate(ctx context.Context, tx sqlx.QueryerContext, id string) (User, error) {
	return fetch(ctx, tx, `SELECT `+columns+` FROM users WHERE user_id = $1 FOR UPDATE`, id)
}

func fetch(ctx context.Context, db sqlx.QueryerContext, q string, id string) (User, error) {
	var u User
	if err := sqlx.GetContext(ctx, db, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("selecting user[%s]: %w", id, err)
	}
	return u, nil
}

// AddCredits adds delta to the user's credits, never going below zero, and
// returns the new balance.
func AddCredits(ctx context.Context, db sqlx.QueryerContext, id string, delta int64, now time.Time) (int64, error) {
	const q = `
	UPDATE users
	SET pengu_credits = GREATEST(pengu_credits + $1, 0), updated_at = $2
	WHERE user_id = $3
	RETURNING pengu_credits`

	var credits int64
	if err := sqlx.GetContext(ctx, db, &credits, q, delta, now, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("updating credits of user[%s]: %w", id, err)
	}
	return credits, nil
}

func ListAdminIDs(ctx context.Context, db sqlx.QueryerContext) ([]string, error) {
	const q = `SELECT user_id FROM users WHERE role = 'ADMIN' ORDER BY created_at`

	ids := []string{}
	if err := sqlx.SelectContext(ctx, db, &ids, q); err != nil {
		return nil, fmt.Errorf("selecting admins: %w", err)
	}
	return ids, nil
}
