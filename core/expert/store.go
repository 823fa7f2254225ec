package expert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/database"
)

const columns = `user_id, balance, earnings, completed_orders, payout_methods, updated_at`

// Create registers the expert profile of a user. It is a no-op when the
// profile exists.
func Create(ctx context.Context, db sqlx.ExecerContext, userID string, now time.Time) error {
	const q = `INSERT INTO experts (user_id, updated_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`

	if _, err := db.ExecContext(ctx, q, userID, now); err != nil {
		return fmt.Errorf("inserting expert[%s]: %w", userID, err)
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.QueryerContext, userID string) (Expert, error) {
	return fetch(ctx, db, `SELECT `+columns+` FROM experts WHERE user_id = $1`, userID)
}

// FetchForUpdate locks the expert row until the surrounding transaction ends.
func FetchForUpdate(ctx context.Context, tx sqlx.QueryerContext, userID string) (Expert, error) {
	return fetch(ctx, tx, `SELECT `+columns+` FROM experts WHERE user_id = $1 FOR UPDATE`, userID)
}

func fetch(ctx context.Context, db sqlx.QueryerContext, q string, userID string) (Expert, error) {
	var e Expert
	if err := sqlx.GetContext(ctx, db, &e, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Expert{}, ErrNotFound
		}
		return Expert{}, fmt.Errorf("selecting expert[%s]: %w", userID, err)
	}
	if e.PayoutMethods.V == nil {
		e.PayoutMethods.V = []PayoutMethod{}
	}
	return e, nil
}

// SaveBalances persists balance, earnings and the completed orders counter.
func SaveBalances(ctx context.Context, db sqlx.ExtContext, e Expert) error {
	const q = `
	UPDATE experts SET
		balance = :balance,
		earnings = :earnings,
		completed_orders = :completed_orders,
		updated_at = :updated_at
	WHERE user_id = :user_id`

	res, err := sqlx.NamedExecContext(ctx, db, q, e)
	if err != nil {
		return fmt.Errorf("updating balances of expert[%s]: %w", e.UserID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func saveMethods(ctx context.Context, db sqlx.ExecerContext, e Expert) error {
	const q = `UPDATE experts SET payout_methods = $1, updated_at = $2 WHERE user_id = $3`

	if _, err := db.ExecContext(ctx, q, e.PayoutMethods, e.UpdatedAt, e.UserID); err != nil {
		return fmt.Errorf("updating payout methods of expert[%s]: %w", e.UserID, err)
	}
	return nil
}

// AddPayoutMethod appends m to the expert's methods, creating the profile
// when needed. The first method, or one flagged as default, becomes the only
// default.
func AddPayoutMethod(ctx context.Context, db *sqlx.DB, userID string, m PayoutMethod, now time.Time) (Expert, error) {
	var e Expert
	err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
		if err := Create(ctx, tx, userID, now); err != nil {
			return err
		}

		var err error
		if e, err = FetchForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		methods := e.PayoutMethods.V
		if len(methods) == 0 {
			m.IsDefault = true
		}
		if m.IsDefault {
			for i := range methods {
				methods[i].IsDefault = false
			}
		}
		e.PayoutMethods.V = append(methods, m)
		e.UpdatedAt = now

		return saveMethods(ctx, tx, e)
	})
	if err != nil {
		return Expert{}, err
	}
	return e, nil
}

// RemovePayoutMethod deletes the method with the given id or short id.
// Pending withdrawals keep the snapshot they were created with.
func RemovePayoutMethod(ctx context.Context, db *sqlx.DB, userID string, methodID string, now time.Time) (Expert, error) {
	var e Expert
	err := database.Transaction(ctx, db, func(tx sqlx.ExtContext) error {
		var err error
		if e, err = FetchForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		target, ok := e.FindMethod(methodID)
		if !ok {
			return ErrMethodNotFound
		}

		kept := make([]PayoutMethod, 0, len(e.PayoutMethods.V))
		for _, m := range e.PayoutMethods.V {
			if m.ID != target.ID {
				kept = append(kept, m)
			}
		}
		if target.IsDefault && len(kept) > 0 {
			kept[0].IsDefault = true
		}
		e.PayoutMethods.V = kept
		e.UpdatedAt = now

		return saveMethods(ctx, tx, e)
	})
	if err != nil {
		return Expert{}, err
	}
	return e, nil
}
