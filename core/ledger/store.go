package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("transaction not found")

const columns = `transaction_id, order_id, expert_id, student_id, type, amount, description, status, external_id, created_at`

// Create appends t to the ledger. Transactions are never rewritten except by
// MarkChargeback.
func Create(ctx context.Context, db sqlx.ExtContext, t Transaction) error {
	const q = `
	INSERT INTO transactions
		(transaction_id, order_id, expert_id, student_id, type, amount, description, status, external_id, created_at)
	VALUES
		(:transaction_id, :order_id, :expert_id, :student_id, :type, :amount, :description, :status, :external_id, :created_at)`

	if t.Status == "" {
		t.Status = Completed
	}
	if _, err := sqlx.NamedExecContext(ctx, db, q, t); err != nil {
		return fmt.Errorf("inserting %s transaction[%s]: %w", t.Type, t.ID, err)
	}
	return nil
}

func List(ctx context.Context, db sqlx.QueryerContext, f Filter) ([]Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}

	if f.OrderID != "" {
		add("order_id = ?", f.OrderID)
	}
	if f.ExpertID != "" {
		add("expert_id = ?", f.ExpertID)
	}
	if f.StudentID != "" {
		add("student_id = ?", f.StudentID)
	}
	if f.Party != "" {
		add("(expert_id = ? OR student_id = ?)", f.Party)
	}

	q := `SELECT ` + columns + ` FROM transactions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, max(f.Offset, 0))
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	txs := []Transaction{}
	if err := sqlx.SelectContext(ctx, db, &txs, q, args...); err != nil {
		return nil, fmt.Errorf("selecting transactions: %w", err)
	}
	return txs, nil
}

// FetchByExternalIDForUpdate finds the transaction recorded for a provider
// reference and locks it.
func FetchByExternalIDForUpdate(ctx context.Context, tx sqlx.QueryerContext, externalID string) (Transaction, error) {
	q := `SELECT ` + columns + ` FROM transactions WHERE external_id = $1 FOR UPDATE`

	var t Transaction
	if err := sqlx.GetContext(ctx, tx, &t, q, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("selecting transaction by external id[%s]: %w", externalID, err)
	}
	return t, nil
}

// MarkChargeback reverses a transaction in place.
func MarkChargeback(ctx context.Context, db sqlx.ExecerContext, id string) error {
	q := `UPDATE transactions SET status = $1, description = $2 || description WHERE transaction_id = $3 AND status <> $1`

	if _, err := db.ExecContext(ctx, q, Chargeback, chargebackPrefix, id); err != nil {
		return fmt.Errorf("reversing transaction[%s]: %w", id, err)
	}
	return nil
}
