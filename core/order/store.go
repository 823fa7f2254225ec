package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const columns = `order_id, request_id, student_id, expert_id, amount, payment_status, status,
	milestones, files, progress, next_milestone, annotations, revisions_resolved, payout_processed,
	created_at, updated_at`

// normalize keeps list columns as JSON arrays rather than null.
func normalize(o Order) Order {
	if o.Milestones.V == nil {
		o.Milestones.V = []Milestone{}
	}
	if o.Files.V == nil {
		o.Files.V = []File{}
	}
	if o.Annotations.V == nil {
		o.Annotations.V = []json.RawMessage{}
	}
	return o
}

func Create(ctx context.Context, db sqlx.ExtContext, o Order) error {
	const q = `
	INSERT INTO orders
		(order_id, request_id, student_id, expert_id, amount, payment_status, status,
		milestones, files, progress, next_milestone, annotations, revisions_resolved, payout_processed,
		created_at, updated_at)
	VALUES
		(:order_id, :request_id, :student_id, :expert_id, :amount, :payment_status, :status,
		:milestones, :files, :progress, :next_milestone, :annotations, :revisions_resolved, :payout_processed,
		:created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, normalize(o)); err != nil {
		return fmt.Errorf("inserting order[%s]: %w", o.ID, err)
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.QueryerContext, id string) (Order, error) {
	return fetch(ctx, db, `SELECT `+columns+` FROM orders WHERE order_id = $1`, id)
}

// FetchForUpdate locks the order row until the surrounding transaction ends.
// Concurrent updates of one order are serialized on this lock.
func FetchForUpdate(ctx context.Context, tx sqlx.QueryerContext, id string) (Order, error) {
	return fetch(ctx, tx, `SELECT `+columns+` FROM orders WHERE order_id = $1 FOR UPDATE`, id)
}

func fetch(ctx context.Context, db sqlx.QueryerContext, q string, id string) (Order, error) {
	var o Order
	if err := sqlx.GetContext(ctx, db, &o, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("selecting order[%s]: %w", id, err)
	}
	return normalize(o), nil
}

// Save writes every mutable column of o.
func Save(ctx context.Context, db sqlx.ExtContext, o Order) error {
	const q = `
	UPDATE orders SET
		expert_id = :expert_id,
		payment_status = :payment_status,
		status = :status,
		milestones = :milestones,
		files = :files,
		progress = :progress,
		next_milestone = :next_milestone,
		annotations = :annotations,
		revisions_resolved = :revisions_resolved,
		payout_processed = :payout_processed,
		updated_at = :updated_at
	WHERE order_id = :order_id`

	res, err := sqlx.NamedExecContext(ctx, db, q, normalize(o))
	if err != nil {
		return fmt.Errorf("updating order[%s]: %w", o.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func List(ctx context.Context, db sqlx.QueryerContext, f Filter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if f.StudentID != "" {
		add("student_id", f.StudentID)
	}
	if f.ExpertID != "" {
		add("expert_id", f.ExpertID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}

	q := `SELECT ` + columns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	args = append(args, limit, max(f.Offset, 0))
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	ords := []Order{}
	if err := sqlx.SelectContext(ctx, db, &ords, q, args...); err != nil {
		return nil, fmt.Errorf("selecting orders: %w", err)
	}
	for i := range ords {
		ords[i] = normalize(ords[i])
	}
	return ords, nil
}
