package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	expertColumns  = `withdrawal_id, expert_id, amount, method_id, method_details, status, note, created_at, updated_at`
	studentColumns = `withdrawal_id, student_id, amount_credits, amount_bdt, method, phone, status, created_at, updated_at`
)

func Create(ctx context.Context, db sqlx.ExtContext, w Withdrawal) error {
	const q = `
	INSERT INTO expert_withdrawals
		(withdrawal_id, expert_id, amount, method_id, method_details, status, note, created_at, updated_at)
	VALUES
		(:withdrawal_id, :expert_id, :amount, :method_id, :method_details, :status, :note, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, w); err != nil {
		return fmt.Errorf("inserting withdrawal[%s]: %w", w.ID, err)
	}
	return nil
}

// FetchForUpdate locks the withdrawal row until the surrounding transaction
// ends.
func FetchForUpdate(ctx context.Context, tx sqlx.QueryerContext, id string) (Withdrawal, error) {
	q := `SELECT ` + expertColumns + ` FROM expert_withdrawals WHERE withdrawal_id = $1 FOR UPDATE`

	var w Withdrawal
	if err := sqlx.GetContext(ctx, tx, &w, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Withdrawal{}, ErrNotFound
		}
		return Withdrawal{}, fmt.Errorf("selecting withdrawal[%s]: %w", id, err)
	}
	return w, nil
}

// Reserved sums the withdrawals of an expert that still claim part of the
// balance.
func Reserved(ctx context.Context, db sqlx.QueryerContext, expertID string) (int64, error) {
	const q = `
	SELECT COALESCE(SUM(amount), 0)
	FROM expert_withdrawals
	WHERE expert_id = $1 AND status IN ($2, $3)`

	var sum int64
	if err := sqlx.GetContext(ctx, db, &sum, q, expertID, Pending, Confirmed); err != nil {
		return 0, fmt.Errorf("summing reserved withdrawals of expert[%s]: %w", expertID, err)
	}
	return sum, nil
}

func UpdateStatus(ctx context.Context, db sqlx.ExecerContext, w Withdrawal) error {
	const q = `UPDATE expert_withdrawals SET status = $1, note = $2, updated_at = $3 WHERE withdrawal_id = $4`

	if _, err := db.ExecContext(ctx, q, w.Status, w.Note, w.UpdatedAt, w.ID); err != nil {
		return fmt.Errorf("updating withdrawal[%s]: %w", w.ID, err)
	}
	return nil
}

func List(ctx context.Context, db sqlx.QueryerContext, f Filter) ([]Withdrawal, error) {
	q, args := listQuery(`SELECT `+expertColumns+` FROM expert_withdrawals`, f,
		cond{"expert_id", f.ExpertID},
		cond{"status", string(f.Status)},
	)

	ws := []Withdrawal{}
	if err := sqlx.SelectContext(ctx, db, &ws, q, args...); err != nil {
		return nil, fmt.Errorf("selecting withdrawals: %w", err)
	}
	return ws, nil
}

func CreateStudent(ctx context.Context, db sqlx.ExtContext, w StudentWithdrawal) error {
	const q = `
	INSERT INTO student_withdrawals
		(withdrawal_id, student_id, amount_credits, amount_bdt, method, phone, status, created_at, updated_at)
	VALUES
		(:withdrawal_id, :student_id, :amount_credits, :amount_bdt, :method, :phone, :status, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, w); err != nil {
		return fmt.Errorf("inserting student withdrawal[%s]: %w", w.ID, err)
	}
	return nil
}

func FetchStudentForUpdate(ctx context.Context, tx sqlx.QueryerContext, id string) (StudentWithdrawal, error) {
	q := `SELECT ` + studentColumns + ` FROM student_withdrawals WHERE withdrawal_id = $1 FOR UPDATE`

	var w StudentWithdrawal
	if err := sqlx.GetContext(ctx, tx, &w, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StudentWithdrawal{}, ErrNotFound
		}
		return StudentWithdrawal{}, fmt.Errorf("selecting student withdrawal[%s]: %w", id, err)
	}
	return w, nil
}

// CountStudentSince counts the withdrawals of a student created in
// [start, end) that were not rejected.
func CountStudentSince(ctx context.Context, db sqlx.QueryerContext, studentID string, start, end time.Time) (int, error) {
	const q = `
	SELECT COUNT(*)
	FROM student_withdrawals
	WHERE student_id = $1 AND status <> $2 AND created_at >= $3 AND created_at < $4`

	var n int
	if err := sqlx.GetContext(ctx, db, &n, q, studentID, Rejected, start, end); err != nil {
		return 0, fmt.Errorf("counting withdrawals of student[%s]: %w", studentID, err)
	}
	return n, nil
}

func UpdateStudentStatus(ctx context.Context, db sqlx.ExecerContext, w StudentWithdrawal) error {
	const q = `UPDATE student_withdrawals SET status = $1, updated_at = $2 WHERE withdrawal_id = $3`

	if _, err := db.ExecContext(ctx, q, w.Status, w.UpdatedAt, w.ID); err != nil {
		return fmt.Errorf("updating student withdrawal[%s]: %w", w.ID, err)
	}
	return nil
}

func ListStudent(ctx context.Context, db sqlx.QueryerContext, f Filter) ([]StudentWithdrawal, error) {
	q, args := listQuery(`SELECT `+studentColumns+` FROM student_withdrawals`, f,
		cond{"student_id", f.StudentID},
		cond{"status", string(f.Status)},
	)

	ws := []StudentWithdrawal{}
	if err := sqlx.SelectContext(ctx, db, &ws, q, args...); err != nil {
		return nil, fmt.Errorf("selecting student withdrawals: %w", err)
	}
	return ws, nil
}

type cond struct {
	col   string
	value string
}

// listQuery appends an equality condition for every non-empty value,
// followed by paging.
func listQuery(base string, f Filter, conds ...cond) (string, []any) {
	var (
		where []string
		args  []any
	)
	for _, c := range conds {
		if c.value == "" {
			continue
		}
		args = append(args, c.value)
		where = append(where, fmt.Sprintf("%s = $%d", c.col, len(args)))
	}

	q := base
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	args = append(args, limit, max(f.Offset, 0))
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return q, args
}
