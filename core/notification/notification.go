package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("notification not found")

type Notification struct {
	ID        string    `json:"id" db:"notification_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Link      string    `json:"link" db:"link"`
	Read      bool      `json:"read" db:"read"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

func Create(ctx context.Context, db sqlx.ExtContext, n Notification) error {
	const q = `
	INSERT INTO notifications (notification_id, user_id, title, message, link, read, created_at)
	VALUES (:notification_id, :user_id, :title, :message, :link, :read, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, n); err != nil {
		return fmt.Errorf("inserting notification for user[%s]: %w", n.UserID, err)
	}
	return nil
}

func List(ctx context.Context, db sqlx.QueryerContext, userID string, limit int) ([]Notification, error) {
	const q = `
	SELECT notification_id, user_id, title, message, link, read, created_at
	FROM notifications
	WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT $2`

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	ns := []Notification{}
	if err := sqlx.SelectContext(ctx, db, &ns, q, userID, limit); err != nil {
		return nil, fmt.Errorf("selecting notifications of user[%s]: %w", userID, err)
	}
	return ns, nil
}

// MarkRead flags a notification of the given user as read.
func MarkRead(ctx context.Context, db sqlx.ExecerContext, id, userID string) error {
	const q = `UPDATE notifications SET read = true WHERE notification_id = $1 AND user_id = $2`

	res, err := db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return fmt.Errorf("marking notification[%s] read: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking notification[%s] read: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

