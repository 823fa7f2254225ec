package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/api/background"
	"github.com/penguhub/marketplace/core/user"
	"github.com/penguhub/marketplace/realtime"
	"github.com/penguhub/marketplace/validate"
	"github.com/sirupsen/logrus"
)

// Notifier tells admins about work waiting for them. Notifications are a
// side effect: failures are logged and never reach the caller.
type Notifier struct {
	db  *sqlx.DB
	ev  realtime.Emitter
	bg  *background.Background
	log logrus.FieldLogger
	now func() time.Time
}

func NewNotifier(db *sqlx.DB, ev realtime.Emitter, bg *background.Background, log logrus.FieldLogger) *Notifier {
	return &Notifier{
		db:  db,
		ev:  ev,
		bg:  bg,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// NotifyAdmins stores a notification for every admin and pushes it to their
// rooms in the background.
func (n *Notifier) NotifyAdmins(ctx context.Context, title, message, link string) {
	err := n.bg.Go(ctx, "notify admins", func(ctx context.Context) error {
		return n.notifyAdmins(ctx, title, message, link)
	})
	if err != nil {
		n.log.WithError(err).WithField("title", title).Error("scheduling admin notification")
	}
}

func (n *Notifier) notifyAdmins(ctx context.Context, title, message, link string) error {
	admins, err := user.ListAdminIDs(ctx, n.db)
	if err != nil {
		return err
	}

	var failed int
	for _, id := range admins {
		nt := Notification{
			ID:        validate.GenerateID(),
			UserID:    id,
			Title:     title,
			Message:   message,
			Link:      link,
			CreatedAt: n.now(),
		}
		if err := Create(ctx, n.db, nt); err != nil {
			n.log.WithError(err).WithField("user_id", id).Error("storing admin notification")
			failed++
			continue
		}
		n.ev.Emit(ctx, realtime.Event{
			Name:  realtime.EventNotificationCreated,
			Rooms: realtime.Parties(id),
			Data:  nt,
		})
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d admin notifications failed", failed, len(admins))
	}
	return nil
}
