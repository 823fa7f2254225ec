package withdrawal

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/core/expert"
	"github.com/penguhub/marketplace/core/ledger"
	"github.com/penguhub/marketplace/core/user"
	"github.com/penguhub/marketplace/database"
	"github.com/penguhub/marketplace/metrics"
	"github.com/penguhub/marketplace/realtime"
	"github.com/penguhub/marketplace/validate"
	"github.com/sirupsen/logrus"
)

// AdminNotifier tells admins that a withdrawal waits for them.
type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, title, message, link string)
}

// Service settles withdrawals. Balance and credit checks run in the same
// transaction as the write they guard, under a lock on the owner's row.
type Service struct {
	db     *sqlx.DB
	ev     realtime.Emitter
	notify AdminNotifier
	loc    *time.Location
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewService returns a Service counting calendar months in loc.
func NewService(db *sqlx.DB, ev realtime.Emitter, notify AdminNotifier, loc *time.Location, log logrus.FieldLogger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:     db,
		ev:     ev,
		notify: notify,
		loc:    loc,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RequestExpert reserves amount of the expert's balance for a payout through
// one of their payout methods.
func (s *Service) RequestExpert(ctx context.Context, expertID string, amount int64, methodID string) (Withdrawal, error) {
	if amount <= 0 {
		return Withdrawal{}, ErrInvalidAmount
	}

	var w Withdrawal
	err := database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		e, err := expert.FetchForUpdate(ctx, tx, expertID)
		if err != nil {
			return err
		}

		reserved, err := Reserved(ctx, tx, expertID)
		if err != nil {
			return err
		}
		if available := e.Balance.Int64() - reserved; amount > available {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientFunds, amount, available)
		}

		m, ok := e.FindMethod(methodID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidMethod, methodID)
		}

		now := s.now()
		w = Withdrawal{
			ID:            validate.GenerateID(),
			ExpertID:      expertID,
			Amount:        amount,
			MethodID:      m.ID,
			MethodDetails: database.NewJSON(m),
			Status:        Pending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return Create(ctx, tx, w)
	})
	if err != nil {
		return Withdrawal{}, err
	}

	metrics.Withdrawals.WithLabelValues("expert", string(Pending)).Inc()
	s.notify.NotifyAdmins(ctx, "New withdrawal request",
		fmt.Sprintf("An expert requested a withdrawal of %d via %s", w.Amount, w.MethodDetails.V.Type),
		"/admin/withdrawals")
	s.ev.Emit(ctx, realtime.Event{
		Name:  realtime.EventWithdrawalCreated,
		Rooms: s.adminRooms(ctx, w.ExpertID),
		Data:  w,
	})
	return w, nil
}

// UpdateExpertStatus moves an expert withdrawal to status to. Paying it
// debits the expert's balance and records the payout. Repeating the current
// status changes nothing.
func (s *Service) UpdateExpertStatus(ctx context.Context, id string, to Status, note string) (Withdrawal, error) {
	var (
		w       Withdrawal
		e       *expert.Expert
		payout  *ledger.Transaction
		changed bool
	)

	err := database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		var err error
		if w, err = FetchForUpdate(ctx, tx, id); err != nil {
			return err
		}
		if w.Status == to {
			return nil
		}
		if err := canMove(w.Status, to); err != nil {
			return err
		}

		now := s.now()
		if to == Paid {
			ex, err := expert.FetchForUpdate(ctx, tx, w.ExpertID)
			if err != nil {
				return err
			}
			ex.Debit(w.Amount)
			ex.UpdatedAt = now
			if err := expert.SaveBalances(ctx, tx, ex); err != nil {
				return err
			}

			t := ledger.Transaction{
				ID:          validate.GenerateID(),
				ExpertID:    ledger.Ref(w.ExpertID),
				Type:        ledger.Payout,
				Amount:      w.Amount,
				Description: fmt.Sprintf("Withdrawal %s paid via %s", w.ID, w.MethodDetails.V.Type),
				Status:      ledger.Completed,
				CreatedAt:   now,
			}
			if err := ledger.Create(ctx, tx, t); err != nil {
				return err
			}
			e, payout = &ex, &t
		}

		w.Status = to
		if note != "" {
			w.Note = note
		}
		w.UpdatedAt = now
		changed = true
		return UpdateStatus(ctx, tx, w)
	})
	if err != nil {
		return Withdrawal{}, err
	}
	if !changed {
		return w, nil
	}

	s.log.WithFields(logrus.Fields{
		"withdrawal_id": w.ID,
		"expert_id":     w.ExpertID,
		"status":        w.Status,
	}).Info("withdrawal updated")
	metrics.Withdrawals.WithLabelValues("expert", string(w.Status)).Inc()

	s.ev.Emit(ctx, realtime.Event{
		Name:  realtime.EventWithdrawalUpdated,
		Rooms: s.adminRooms(ctx, w.ExpertID),
		Data:  w,
	})
	if e != nil {
		s.ev.Emit(ctx, realtime.Event{
			Name:  realtime.EventExpertUpdated,
			Rooms: realtime.Broadcast(e.UserID),
			Data:  e,
		})
		s.ev.Emit(ctx, realtime.Event{Name: realtime.EventTransactionCreated, Rooms: payout.Rooms(), Data: payout})
	}
	return w, nil
}

// ListExpert returns every withdrawal for admins and their own for experts.
func (s *Service) ListExpert(ctx context.Context, c claims.Claims, f Filter) ([]Withdrawal, error) {
	if !c.IsAdmin() {
		f.ExpertID = c.UserID
	}
	return List(ctx, s.db, f)
}

// RequestStudent converts credits of a student to taka. The credits are
// debited right away; a student gets one withdrawal per calendar month
// unless it is rejected.
func (s *Service) RequestStudent(ctx context.Context, studentID string, credits int64, method, phone string) (StudentWithdrawal, error) {
	if credits < MinCredits {
		return StudentWithdrawal{}, ErrBelowMinimum
	}

	var w StudentWithdrawal
	err := database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		u, err := user.FetchForUpdate(ctx, tx, studentID)
		if err != nil {
			return err
		}
		if u.Credits < credits {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientCredits, credits, u.Credits)
		}

		now := s.now()
		start, end := MonthWindow(now, s.loc)
		n, err := CountStudentSince(ctx, tx, studentID, start, end)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrMonthlyCap
		}

		if _, err := user.AddCredits(ctx, tx, studentID, -credits, now); err != nil {
			return err
		}

		w = StudentWithdrawal{
			ID:            validate.GenerateID(),
			StudentID:     studentID,
			AmountCredits: credits,
			AmountBDT:     ToBDT(credits),
			Method:        method,
			Phone:         phone,
			Status:        Pending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return CreateStudent(ctx, tx, w)
	})
	if err != nil {
		return StudentWithdrawal{}, err
	}

	metrics.Withdrawals.WithLabelValues("student", string(Pending)).Inc()
	s.notify.NotifyAdmins(ctx, "New student withdrawal",
		fmt.Sprintf("A student requested %d credits (%d BDT) via %s", w.AmountCredits, w.AmountBDT, w.Method),
		"/admin/withdrawals/student")
	s.ev.Emit(ctx, realtime.Event{
		Name:  realtime.EventWithdrawalCreated,
		Rooms: s.adminRooms(ctx, w.StudentID),
		Data:  w,
	})
	return w, nil
}

// ApproveStudent marks a pending student withdrawal paid out.
func (s *Service) ApproveStudent(ctx context.Context, id string) (StudentWithdrawal, error) {
	var (
		w StudentWithdrawal
		t ledger.Transaction
	)

	err := database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		var err error
		if w, err = FetchStudentForUpdate(ctx, tx, id); err != nil {
			return err
		}
		if w.Status != Pending {
			return fmt.Errorf("%w: %s", ErrNotPending, w.Status)
		}

		now := s.now()
		w.Status = Approved
		w.UpdatedAt = now
		if err := UpdateStudentStatus(ctx, tx, w); err != nil {
			return err
		}

		t = ledger.Transaction{
			ID:          validate.GenerateID(),
			StudentID:   ledger.Ref(w.StudentID),
			Type:        ledger.Payout,
			Amount:      w.AmountBDT,
			Description: fmt.Sprintf("Credit withdrawal %s: %d credits via %s", w.ID, w.AmountCredits, w.Method),
			Status:      ledger.Completed,
			CreatedAt:   now,
		}
		return ledger.Create(ctx, tx, t)
	})
	if err != nil {
		return StudentWithdrawal{}, err
	}

	metrics.Withdrawals.WithLabelValues("student", string(Approved)).Inc()
	s.emitStudent(ctx, w)
	s.ev.Emit(ctx, realtime.Event{Name: realtime.EventTransactionCreated, Rooms: t.Rooms(), Data: t})
	return w, nil
}

// RejectStudent rejects a pending student withdrawal and gives the credits
// back. A withdrawal is refunded at most once.
func (s *Service) RejectStudent(ctx context.Context, id string) (StudentWithdrawal, error) {
	var w StudentWithdrawal

	err := database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		var err error
		if w, err = FetchStudentForUpdate(ctx, tx, id); err != nil {
			return err
		}
		switch w.Status {
		case Rejected:
			return ErrAlreadyRejected
		case Pending:
		default:
			return fmt.Errorf("%w: %s", ErrNotPending, w.Status)
		}

		now := s.now()
		w.Status = Rejected
		w.UpdatedAt = now
		if err := UpdateStudentStatus(ctx, tx, w); err != nil {
			return err
		}
		_, err = user.AddCredits(ctx, tx, w.StudentID, w.AmountCredits, now)
		return err
	})
	if err != nil {
		return StudentWithdrawal{}, err
	}

	metrics.Withdrawals.WithLabelValues("student", string(Rejected)).Inc()
	s.emitStudent(ctx, w)
	return w, nil
}

// ListStudent returns every student withdrawal for admins and their own for
// students.
func (s *Service) ListStudent(ctx context.Context, c claims.Claims, f Filter) ([]StudentWithdrawal, error) {
	if !c.IsAdmin() {
		f.StudentID = c.UserID
	}
	return ListStudent(ctx, s.db, f)
}

func (s *Service) emitStudent(ctx context.Context, w StudentWithdrawal) {
	s.ev.Emit(ctx, realtime.Event{
		Name:  realtime.EventWithdrawalUpdated,
		Rooms: realtime.Parties(w.StudentID),
		Data:  w,
	})
}

// adminRooms addresses every admin plus owner. A failed admin lookup still
// reaches the owner.
func (s *Service) adminRooms(ctx context.Context, owner string) []string {
	admins, err := user.ListAdminIDs(ctx, s.db)
	if err != nil {
		s.log.WithError(err).Warn("listing admins for realtime event")
	}

	users := make([]any, 0, len(admins)+1)
	for _, id := range admins {
		users = append(users, id)
	}
	return realtime.Parties(append(users, owner)...)
}
