package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/penguhub/marketplace/core/claims"
	"github.com/penguhub/marketplace/core/expert"
	"github.com/penguhub/marketplace/core/ledger"
	"github.com/penguhub/marketplace/core/payout"
	"github.com/penguhub/marketplace/core/settings"
	"github.com/penguhub/marketplace/core/user"
	"github.com/penguhub/marketplace/database"
	"github.com/penguhub/marketplace/metrics"
	"github.com/penguhub/marketplace/realtime"
	"github.com/penguhub/marketplace/validate"
	"github.com/sirupsen/logrus"
)

// Service runs the order lifecycle. Every mutation happens in one database
// transaction holding the order row lock; events go out after commit.
type Service struct {
	db  *sqlx.DB
	ev  realtime.Emitter
	log logrus.FieldLogger
	now func() time.Time
}

func NewService(db *sqlx.DB, ev realtime.Emitter, log logrus.FieldLogger) *Service {
	return &Service{
		db:  db,
		ev:  ev,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func partyOf(c claims.Claims, o Order) party {
	switch {
	case c.IsAdmin():
		return admin
	case c.Is(claims.RoleExpert) && c.UserID == o.Expert():
		return assignedExpert
	case c.Is(claims.RoleStudent) && c.UserID == o.StudentID:
		return owningStudent
	}
	return stranger
}

// Create opens an order awaiting payment verification. Students order for
// themselves; admins name the student.
func (s *Service) Create(ctx context.Context, c claims.Claims, on OrderNew) (Order, error) {
	studentID := c.UserID
	if c.IsAdmin() {
		if on.StudentID == "" {
			return Order{}, ErrStudentRequired
		}
		studentID = on.StudentID
	}

	now := s.now()
	o := Order{
		ID:            validate.GenerateID(),
		RequestID:     on.RequestID,
		StudentID:     studentID,
		Amount:        on.Amount,
		PaymentStatus: PaymentPending,
		Status:        PendingVerification,
		Milestones:    database.NewJSON(on.Milestones),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i := range o.Milestones.V {
		if o.Milestones.V[i].Status == "" {
			o.Milestones.V[i].Status = MilestonePending
		}
	}

	if err := Create(ctx, s.db, o); err != nil {
		return Order{}, err
	}
	o = normalize(o)

	s.ev.Emit(ctx, realtime.Event{
		Name:  realtime.EventOrderCreated,
		Rooms: realtime.Broadcast(o.StudentID),
		Data:  o,
	})
	return o, nil
}

func (s *Service) Fetch(ctx context.Context, c claims.Claims, id string) (Order, error) {
	o, err := Fetch(ctx, s.db, id)
	if err != nil {
		return Order{}, err
	}
	if p := partyOf(c, o); p == stranger {
		return Order{}, ErrForbidden
	}
	return o, nil
}

// ThreadMember reports whether the caller takes part in the chat thread of
// an order. Threads are named by order id.
func (s *Service) ThreadMember(ctx context.Context, c claims.Claims, threadID string) (bool, error) {
	if err := validate.CheckID(threadID); err != nil {
		return false, nil
	}
	o, err := Fetch(ctx, s.db, threadID)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return partyOf(c, o) != stranger, nil
}

// List returns the orders visible to the caller: all of them for admins,
// their own for experts and students.
func (s *Service) List(ctx context.Context, c claims.Claims, f Filter) ([]Order, error) {
	switch {
	case c.IsAdmin():
	case c.Is(claims.RoleExpert):
		f.StudentID, f.ExpertID = "", c.UserID
	default:
		f.StudentID, f.ExpertID = c.UserID, ""
	}
	return List(ctx, s.db, f)
}

// VerifyPayment confirms the payment of an order and records the income.
// A payment is verified at most once.
func (s *Service) VerifyPayment(ctx context.Context, id string) (Order, error) {
	return s.verify(ctx, id, nil)
}

// VerifyPaid confirms the payment of an order settled by a gateway that
// collected paid, in minor units. A mismatch with the order amount leaves
// the order untouched.
func (s *Service) VerifyPaid(ctx context.Context, id string, paid int64) (Order, error) {
	check := func(o Order) error {
		if o.Amount != paid {
			return fmt.Errorf("%w: order %s costs %d, paid %d", ErrAmountMismatch, o.ID, o.Amount, paid)
		}
		return nil
	}
	return s.verify(ctx, id, check)
}

func (s *Service) verify(ctx context.Context, id string, check func(Order) error) (Order, error) {
	var (
		o   Order
		tx  ledger.Transaction
		now = s.now()
	)

	err := database.Transaction(ctx, s.db, func(dbtx sqlx.ExtContext) error {
		var err error
		if o, err = FetchForUpdate(ctx, dbtx, id); err != nil {
			return err
		}

		if o.PaymentStatus == PaymentVerified {
			return ErrAlreadyVerified
		}
		if o.Status != PendingVerification {
			return fmt.Errorf("%w: cannot verify the payment of a %s order", ErrInvalidTransition, o.Status)
		}
		if check != nil {
			if err := check(o); err != nil {
				return err
			}
		}

		o.PaymentStatus = PaymentVerified
		o.Status = PaidConfirmed
		o.UpdatedAt = now
		if err := Save(ctx, dbtx, o); err != nil {
			return err
		}

		tx = ledger.Transaction{
			ID:          validate.GenerateID(),
			OrderID:     ledger.Ref(o.ID),
			StudentID:   ledger.Ref(o.StudentID),
			Type:        ledger.Income,
			Amount:      o.Amount,
			Description: fmt.Sprintf("Payment received for order %s", o.ID),
			Status:      ledger.Completed,
			CreatedAt:   now,
		}
		return ledger.Create(ctx, dbtx, tx)
	})
	if err != nil {
		return Order{}, err
	}

	s.emitOrder(ctx, o)
	s.ev.Emit(ctx, realtime.Event{Name: realtime.EventTransactionCreated, Rooms: tx.Rooms(), Data: tx})
	return o, nil
}

func (s *Service) RejectPayment(ctx context.Context, id string) (Order, error) {
	var o Order
	err := database.Transaction(ctx, s.db, func(dbtx sqlx.ExtContext) error {
		var err error
		if o, err = FetchForUpdate(ctx, dbtx, id); err != nil {
			return err
		}

		if o.PaymentStatus == PaymentVerified {
			return ErrAlreadyVerified
		}
		if err := CanMove(o.Status, Cancelled); err != nil {
			return err
		}

		o.PaymentStatus = PaymentFailed
		o.Status = Cancelled
		o.UpdatedAt = s.now()
		return Save(ctx, dbtx, o)
	})
	if err != nil {
		return Order{}, err
	}

	s.emitOrder(ctx, o)
	return o, nil
}

// applied describes the side effects of a committed update.
type applied struct {
	order  Order
	expert *expert.Expert
	txs    []ledger.Transaction
	split  payout.Split
}

// Update merges up into the order. The update that completes an order with
// an assigned expert pays the expert exactly once, in the same transaction
// that flips PayoutProcessed.
func (s *Service) Update(ctx context.Context, c claims.Claims, id string, up OrderUp) (Order, error) {
	rate := payout.DefaultCommissionRate
	if up.Status != nil && *up.Status == Completed {
		rate = s.commissionRate(ctx, id)
	}

	var res applied
	now := s.now()

	err := database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		o, err := FetchForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		to := target(o, up)
		if err := authorize(partyOf(c, o), o, up, to); err != nil {
			return err
		}
		if err := CanMove(o.Status, to); err != nil {
			return err
		}

		if o.Status.Terminal() && up.ExpertID != nil && !up.ExpertID.IsZero() && up.ExpertID.ID() != o.Expert() {
			return fmt.Errorf("%w: cannot reassign a %s order", ErrInvalidTransition, o.Status)
		}

		next := merge(o, up, to)
		if to != o.Status && to.NeedsExpert() && next.Expert() == "" {
			return fmt.Errorf("%w: cannot move to %s", ErrNoExpert, to)
		}
		if id := next.Expert(); id != "" && id != o.Expert() {
			if err := assign(ctx, tx, id, now); err != nil {
				return err
			}
		}
		next.UpdatedAt = now

		if payoutDue(next, up) {
			next.PayoutProcessed = true
			if res, err = s.pay(ctx, tx, next, rate, now); err != nil {
				return err
			}
		}
		res.order = next

		return Save(ctx, tx, next)
	})
	if err != nil {
		return Order{}, err
	}

	s.emitOrder(ctx, res.order)
	if res.expert != nil {
		metrics.PayoutsApplied.Inc()
		metrics.PayoutAmount.WithLabelValues("expert").Add(float64(res.split.EarningAmount))
		metrics.PayoutAmount.WithLabelValues("platform").Add(float64(res.split.PlatformProfit))

		s.ev.Emit(ctx, realtime.Event{
			Name:  realtime.EventExpertUpdated,
			Rooms: realtime.Broadcast(res.expert.UserID),
			Data:  res.expert,
		})
		for _, t := range res.txs {
			s.ev.Emit(ctx, realtime.Event{Name: realtime.EventTransactionCreated, Rooms: t.Rooms(), Data: t})
		}
	}
	return res.order, nil
}

// pay credits the expert of o with its earning and records the earning and
// the platform commission. It must run inside the transaction holding the
// order lock.
func (s *Service) pay(ctx context.Context, tx sqlx.ExtContext, o Order, rate float64, now time.Time) (applied, error) {
	e, err := expert.FetchForUpdate(ctx, tx, o.Expert())
	if err != nil {
		if errors.Is(err, expert.ErrNotFound) {
			return applied{}, fmt.Errorf("%w: %s", ErrExpertNotFound, o.Expert())
		}
		return applied{}, err
	}

	split := payout.Compute(o.Amount, rate)
	e.Credit(split.EarningAmount)
	e.UpdatedAt = now
	if err := expert.SaveBalances(ctx, tx, e); err != nil {
		return applied{}, err
	}

	txs := []ledger.Transaction{
		{
			ID:          validate.GenerateID(),
			OrderID:     ledger.Ref(o.ID),
			ExpertID:    ledger.Ref(e.UserID),
			StudentID:   ledger.Ref(o.StudentID),
			Type:        ledger.ExpertCredit,
			Amount:      split.EarningAmount,
			Description: fmt.Sprintf("Earning for order %s", o.ID),
			Status:      ledger.Completed,
			CreatedAt:   now,
		},
		{
			ID:          validate.GenerateID(),
			OrderID:     ledger.Ref(o.ID),
			ExpertID:    ledger.Ref(e.UserID),
			StudentID:   ledger.Ref(o.StudentID),
			Type:        ledger.Commission,
			Amount:      split.PlatformProfit,
			Description: fmt.Sprintf("Platform commission (%g%%) for order %s", rate, o.ID),
			Status:      ledger.Completed,
			CreatedAt:   now,
		},
	}
	for _, t := range txs {
		if err := ledger.Create(ctx, tx, t); err != nil {
			return applied{}, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"order_id":  o.ID,
		"expert_id": e.UserID,
		"earning":   split.EarningAmount,
		"profit":    split.PlatformProfit,
	}).Info("payout applied")

	return applied{expert: &e, txs: txs, split: split}, nil
}

// assign checks that id belongs to an expert and opens their expert profile.
func assign(ctx context.Context, tx sqlx.ExtContext, id string, now time.Time) error {
	if err := validate.CheckID(id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotAnExpert, err)
	}
	u, err := user.Fetch(ctx, tx, id)
	switch {
	case errors.Is(err, user.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotAnExpert, id)
	case err != nil:
		return err
	case u.Role != claims.RoleExpert:
		return fmt.Errorf("%w: %s is %s", ErrNotAnExpert, id, u.Role)
	}
	return expert.Create(ctx, tx, id, now)
}

// commissionRate reads the configured rate, falling back to the default.
func (s *Service) commissionRate(ctx context.Context, orderID string) float64 {
	r, err := settings.CommissionRate(ctx, s.db)
	rate, ok := payout.Resolve(r, err)
	if !ok {
		s.log.WithError(err).WithFields(logrus.Fields{
			"order_id":   orderID,
			"configured": r,
			"fallback":   rate,
		}).Warn("commission rate unavailable, using default")
	}
	return rate
}

// Deliver hands the work in for review: the current milestone is marked
// delivered, files are appended and progress reaches 100.
func (s *Service) Deliver(ctx context.Context, c claims.Claims, id string, d Delivery) (Order, error) {
	var o Order
	err := database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		var err error
		if o, err = FetchForUpdate(ctx, tx, id); err != nil {
			return err
		}

		if partyOf(c, o) != assignedExpert {
			return fmt.Errorf("%w: only the assigned expert can deliver", ErrForbidden)
		}
		if err := CanMove(o.Status, Review); err != nil {
			return err
		}

		now := s.now()
		for i := range d.Files {
			if d.Files[i].UploadedAt.IsZero() {
				d.Files[i].UploadedAt = now
			}
		}
		o.Files.V = append(o.Files.V, d.Files...)
		if i := o.NextMilestone; i >= 0 && i < len(o.Milestones.V) {
			o.Milestones.V[i].Status = MilestoneDelivered
			o.Milestones.V[i].Submissions = append(o.Milestones.V[i].Submissions, d.Files...)
		}
		o.Status = Review
		o.Progress = 100
		o.UpdatedAt = now

		return Save(ctx, tx, o)
	})
	if err != nil {
		return Order{}, err
	}

	s.emitOrder(ctx, o)
	return o, nil
}

// emitOrder tells the broadcast room and both parties about o.
func (s *Service) emitOrder(ctx context.Context, o Order) {
	s.ev.Emit(ctx, realtime.Event{
		Name:  realtime.EventOrderUpdated,
		Rooms: realtime.Broadcast(o.StudentID, o.ExpertID),
		Data:  o,
	})
}
