package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrForbidden         = errors.New("not allowed to change this order")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyVerified   = errors.New("payment already verified")
	ErrExpertNotFound    = errors.New("assigned expert has no expert profile")
	ErrNoExpert          = errors.New("order has no assigned expert")
	ErrNotAnExpert       = errors.New("assigned user is not an expert")
	ErrStudentRequired   = errors.New("studentId is a required field")
	ErrAmountMismatch    = errors.New("paid amount does not match the order")
)

// transitions lists the statuses reachable by a general update. PAID_CONFIRMED
// is only reached through payment verification.
var transitions = map[Status][]Status{
	PendingVerification: {Cancelled},
	PaidConfirmed:       {Assigned, InProgress, Dispute, Cancelled},
	Assigned:            {InProgress, Review, Completed, Dispute, Cancelled},
	InProgress:          {Review, Completed, Dispute, Cancelled},
	Review:              {InProgress, Completed, Dispute, Cancelled},
	Dispute:             {InProgress, Review, Completed, Cancelled},
}

func (s Status) Terminal() bool { return s == Completed || s == Cancelled }

// NeedsExpert reports whether an order must have an assigned expert to be
// in status s.
func (s Status) NeedsExpert() bool {
	switch s {
	case Assigned, InProgress, Review, Completed:
		return true
	}
	return false
}

// CanMove reports whether an update may move an order from one status to
// another. Staying in the same status is always allowed.
func CanMove(from, to Status) error {
	if from == to {
		return nil
	}
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// target is the status an update moves the order to. Assigning an expert to
// a paid order without naming a status assigns it.
func target(o Order, up OrderUp) Status {
	switch {
	case up.Status != nil:
		return *up.Status
	case up.ExpertID != nil && !up.ExpertID.IsZero() && o.Status == PaidConfirmed:
		return Assigned
	}
	return o.Status
}

// payoutDue is the completion guard: the payout runs only on the update that
// completes an order with an expert whose payout has not been processed.
func payoutDue(o Order, up OrderUp) bool {
	return up.Status != nil && *up.Status == Completed && !o.PayoutProcessed && o.Expert() != ""
}

// merge applies the fields present in up to o.
func merge(o Order, up OrderUp, to Status) Order {
	if up.ExpertID != nil && !up.ExpertID.IsZero() {
		id := up.ExpertID.ID()
		o.ExpertID = &id
	}
	o.Status = to
	if up.Files != nil {
		o.Files.V = *up.Files
	}
	if up.Progress != nil {
		o.Progress = *up.Progress
	}
	if up.Milestones != nil {
		o.Milestones.V = *up.Milestones
	}
	if up.NextMilestone != nil {
		o.NextMilestone = *up.NextMilestone
	}
	if up.Annotations != nil {
		o.Annotations.V = *up.Annotations
	}
	if up.RevisionsResolved != nil {
		o.RevisionsResolved = *up.RevisionsResolved
	}
	return o
}

// Role of the caller relative to one order.
type party int

const (
	stranger party = iota
	admin
	assignedExpert
	owningStudent
)

// authorize checks that the caller may apply up to o moving it to status to.
func authorize(p party, o Order, up OrderUp, to Status) error {
	switch p {
	case admin:
		return nil

	case assignedExpert:
		if up.ExpertID != nil || up.Annotations != nil || up.RevisionsResolved != nil {
			return fmt.Errorf("%w: experts may only update the work on an order", ErrForbidden)
		}
		if to != o.Status && to != InProgress && to != Review {
			return fmt.Errorf("%w: experts cannot move an order to %s", ErrForbidden, to)
		}
		return nil

	case owningStudent:
		if up.ExpertID != nil || up.Files != nil || up.Progress != nil || up.Milestones != nil || up.NextMilestone != nil {
			return fmt.Errorf("%w: students may only review an order", ErrForbidden)
		}
		if to != o.Status && to != Completed && to != Dispute {
			return fmt.Errorf("%w: students cannot move an order to %s", ErrForbidden, to)
		}
		return nil
	}
	return ErrForbidden
}
