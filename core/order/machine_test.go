package order

import (
	"errors"
	"testing"

	"github.com/penguhub/marketplace/core/ref"
)

func status(s Status) *Status { return &s }

func TestCanMove(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{PendingVerification, Cancelled, true},
		{PendingVerification, PaidConfirmed, false},
		{PendingVerification, Assigned, false},
		{PaidConfirmed, Assigned, true},
		{PaidConfirmed, Review, false},
		{Assigned, InProgress, true},
		{InProgress, Review, true},
		{Review, InProgress, true},
		{Review, Completed, true},
		{Dispute, Completed, true},
		{InProgress, Dispute, true},
		{Completed, Completed, true},
		{Completed, Dispute, false},
		{Completed, InProgress, false},
		{Cancelled, PaidConfirmed, false},
	}

	for _, tt := range tests {
		err := CanMove(tt.from, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", tt.from, tt.to, err)
		}
	}
}

func TestNeedsExpert(t *testing.T) {
	for _, s := range []Status{Assigned, InProgress, Review, Completed} {
		if !s.NeedsExpert() {
			t.Errorf("%s should need an expert", s)
		}
	}
	for _, s := range []Status{PendingVerification, PaidConfirmed, Dispute, Cancelled} {
		if s.NeedsExpert() {
			t.Errorf("%s should not need an expert", s)
		}
	}
}

func TestTargetAssignsOnExpert(t *testing.T) {
	e := ref.New("e1")

	if got := target(Order{Status: PaidConfirmed}, OrderUp{ExpertID: &e}); got != Assigned {
		t.Fatalf("expected ASSIGNED, got %s", got)
	}
	if got := target(Order{Status: InProgress}, OrderUp{ExpertID: &e}); got != InProgress {
		t.Fatalf("reassigning a running order must keep its status, got %s", got)
	}
	if got := target(Order{Status: PaidConfirmed}, OrderUp{ExpertID: &e, Status: status(InProgress)}); got != InProgress {
		t.Fatalf("an explicit status wins, got %s", got)
	}
}

func TestPayoutDue(t *testing.T) {
	expert := "e1"
	tests := []struct {
		name string
		o    Order
		up   OrderUp
		want bool
	}{
		{"completes with expert", Order{ExpertID: &expert}, OrderUp{Status: status(Completed)}, true},
		{"already paid", Order{ExpertID: &expert, PayoutProcessed: true}, OrderUp{Status: status(Completed)}, false},
		{"no expert", Order{}, OrderUp{Status: status(Completed)}, false},
		{"other status", Order{ExpertID: &expert}, OrderUp{Status: status(Review)}, false},
		{"no status", Order{ExpertID: &expert, Status: Completed}, OrderUp{}, false},
	}

	for _, tt := range tests {
		if got := payoutDue(tt.o, tt.up); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestMergeKeepsAbsentFields(t *testing.T) {
	progress := 40
	o := Order{Status: InProgress, Progress: 10, NextMilestone: 2, RevisionsResolved: true}
	o.Files.V = []File{{Name: "draft.pdf", URL: "https://cdn.pengu.test/draft.pdf"}}

	got := merge(o, OrderUp{Progress: &progress}, InProgress)

	if got.Progress != 40 {
		t.Fatalf("expected progress 40, got %d", got.Progress)
	}
	if got.NextMilestone != 2 || !got.RevisionsResolved || len(got.Files.V) != 1 {
		t.Fatalf("absent fields were changed: %+v", got)
	}
}

func TestAuthorize(t *testing.T) {
	o := Order{Status: InProgress}
	files := []File{}
	yes := true
	e := ref.New("e2")

	tests := []struct {
		name string
		p    party
		up   OrderUp
		to   Status
		ok   bool
	}{
		{"admin anything", admin, OrderUp{ExpertID: &e}, Cancelled, true},
		{"expert to review", assignedExpert, OrderUp{Files: &files}, Review, true},
		{"expert completes", assignedExpert, OrderUp{}, Completed, false},
		{"expert reassigns", assignedExpert, OrderUp{ExpertID: &e}, InProgress, false},
		{"student completes", owningStudent, OrderUp{RevisionsResolved: &yes}, Completed, true},
		{"student disputes", owningStudent, OrderUp{}, Dispute, true},
		{"student cancels", owningStudent, OrderUp{}, Cancelled, false},
		{"student edits files", owningStudent, OrderUp{Files: &files}, InProgress, false},
		{"stranger", stranger, OrderUp{}, InProgress, false},
	}

	for _, tt := range tests {
		err := authorize(tt.p, o, tt.up, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrForbidden) {
			t.Errorf("%s: expected ErrForbidden, got %v", tt.name, err)
		}
	}
}
