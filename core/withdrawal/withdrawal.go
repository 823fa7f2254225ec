// Package withdrawal turns expert balances and student credits into cash-out
// requests that admins settle.
package withdrawal

import (
	"errors"
	"fmt"
	"time"

	"github.com/penguhub/marketplace/core/expert"
	"github.com/penguhub/marketplace/database"
	"github.com/shopspring/decimal"
)

type Status string

const (
	Pending   Status = "PENDING"
	Confirmed Status = "CONFIRMED"
	Paid      Status = "PAID"
	Rejected  Status = "REJECTED"
	Approved  Status = "APPROVED"
)

const (
	// MinCredits is the smallest student withdrawal.
	MinCredits = 500

	creditsPerUnit = 100
	bdtPerUnit     = 120
)

var (
	ErrNotFound            = errors.New("withdrawal not found")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInsufficientFunds   = errors.New("insufficient balance")
	ErrInvalidMethod       = errors.New("invalid payout method")
	ErrInvalidTransition   = errors.New("invalid withdrawal status transition")
	ErrBelowMinimum        = fmt.Errorf("minimum withdrawal is %d credits", MinCredits)
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrMonthlyCap          = errors.New("only one withdrawal per month is allowed")
	ErrAlreadyRejected     = errors.New("withdrawal already rejected")
	ErrNotPending          = errors.New("withdrawal is not pending")
)

// Withdrawal is an expert's request to be paid out of their balance. The
// balance only moves when the withdrawal is paid.
type Withdrawal struct {
	ID            string                             `json:"id" db:"withdrawal_id"`
	ExpertID      string                             `json:"expertId" db:"expert_id"`
	Amount        int64                              `json:"amount" db:"amount"`
	MethodID      string                             `json:"methodId" db:"method_id"`
	MethodDetails database.JSON[expert.PayoutMethod] `json:"methodDetails" db:"method_details"`
	Status        Status                             `json:"status" db:"status"`
	Note          string                             `json:"note" db:"note"`
	CreatedAt     time.Time                          `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time                          `json:"updatedAt" db:"updated_at"`
}

type WithdrawalNew struct {
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	MethodID string `json:"methodId" validate:"required"`
}

type WithdrawalUp struct {
	Status Status `json:"status" validate:"required,oneof=PENDING CONFIRMED PAID REJECTED"`
	Note   string `json:"note" validate:"max=500"`
}

// expertTransitions lists where an admin may move an expert withdrawal.
// PAID and REJECTED are terminal.
var expertTransitions = map[Status][]Status{
	Pending:   {Confirmed, Paid, Rejected},
	Confirmed: {Paid, Rejected},
}

func canMove(from, to Status) error {
	for _, s := range expertTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// StudentWithdrawal converts credits to taka. Credits leave the student's
// account when the request is made and come back if it is rejected.
type StudentWithdrawal struct {
	ID            string    `json:"id" db:"withdrawal_id"`
	StudentID     string    `json:"studentId" db:"student_id"`
	AmountCredits int64     `json:"amountCredits" db:"amount_credits"`
	AmountBDT     int64     `json:"amountBDT" db:"amount_bdt"`
	Method        string    `json:"method" db:"method"`
	Phone         string    `json:"phone" db:"phone"`
	Status        Status    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

type StudentWithdrawalNew struct {
	AmountCredits int64  `json:"amountCredits" validate:"required,gt=0"`
	Method        string `json:"method" validate:"required,oneof=bkash nagad rocket"`
	Phone         string `json:"phone" validate:"required,min=6,max=20"`
}

// Decision names the student withdrawal an admin approves or rejects.
type Decision struct {
	WithdrawalID string `json:"withdrawalId" validate:"required,uuid"`
}

type Filter struct {
	ExpertID  string
	StudentID string
	Status    Status
	Limit     int
	Offset    int
}

// ToBDT converts credits at the fixed rate of 120 taka per 100 credits,
// rounded half up to a whole taka.
func ToBDT(credits int64) int64 {
	return decimal.NewFromInt(credits).
		Div(decimal.NewFromInt(creditsPerUnit)).
		Mul(decimal.NewFromInt(bdtPerUnit)).
		Round(0).
		IntPart()
}

// MonthWindow returns the calendar month containing now in loc, as the
// half-open range [start, end).
func MonthWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
