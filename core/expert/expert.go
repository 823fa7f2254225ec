package expert

import (
	"errors"
	"time"

	"github.com/penguhub/marketplace/database"
)

var (
	ErrNotFound       = errors.New("expert not found")
	ErrMethodNotFound = errors.New("payout method not found")
)

type Expert struct {
	UserID          string                        `json:"userId" db:"user_id"`
	Balance         Amount                        `json:"balance" db:"balance"`
	Earnings        Amount                        `json:"earnings" db:"earnings"`
	CompletedOrders int                           `json:"completedOrders" db:"completed_orders"`
	PayoutMethods   database.JSON[[]PayoutMethod] `json:"payoutMethods" db:"payout_methods"`
	UpdatedAt       time.Time                     `json:"updatedAt" db:"updated_at"`
}

// Credit applies the earning of one completed order.
func (e *Expert) Credit(earning int64) {
	e.Balance += Amount(earning)
	e.Earnings += Amount(earning)
	e.CompletedOrders++
}

// Debit takes a paid withdrawal out of the balance.
func (e *Expert) Debit(amount int64) {
	e.Balance -= Amount(amount)
}

// FindMethod looks a payout method up by id or by its legacy short id.
func (e Expert) FindMethod(id string) (PayoutMethod, bool) {
	if id == "" {
		return PayoutMethod{}, false
	}
	for _, m := range e.PayoutMethods.V {
		if m.ID == id || (m.ShortID != "" && m.ShortID == id) {
			return m, true
		}
	}
	return PayoutMethod{}, false
}

type PayoutMethod struct {
	ID        string            `json:"id"`
	ShortID   string            `json:"shortId,omitempty"`
	Type      string            `json:"type"`
	Details   map[string]string `json:"details"`
	IsDefault bool              `json:"isDefault"`
}

type PayoutMethodNew struct {
	Type      string            `json:"type" validate:"required,oneof=bkash nagad rocket bank"`
	Details   map[string]string `json:"details" validate:"required,min=1"`
	IsDefault bool              `json:"isDefault"`
}
