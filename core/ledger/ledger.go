// Package ledger keeps the append-only record of money movements.
package ledger

import (
	"time"

	"github.com/penguhub/marketplace/realtime"
)

type Type string

const (
	Income       Type = "INCOME"
	Payout       Type = "PAYOUT"
	Commission   Type = "COMMISSION"
	ExpertCredit Type = "EXPERT_CREDIT"
	Reward       Type = "REWARD"
)

type Status string

const (
	Completed  Status = "completed"
	Chargeback Status = "chargeback"
)

const chargebackPrefix = "[CHARGEBACK] "

type Transaction struct {
	ID          string    `json:"id" db:"transaction_id"`
	OrderID     *string   `json:"orderId" db:"order_id"`
	ExpertID    *string   `json:"expertId" db:"expert_id"`
	StudentID   *string   `json:"studentId" db:"student_id"`
	Type        Type      `json:"type" db:"type"`
	Amount      int64     `json:"amount" db:"amount"`
	Description string    `json:"description" db:"description"`
	Status      Status    `json:"status" db:"status"`
	ExternalID  *string   `json:"externalId,omitempty" db:"external_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// Rooms addresses the broadcast room and both parties of t.
func (t Transaction) Rooms() []string {
	return realtime.Broadcast(t.ExpertID, t.StudentID)
}

// Ref turns an optional id into a nullable column value.
func Ref(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

type Filter struct {
	OrderID   string
	ExpertID  string
	StudentID string
	// Party matches either side of the transaction.
	Party  string
	Limit  int
	Offset int
}
