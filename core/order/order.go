package order

import (
	"encoding/json"
	"time"

	"github.com/penguhub/marketplace/core/ref"
	"github.com/penguhub/marketplace/database"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentVerified PaymentStatus = "VERIFIED"
	PaymentFailed   PaymentStatus = "FAILED"
)

type Status string

const (
	PendingVerification Status = "PENDING_VERIFICATION"
	PaidConfirmed       Status = "PAID_CONFIRMED"
	Assigned            Status = "ASSIGNED"
	InProgress          Status = "IN_PROGRESS"
	Review              Status = "Review"
	Completed           Status = "COMPLETED"
	Dispute             Status = "DISPUTE"
	Cancelled           Status = "CANCELLED"
)

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "PENDING"
	MilestoneInProgress MilestoneStatus = "IN_PROGRESS"
	MilestoneDelivered  MilestoneStatus = "DELIVERED"
	MilestoneApproved   MilestoneStatus = "APPROVED"
)

type Order struct {
	ID                string                           `json:"id" db:"order_id"`
	RequestID         string                           `json:"requestId" db:"request_id"`
	StudentID         string                           `json:"studentId" db:"student_id"`
	ExpertID          *string                          `json:"expertId" db:"expert_id"`
	Amount            int64                            `json:"amount" db:"amount"`
	PaymentStatus     PaymentStatus                    `json:"paymentStatus" db:"payment_status"`
	Status            Status                           `json:"status" db:"status"`
	Milestones        database.JSON[[]Milestone]       `json:"milestones" db:"milestones"`
	Files             database.JSON[[]File]            `json:"files" db:"files"`
	Progress          int                              `json:"progress" db:"progress"`
	NextMilestone     int                              `json:"nextMilestone" db:"next_milestone"`
	Annotations       database.JSON[[]json.RawMessage] `json:"annotations" db:"annotations"`
	RevisionsResolved bool                             `json:"revisionsResolved" db:"revisions_resolved"`
	PayoutProcessed   bool                             `json:"payoutProcessed" db:"payout_processed"`
	CreatedAt         time.Time                        `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time                        `json:"updatedAt" db:"updated_at"`
}

// Expert returns the id of the assigned expert, or "" when unassigned.
func (o Order) Expert() string { return ref.ID(o.ExpertID) }

type Milestone struct {
	Title       string          `json:"title" validate:"required"`
	Status      MilestoneStatus `json:"status" validate:"omitempty,oneof=PENDING IN_PROGRESS DELIVERED APPROVED"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Submissions []File          `json:"submissions,omitempty" validate:"omitempty,dive"`
}

// File points at an upload stored outside the service.
type File struct {
	Name       string    `json:"name" validate:"required"`
	URL        string    `json:"url" validate:"required,url"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type OrderNew struct {
	RequestID  string      `json:"requestId" validate:"required"`
	StudentID  string      `json:"studentId" validate:"omitempty,uuid"`
	Amount     int64       `json:"amount" validate:"required,gt=0"`
	Milestones []Milestone `json:"milestones" validate:"omitempty,dive"`
}

// OrderUp is a partial update. Absent fields are left untouched.
type OrderUp struct {
	ExpertID          *ref.Ref           `json:"expertId"`
	Status            *Status            `json:"status" validate:"omitempty,oneof=PENDING_VERIFICATION PAID_CONFIRMED ASSIGNED IN_PROGRESS Review COMPLETED DISPUTE CANCELLED"`
	Files             *[]File            `json:"files" validate:"omitempty,dive"`
	Progress          *int               `json:"progress" validate:"omitempty,gte=0,lte=100"`
	Milestones        *[]Milestone       `json:"milestones" validate:"omitempty,dive"`
	NextMilestone     *int               `json:"nextMilestone" validate:"omitempty,gte=0"`
	Annotations       *[]json.RawMessage `json:"annotations"`
	RevisionsResolved *bool              `json:"revisionsResolved"`
}

type Delivery struct {
	Files []File `json:"files" validate:"omitempty,dive"`
}

type Filter struct {
	StudentID string
	ExpertID  string
	Status    Status
	Limit     int
	Offset    int
}
