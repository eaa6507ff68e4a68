package models

import (
	"time"

	"github.com/google/uuid"
)

// Payout kinds.
const (
	PayoutKindMilestone = "milestone_payout"
	PayoutKindRefund    = "refund"
	PayoutKindFee       = "platform_fee"
)

// Payout statuses.
const (
	PayoutStatusPending = "pending"
	PayoutStatusSent    = "sent"
	PayoutStatusFailed  = "failed"
)

// Payout is one queued outbound transfer. The escrow engine decides amounts;
// the worker drains pending rows through the payment rail.
type Payout struct {
	ID             uuid.UUID  `json:"id"`
	ProjectID      uint64     `json:"project_id"`
	MilestoneIndex *int       `json:"milestone_index,omitempty"`
	Kind           string     `json:"kind"`
	RecipientID    uuid.UUID  `json:"recipient_id"`
	Address        *string    `json:"address,omitempty"` // overrides the recipient's linked wallet
	AmountNano     string     `json:"amount_nano"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	TxRef          *string    `json:"tx_ref,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}
