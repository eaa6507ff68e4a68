package models

import (
	"time"

	"github.com/google/uuid"
)

// FundingIntent parks a project's terms while the client's deposit is in
// flight. It lives in redis under its memo with a TTL; the project itself is
// only created once the indexer observes a matching transfer, so creation and
// funding stay a single atomic step.
type FundingIntent struct {
	Memo           string            `json:"memo"`
	ClientID       uuid.UUID         `json:"client_id"`
	FreelancerID   uuid.UUID         `json:"freelancer_id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Deadline       int64             `json:"deadline"`
	DepositNano    string            `json:"deposit_nano"`
	DepositAddress string            `json:"deposit_address"`
	Milestones     []IntentMilestone `json:"milestones"`
	CreatedAt      time.Time         `json:"created_at"`
}

type IntentMilestone struct {
	Description string `json:"description"`
	AmountNano  string `json:"amount_nano"`
	DueDate     int64  `json:"due_date"`
}
