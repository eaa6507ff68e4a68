package dto

import (
	"time"

	"github.com/fairlance/backend/internal/escrow"
	"github.com/fairlance/backend/internal/rail"
)

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type IntentResponse struct {
	Memo           string `json:"memo"`
	DepositAddress string `json:"deposit_address"`
	Amount         string `json:"amount"`
	ExpiresAt      int64  `json:"expires_at"`
}

type MilestoneView struct {
	Index           int    `json:"index"`
	Description     string `json:"description"`
	Amount          string `json:"amount"`
	Status          string `json:"status"`
	DeliverableHash string `json:"deliverable_hash,omitempty"`
	DeliverableURL  string `json:"deliverable_url,omitempty"`
	DueDate         int64  `json:"due_date,omitempty"`
	SubmittedAt     int64  `json:"submitted_at,omitempty"`
	ApprovedAt      int64  `json:"approved_at,omitempty"`
	RejectedAt      int64  `json:"rejected_at,omitempty"`
}

type ProjectView struct {
	ID          uint64          `json:"id"`
	Client      string          `json:"client"`
	Freelancer  string          `json:"freelancer"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Total       string          `json:"total"`
	Status      string          `json:"status"`
	Deadline    int64           `json:"deadline"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
	Milestones  []MilestoneView `json:"milestones"`
}

// NewProjectView renders a project for the API, formatting nano amounts back
// into decimal token strings.
func NewProjectView(p *escrow.Project) ProjectView {
	v := ProjectView{
		ID:          p.ID,
		Client:      p.Client.String(),
		Freelancer:  p.Freelancer.String(),
		Title:       p.Title,
		Description: p.Description,
		Total:       rail.FormatAmount(p.TotalAmount),
		Status:      string(p.Status),
		Deadline:    p.Deadline,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	for i, m := range p.Milestones {
		v.Milestones = append(v.Milestones, NewMilestoneView(i, m))
	}
	return v
}

func NewMilestoneView(index int, m *escrow.Milestone) MilestoneView {
	return MilestoneView{
		Index:           index,
		Description:     m.Description,
		Amount:          rail.FormatAmount(m.Amount),
		Status:          string(m.Status),
		DeliverableHash: m.DeliverableHash,
		DeliverableURL:  m.DeliverableURL,
		DueDate:         m.DueDate,
		SubmittedAt:     m.SubmittedAt,
		ApprovedAt:      m.ApprovedAt,
		RejectedAt:      m.RejectedAt,
	}
}

// IntentExpiry is the window clients have to fund an intent before it lapses.
func IntentExpiry(createdAt time.Time, ttl time.Duration) int64 {
	return createdAt.Add(ttl).Unix()
}
