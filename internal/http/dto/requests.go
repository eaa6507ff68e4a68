package dto

import "github.com/fairlance/backend/internal/rail"

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LinkWalletRequest struct {
	WalletAddress string          `json:"wallet_address"`
	Proof         *rail.ProofData `json:"proof,omitempty"`
}

type MilestoneRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"` // decimal tokens, e.g. "1.5"
	DueDate     int64  `json:"due_date,omitempty"`
}

type CreateProjectRequest struct {
	FreelancerID string             `json:"freelancer_id"`
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	Deadline     int64              `json:"deadline"`
	Deposit      string             `json:"deposit"` // decimal tokens; must equal the milestone sum
	Milestones   []MilestoneRequest `json:"milestones"`
}

type SubmitMilestoneRequest struct {
	DeliverableHash string `json:"deliverable_hash"`
	DeliverableURL  string `json:"deliverable_url,omitempty"`
}

type ResolveDisputeRequest struct {
	Outcome string `json:"outcome"` // resume / cancel
}
