package escrow

import (
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Project statuses
type ProjectStatus string

const (
	ProjectStatusCreated    ProjectStatus = "created"
	ProjectStatusFunded     ProjectStatus = "funded"
	ProjectStatusInProgress ProjectStatus = "in_progress"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusCancelled  ProjectStatus = "cancelled"
	ProjectStatusDisputed   ProjectStatus = "disputed"
)

// Valid project transitions: from -> []to. "created" exists only as the
// pre-funding state: creation and deposit are a single atomic operation, so a
// stored project never observes it, but the edge is kept so the map describes
// the full lifecycle.
var ValidProjectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectStatusCreated:    {ProjectStatusFunded, ProjectStatusCancelled},
	ProjectStatusFunded:     {ProjectStatusInProgress, ProjectStatusCancelled, ProjectStatusDisputed},
	ProjectStatusInProgress: {ProjectStatusCompleted, ProjectStatusCancelled, ProjectStatusDisputed},
	ProjectStatusDisputed:   {ProjectStatusInProgress, ProjectStatusCancelled},
	ProjectStatusCompleted:  {},
	ProjectStatusCancelled:  {},
}

func (s ProjectStatus) CanTransitionTo(to ProjectStatus) bool {
	allowed, ok := ValidProjectTransitions[s]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are permitted. Disputed is
// pending-resolution, not terminal.
func (s ProjectStatus) Terminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusCancelled
}

// Milestone statuses
type MilestoneStatus string

const (
	MilestoneStatusPending   MilestoneStatus = "pending"
	MilestoneStatusSubmitted MilestoneStatus = "submitted"
	MilestoneStatusApproved  MilestoneStatus = "approved"
	MilestoneStatusRejected  MilestoneStatus = "rejected"
)

// Valid milestone transitions. The rejected -> submitted edge is the
// resubmission path; whether the engine allows it is governed by
// Config.AllowResubmission, the map only states that the edge is well-formed.
var ValidMilestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestoneStatusPending:   {MilestoneStatusSubmitted},
	MilestoneStatusSubmitted: {MilestoneStatusApproved, MilestoneStatusRejected},
	MilestoneStatusRejected:  {MilestoneStatusSubmitted},
	MilestoneStatusApproved:  {},
}

func (s MilestoneStatus) CanTransitionTo(to MilestoneStatus) bool {
	allowed, ok := ValidMilestoneTransitions[s]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == to {
			return true
		}
	}
	return false
}

// Milestone is a fixed-amount, independently approvable unit of work owned by
// its project. Milestones have no identity outside project+index.
type Milestone struct {
	Description     string
	Amount          *big.Int // nano units
	Status          MilestoneStatus
	DeliverableHash string
	DeliverableURL  string
	DueDate         int64
	SubmittedAt     int64
	ApprovedAt      int64
	RejectedAt      int64
}

// Clone returns a deep copy so callers can mutate freely.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Amount != nil {
		clone.Amount = new(big.Int).Set(m.Amount)
	}
	return &clone
}

// MilestoneSpec describes one milestone at project creation time.
type MilestoneSpec struct {
	Description string
	Amount      *big.Int
	DueDate     int64
}

// Validate checks the spec in isolation; schedule-level checks (sum equals
// deposit) happen at project creation.
func (s MilestoneSpec) Validate() error {
	if strings.TrimSpace(s.Description) == "" {
		return errInput("milestone description required")
	}
	if s.Amount == nil || s.Amount.Sign() <= 0 {
		return errInput("milestone amount must be positive")
	}
	if s.DueDate <= 0 {
		return errInput("milestone due date required")
	}
	return nil
}

// Project holds the immutable parties and terms plus the runtime status of a
// single escrow agreement. The milestone slice is fixed at creation; entries
// are never added or removed.
type Project struct {
	ID             uint64
	Client         uuid.UUID
	Freelancer     uuid.UUID
	Title          string
	Description    string
	TotalAmount    *big.Int // nano units; always the sum of milestone amounts
	Status         ProjectStatus
	CreatedAt      int64
	UpdatedAt      int64
	Deadline       int64
	FundsDeposited bool
	Milestones     []*Milestone
}

// Clone returns a deep copy of the project.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	clone := *p
	if p.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(p.TotalAmount)
	}
	if len(p.Milestones) > 0 {
		clone.Milestones = make([]*Milestone, len(p.Milestones))
		for i, m := range p.Milestones {
			clone.Milestones[i] = m.Clone()
		}
	}
	return &clone
}

func (p *Project) milestone(index int) *Milestone {
	if p == nil || index < 0 || index >= len(p.Milestones) {
		return nil
	}
	return p.Milestones[index]
}

// AllApproved reports whether every milestone has been approved.
func (p *Project) AllApproved() bool {
	if p == nil || len(p.Milestones) == 0 {
		return false
	}
	for _, m := range p.Milestones {
		if m == nil || m.Status != MilestoneStatusApproved {
			return false
		}
	}
	return true
}

// AnyApproved reports whether at least one milestone has been disbursed.
// Cancellation is blocked once this is true: released funds cannot be clawed
// back.
func (p *Project) AnyApproved() bool {
	if p == nil {
		return false
	}
	for _, m := range p.Milestones {
		if m != nil && m.Status == MilestoneStatusApproved {
			return true
		}
	}
	return false
}

// IsParty reports whether the caller is the project's client or freelancer.
func (p *Project) IsParty(caller uuid.UUID) bool {
	if p == nil {
		return false
	}
	return caller == p.Client || caller == p.Freelancer
}

// Snapshot pairs a project with its remaining escrowed balance for
// persistence and restore.
type Snapshot struct {
	Project   *Project
	Remaining *big.Int
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := &Snapshot{Project: s.Project.Clone()}
	if s.Remaining != nil {
		clone.Remaining = new(big.Int).Set(s.Remaining)
	} else {
		clone.Remaining = big.NewInt(0)
	}
	return clone
}
