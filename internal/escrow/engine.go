package escrow

import (
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config carries the engine-level policy knobs.
type Config struct {
	// PlatformFeeBps is the platform fee in basis points, taken out of every
	// milestone disbursement. 0 disables fees.
	PlatformFeeBps uint32
	// AllowResubmission permits a freelancer to resubmit a rejected
	// milestone. When false a rejection is final for that milestone.
	AllowResubmission bool
	// Arbiter is the only identity allowed to resolve disputes. The zero
	// UUID disables dispute resolution entirely.
	Arbiter uuid.UUID
}

// CreateProjectInput bundles everything needed to create and fund a project in
// one atomic step.
type CreateProjectInput struct {
	Client      uuid.UUID
	Freelancer  uuid.UUID
	Title       string
	Description string
	Deadline    int64
	Deposit     *big.Int
	Milestones  []MilestoneSpec
}

// Disbursement describes the value released by a milestone approval.
type Disbursement struct {
	ProjectID      uint64
	MilestoneIndex int
	Recipient      uuid.UUID
	Amount         *big.Int // gross milestone amount
	Payout         *big.Int // amount minus fee, owed to the freelancer
	Fee            *big.Int // platform cut
	Remaining      *big.Int // escrow left after this disbursement
}

// Refund describes the value returned to the client on cancellation.
type Refund struct {
	ProjectID uint64
	Recipient uuid.UUID
	Amount    *big.Int
}

// Dispute resolution outcomes.
const (
	ResolutionResume = "resume"
	ResolutionCancel = "cancel"
)

// Engine owns the project state machines and the escrow ledger. All
// operations are atomic per project: validation happens against a clone, the
// ledger move is the last fallible step, and the clone replaces the stored
// project only when everything succeeded. Operations on distinct projects run
// concurrently; operations on the same project serialize on its entry mutex.
type Engine struct {
	mu       sync.RWMutex
	projects map[uint64]*projectEntry
	nextID   uint64

	ledger  *Ledger
	emitter Emitter
	nowFn   func() int64
	cfg     Config
}

type projectEntry struct {
	mu      sync.Mutex
	project *Project
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		projects: make(map[uint64]*projectEntry),
		nextID:   1,
		ledger:   NewLedger(),
		emitter:  NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		cfg:      cfg,
	}
}

// SetEmitter replaces the event sink. Pass nil to silence events.
func (e *Engine) SetEmitter(emitter Emitter) {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now != nil {
		e.nowFn = now
	}
}

func (e *Engine) emit(events ...Event) {
	for _, evt := range events {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) entry(id uint64) (*projectEntry, error) {
	e.mu.RLock()
	entry, ok := e.projects[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrProjectNotFound
	}
	return entry, nil
}

// CreateProject validates the terms, assigns an id, escrows the deposit and
// stores the project as funded, all or nothing. No project record exists on
// any validation failure.
func (e *Engine) CreateProject(in CreateProjectInput) (*Project, error) {
	if in.Client == uuid.Nil || in.Freelancer == uuid.Nil {
		return nil, errInput("client and freelancer required")
	}
	if in.Client == in.Freelancer {
		return nil, ErrInvalidParty
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, errInput("title required")
	}
	now := e.nowFn()
	if in.Deadline <= now {
		return nil, ErrInvalidDeadline
	}
	if in.Deposit == nil || in.Deposit.Sign() <= 0 {
		return nil, errInput("deposit must be positive")
	}
	if len(in.Milestones) == 0 {
		return nil, errInput("at least one milestone required")
	}
	sum := new(big.Int)
	milestones := make([]*Milestone, len(in.Milestones))
	for i, spec := range in.Milestones {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		sum.Add(sum, spec.Amount)
		milestones[i] = &Milestone{
			Description: spec.Description,
			Amount:      new(big.Int).Set(spec.Amount),
			Status:      MilestoneStatusPending,
			DueDate:     spec.DueDate,
		}
	}
	if sum.Cmp(in.Deposit) != 0 {
		return nil, ErrInvalidSchedule
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	entry := &projectEntry{}
	entry.mu.Lock()
	e.projects[id] = entry
	e.mu.Unlock()
	defer entry.mu.Unlock()

	if err := e.ledger.Deposit(id, in.Deposit); err != nil {
		e.mu.Lock()
		delete(e.projects, id)
		e.mu.Unlock()
		return nil, err
	}

	project := &Project{
		ID:             id,
		Client:         in.Client,
		Freelancer:     in.Freelancer,
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		TotalAmount:    new(big.Int).Set(in.Deposit),
		Status:         ProjectStatusFunded,
		CreatedAt:      now,
		UpdatedAt:      now,
		Deadline:       in.Deadline,
		FundsDeposited: true,
		Milestones:     milestones,
	}
	entry.project = project

	e.emit(NewProjectCreatedEvent(project), NewFundsDepositedEvent(project))
	return project.Clone(), nil
}

// StartProject moves a funded project into in_progress. Only the freelancer
// may start, signalling acceptance of the terms.
func (e *Engine) StartProject(id uint64, caller uuid.UUID) (*Project, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	p := entry.project
	if caller != p.Freelancer {
		return nil, errUnauthorized("only the freelancer can start project %d", id)
	}
	if !p.Status.CanTransitionTo(ProjectStatusInProgress) || p.Status != ProjectStatusFunded {
		return nil, errState("cannot start project %d from %s", id, p.Status)
	}

	next := p.Clone()
	next.Status = ProjectStatusInProgress
	next.UpdatedAt = e.nowFn()
	entry.project = next

	e.emit(NewProjectStartedEvent(next))
	return next.Clone(), nil
}

// SubmitMilestone records a deliverable for review. Only the freelancer may
// submit, and only while the project is in progress.
func (e *Engine) SubmitMilestone(id uint64, index int, caller uuid.UUID, deliverableHash, deliverableURL string) (*Project, error) {
	if strings.TrimSpace(deliverableHash) == "" {
		return nil, errInput("deliverable hash required")
	}
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	p := entry.project
	if caller != p.Freelancer {
		return nil, errUnauthorized("only the freelancer can submit milestones on project %d", id)
	}
	if p.Status != ProjectStatusInProgress {
		return nil, errState("cannot submit milestone while project %d is %s", id, p.Status)
	}
	m := p.milestone(index)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	switch m.Status {
	case MilestoneStatusPending:
	case MilestoneStatusRejected:
		if !e.cfg.AllowResubmission {
			return nil, errState("milestone %d of project %d was rejected and resubmission is disabled", index, id)
		}
	default:
		return nil, errState("cannot submit milestone %d of project %d from %s", index, id, m.Status)
	}

	now := e.nowFn()
	next := p.Clone()
	nm := next.Milestones[index]
	nm.Status = MilestoneStatusSubmitted
	nm.DeliverableHash = strings.TrimSpace(deliverableHash)
	nm.DeliverableURL = strings.TrimSpace(deliverableURL)
	nm.SubmittedAt = now
	next.UpdatedAt = now
	entry.project = next

	e.emit(NewMilestoneSubmittedEvent(next, index))
	return next.Clone(), nil
}

// ApproveMilestone accepts a submitted deliverable and releases exactly that
// milestone's amount from escrow. When the last milestone is approved the
// project completes automatically. Only the client may approve.
func (e *Engine) ApproveMilestone(id uint64, index int, caller uuid.UUID) (*Project, *Disbursement, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	p := entry.project
	if caller != p.Client {
		return nil, nil, errUnauthorized("only the client can approve milestones on project %d", id)
	}
	if p.Status != ProjectStatusInProgress {
		return nil, nil, errState("cannot approve milestone while project %d is %s", id, p.Status)
	}
	m := p.milestone(index)
	if m == nil {
		return nil, nil, ErrMilestoneNotFound
	}
	if m.Status != MilestoneStatusSubmitted {
		return nil, nil, errState("cannot approve milestone %d of project %d from %s", index, id, m.Status)
	}

	now := e.nowFn()
	next := p.Clone()
	nm := next.Milestones[index]
	nm.Status = MilestoneStatusApproved
	nm.ApprovedAt = now
	next.UpdatedAt = now

	completed := next.AllApproved()
	if completed {
		if !next.Status.CanTransitionTo(ProjectStatusCompleted) {
			return nil, nil, errState("cannot complete project %d from %s", id, next.Status)
		}
		next.Status = ProjectStatusCompleted
	}

	// Ledger move is the last fallible step; state swaps only after it
	// succeeds.
	if err := e.ledger.Disburse(id, m.Amount); err != nil {
		return nil, nil, err
	}
	entry.project = next

	fee := feeFor(m.Amount, e.cfg.PlatformFeeBps)
	disb := &Disbursement{
		ProjectID:      id,
		MilestoneIndex: index,
		Recipient:      next.Freelancer,
		Amount:         new(big.Int).Set(m.Amount),
		Payout:         new(big.Int).Sub(m.Amount, fee),
		Fee:            fee,
		Remaining:      e.ledger.Remaining(id),
	}

	events := []Event{NewMilestoneApprovedEvent(next, index, disb)}
	if completed {
		events = append(events, NewProjectCompletedEvent(next))
	}
	e.emit(events...)
	return next.Clone(), disb, nil
}

// RejectMilestone sends a submitted deliverable back. No funds move. Only the
// client may reject.
func (e *Engine) RejectMilestone(id uint64, index int, caller uuid.UUID) (*Project, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	p := entry.project
	if caller != p.Client {
		return nil, errUnauthorized("only the client can reject milestones on project %d", id)
	}
	if p.Status != ProjectStatusInProgress {
		return nil, errState("cannot reject milestone while project %d is %s", id, p.Status)
	}
	m := p.milestone(index)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	if m.Status != MilestoneStatusSubmitted {
		return nil, errState("cannot reject milestone %d of project %d from %s", index, id, m.Status)
	}

	now := e.nowFn()
	next := p.Clone()
	nm := next.Milestones[index]
	nm.Status = MilestoneStatusRejected
	nm.RejectedAt = now
	next.UpdatedAt = now
	entry.project = next

	e.emit(NewMilestoneRejectedEvent(next, index))
	return next.Clone(), nil
}

// CancelProject refunds the remaining escrow to the client and terminates the
// project. Only the client may cancel, and only before any milestone has been
// approved: released funds cannot be clawed back.
func (e *Engine) CancelProject(id uint64, caller uuid.UUID) (*Project, *Refund, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	p := entry.project
	if caller != p.Client {
		return nil, nil, errUnauthorized("only the client can cancel project %d", id)
	}
	if !p.Status.CanTransitionTo(ProjectStatusCancelled) {
		return nil, nil, errState("cannot cancel project %d from %s", id, p.Status)
	}
	if p.Status == ProjectStatusDisputed {
		return nil, nil, errState("project %d is disputed, only the arbiter can cancel it", id)
	}
	if p.AnyApproved() {
		return nil, nil, errState("cannot cancel project %d after a milestone was approved", id)
	}

	next := p.Clone()
	next.Status = ProjectStatusCancelled
	next.UpdatedAt = e.nowFn()

	amount, err := e.ledger.Refund(id)
	if err != nil {
		return nil, nil, err
	}
	entry.project = next

	refund := &Refund{ProjectID: id, Recipient: next.Client, Amount: amount}
	e.emit(NewProjectCancelledEvent(next, refund))
	return next.Clone(), refund, nil
}

// RaiseDispute freezes the project pending arbitration. Either party may
// raise a dispute while the project is active.
func (e *Engine) RaiseDispute(id uint64, caller uuid.UUID) (*Project, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	p := entry.project
	if !p.IsParty(caller) {
		return nil, errUnauthorized("only a project party can raise a dispute on project %d", id)
	}
	if !p.Status.CanTransitionTo(ProjectStatusDisputed) {
		return nil, errState("cannot dispute project %d from %s", id, p.Status)
	}

	next := p.Clone()
	next.Status = ProjectStatusDisputed
	next.UpdatedAt = e.nowFn()
	entry.project = next

	e.emit(NewDisputeRaisedEvent(next, caller.String()))
	return next.Clone(), nil
}

// ResolveDispute is restricted to the configured arbiter. Outcome "resume"
// returns the project to in_progress; "cancel" refunds the remaining escrow
// to the client and terminates it.
func (e *Engine) ResolveDispute(id uint64, caller uuid.UUID, outcome string) (*Project, *Refund, error) {
	if e.cfg.Arbiter == uuid.Nil || caller != e.cfg.Arbiter {
		return nil, nil, errUnauthorized("only the arbiter can resolve disputes")
	}
	entry, err := e.entry(id)
	if err != nil {
		return nil, nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	p := entry.project
	if p.Status != ProjectStatusDisputed {
		return nil, nil, errState("project %d is not disputed", id)
	}

	next := p.Clone()
	next.UpdatedAt = e.nowFn()

	var refund *Refund
	switch outcome {
	case ResolutionResume:
		next.Status = ProjectStatusInProgress
	case ResolutionCancel:
		next.Status = ProjectStatusCancelled
		amount, err := e.ledger.Refund(id)
		if err != nil {
			return nil, nil, err
		}
		refund = &Refund{ProjectID: id, Recipient: next.Client, Amount: amount}
	default:
		return nil, nil, errInput("unknown resolution %q", outcome)
	}
	entry.project = next

	events := []Event{NewDisputeResolvedEvent(next, outcome)}
	if refund != nil {
		events = append(events, NewProjectCancelledEvent(next, refund))
	}
	e.emit(events...)
	return next.Clone(), refund, nil
}

// GetProject returns a copy of the project.
func (e *Engine) GetProject(id uint64) (*Project, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.project.Clone(), nil
}

// GetMilestone returns a copy of one milestone.
func (e *Engine) GetMilestone(id uint64, index int) (*Milestone, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	m := entry.project.milestone(index)
	if m == nil {
		return nil, ErrMilestoneNotFound
	}
	return m.Clone(), nil
}

// MilestoneCount returns the number of milestones on the project.
func (e *Engine) MilestoneCount(id uint64) (int, error) {
	entry, err := e.entry(id)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.project.Milestones), nil
}

// RemainingEscrow returns the undisbursed balance still held for the project.
func (e *Engine) RemainingEscrow(id uint64) (*big.Int, error) {
	if _, err := e.entry(id); err != nil {
		return nil, err
	}
	return e.ledger.Remaining(id), nil
}

// OverdueProjects returns copies of active projects whose deadline has
// passed. Deadlines are informational; nothing transitions automatically.
func (e *Engine) OverdueProjects(now int64) []*Project {
	e.mu.RLock()
	entries := make([]*projectEntry, 0, len(e.projects))
	for _, entry := range e.projects {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	var overdue []*Project
	for _, entry := range entries {
		entry.mu.Lock()
		p := entry.project
		if p != nil && !p.Status.Terminal() && p.Deadline > 0 && p.Deadline < now {
			overdue = append(overdue, p.Clone())
		}
		entry.mu.Unlock()
	}
	sort.Slice(overdue, func(i, j int) bool { return overdue[i].ID < overdue[j].ID })
	return overdue
}

// Snapshot captures one project plus its remaining balance for persistence.
func (e *Engine) Snapshot(id uint64) (*Snapshot, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return &Snapshot{
		Project:   entry.project.Clone(),
		Remaining: e.ledger.Remaining(id),
	}, nil
}

// Restore loads persisted snapshots into a fresh engine. Meant for process
// start, before the engine serves traffic; it does not emit events.
func (e *Engine) Restore(snapshots []*Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, snap := range snapshots {
		if snap == nil || snap.Project == nil || snap.Project.ID == 0 {
			return errInput("snapshot missing project")
		}
		id := snap.Project.ID
		if _, ok := e.projects[id]; ok {
			return errState("project %d restored twice", id)
		}
		e.projects[id] = &projectEntry{project: snap.Project.Clone()}
		e.ledger.restore(id, snap.Remaining)
		if id >= e.nextID {
			e.nextID = id + 1
		}
	}
	return nil
}

// feeFor computes the platform cut in basis points, truncating toward zero.
func feeFor(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return fee.Div(fee, big.NewInt(10_000))
}
