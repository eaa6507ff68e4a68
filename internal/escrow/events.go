package escrow

import (
	"math/big"
	"strconv"
)

// Event types emitted by the engine, one per state transition. Emission is
// side-effect only and never gates protocol logic.
const (
	EventTypeProjectCreated     = "project.created"
	EventTypeFundsDeposited     = "escrow.funded"
	EventTypeProjectStarted     = "project.started"
	EventTypeMilestoneSubmitted = "milestone.submitted"
	EventTypeMilestoneApproved  = "milestone.approved"
	EventTypeMilestoneRejected  = "milestone.rejected"
	EventTypeProjectCancelled   = "project.cancelled"
	EventTypeProjectCompleted   = "project.completed"
	EventTypeDisputeRaised      = "project.disputed"
	EventTypeDisputeResolved    = "project.resolved"
)

// Event is the canonical notification payload. Attributes are flat strings so
// payloads stay deterministic and trivially serialisable.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter receives engine events. Implementations must not block for long;
// the engine calls Emit synchronously after committing a transition.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

func newProjectEvent(eventType string, p *Project) Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["project_id"] = strconv.FormatUint(p.ID, 10)
		attrs["client"] = p.Client.String()
		attrs["freelancer"] = p.Freelancer.String()
		attrs["status"] = string(p.Status)
		attrs["total_amount"] = amountString(p.TotalAmount)
	}
	return Event{Type: eventType, Attributes: attrs}
}

func newMilestoneEvent(eventType string, p *Project, index int) Event {
	evt := newProjectEvent(eventType, p)
	evt.Attributes["milestone_index"] = strconv.Itoa(index)
	if m := p.milestone(index); m != nil {
		evt.Attributes["milestone_status"] = string(m.Status)
		evt.Attributes["amount"] = amountString(m.Amount)
		if m.DeliverableHash != "" {
			evt.Attributes["deliverable_hash"] = m.DeliverableHash
		}
		if m.DeliverableURL != "" {
			evt.Attributes["deliverable_url"] = m.DeliverableURL
		}
	}
	return evt
}

// NewProjectCreatedEvent is emitted once per project, together with
// NewFundsDepositedEvent: creation and deposit are atomic.
func NewProjectCreatedEvent(p *Project) Event {
	evt := newProjectEvent(EventTypeProjectCreated, p)
	if p != nil {
		evt.Attributes["milestone_count"] = strconv.Itoa(len(p.Milestones))
		evt.Attributes["deadline"] = strconv.FormatInt(p.Deadline, 10)
	}
	return evt
}

func NewFundsDepositedEvent(p *Project) Event {
	return newProjectEvent(EventTypeFundsDeposited, p)
}

func NewProjectStartedEvent(p *Project) Event {
	return newProjectEvent(EventTypeProjectStarted, p)
}

func NewMilestoneSubmittedEvent(p *Project, index int) Event {
	return newMilestoneEvent(EventTypeMilestoneSubmitted, p, index)
}

// NewMilestoneApprovedEvent carries the disbursement breakdown so observers
// can track payouts without re-deriving fee math.
func NewMilestoneApprovedEvent(p *Project, index int, d *Disbursement) Event {
	evt := newMilestoneEvent(EventTypeMilestoneApproved, p, index)
	if d != nil {
		evt.Attributes["payout"] = amountString(d.Payout)
		evt.Attributes["fee"] = amountString(d.Fee)
		evt.Attributes["remaining"] = amountString(d.Remaining)
	}
	return evt
}

func NewMilestoneRejectedEvent(p *Project, index int) Event {
	return newMilestoneEvent(EventTypeMilestoneRejected, p, index)
}

func NewProjectCancelledEvent(p *Project, r *Refund) Event {
	evt := newProjectEvent(EventTypeProjectCancelled, p)
	if r != nil {
		evt.Attributes["refunded"] = amountString(r.Amount)
	}
	return evt
}

func NewProjectCompletedEvent(p *Project) Event {
	return newProjectEvent(EventTypeProjectCompleted, p)
}

func NewDisputeRaisedEvent(p *Project, raisedBy string) Event {
	evt := newProjectEvent(EventTypeDisputeRaised, p)
	evt.Attributes["raised_by"] = raisedBy
	return evt
}

func NewDisputeResolvedEvent(p *Project, outcome string) Event {
	evt := newProjectEvent(EventTypeDisputeResolved, p)
	evt.Attributes["outcome"] = outcome
	return evt
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
