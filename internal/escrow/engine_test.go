package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/google/uuid"
)

var (
	testClient     = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testFreelancer = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	testArbiter    = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	testStranger   = uuid.MustParse("44444444-4444-4444-4444-444444444444")
)

const testNow = int64(1_700_000_000)

type collectEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (c *collectEmitter) Emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.Type
	}
	return out
}

func (c *collectEmitter) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func newTestEngine(cfg Config) (*Engine, *collectEmitter) {
	e := NewEngine(cfg)
	e.SetNowFunc(func() int64 { return testNow })
	emitter := &collectEmitter{}
	e.SetEmitter(emitter)
	return e, emitter
}

// nano converts whole tokens to nano units.
func nano(tokens float64) *big.Int {
	return big.NewInt(int64(tokens * 1e9))
}

func testInput() CreateProjectInput {
	return CreateProjectInput{
		Client:     testClient,
		Freelancer: testFreelancer,
		Title:      "landing page",
		Deadline:   testNow + 86400,
		Deposit:    nano(3),
		Milestones: []MilestoneSpec{
			{Description: "wireframes", Amount: nano(1), DueDate: testNow + 10000},
			{Description: "implementation", Amount: nano(1.5), DueDate: testNow + 40000},
			{Description: "deployment", Amount: nano(0.5), DueDate: testNow + 80000},
		},
	}
}

func mustCreate(t *testing.T, e *Engine) *Project {
	t.Helper()
	p, err := e.CreateProject(testInput())
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func mustStart(t *testing.T, e *Engine, id uint64) {
	t.Helper()
	if _, err := e.StartProject(id, testFreelancer); err != nil {
		t.Fatalf("StartProject: %v", err)
	}
}

func TestCreateProject(t *testing.T) {
	e, emitter := newTestEngine(Config{})
	p := mustCreate(t, e)

	if p.ID != 1 {
		t.Errorf("id = %d, want 1", p.ID)
	}
	if p.Status != ProjectStatusFunded {
		t.Errorf("status = %s, want funded", p.Status)
	}
	if !p.FundsDeposited {
		t.Error("FundsDeposited should be true")
	}
	if p.TotalAmount.Cmp(nano(3)) != 0 {
		t.Errorf("total = %s, want %s", p.TotalAmount, nano(3))
	}
	if len(p.Milestones) != 3 {
		t.Fatalf("milestones = %d, want 3", len(p.Milestones))
	}
	for i, m := range p.Milestones {
		if m.Status != MilestoneStatusPending {
			t.Errorf("milestone %d status = %s, want pending", i, m.Status)
		}
	}

	remaining, err := e.RemainingEscrow(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if remaining.Cmp(nano(3)) != 0 {
		t.Errorf("escrow = %s, want %s", remaining, nano(3))
	}

	got := emitter.types()
	want := []string{EventTypeProjectCreated, EventTypeFundsDeposited}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateProjectInput)
		wantErr error
	}{
		{
			name:    "same party",
			mutate:  func(in *CreateProjectInput) { in.Freelancer = in.Client },
			wantErr: ErrInvalidParty,
		},
		{
			name:    "missing freelancer",
			mutate:  func(in *CreateProjectInput) { in.Freelancer = uuid.Nil },
			wantErr: ErrInvalidInput,
		},
		{
			name:    "empty title",
			mutate:  func(in *CreateProjectInput) { in.Title = "  " },
			wantErr: ErrInvalidInput,
		},
		{
			name:    "deadline in the past",
			mutate:  func(in *CreateProjectInput) { in.Deadline = testNow - 1 },
			wantErr: ErrInvalidDeadline,
		},
		{
			name:    "deadline exactly now",
			mutate:  func(in *CreateProjectInput) { in.Deadline = testNow },
			wantErr: ErrInvalidDeadline,
		},
		{
			name:    "zero deposit",
			mutate:  func(in *CreateProjectInput) { in.Deposit = big.NewInt(0) },
			wantErr: ErrInvalidInput,
		},
		{
			name:    "no milestones",
			mutate:  func(in *CreateProjectInput) { in.Milestones = nil },
			wantErr: ErrInvalidInput,
		},
		{
			name:    "milestone amounts under deposit",
			mutate:  func(in *CreateProjectInput) { in.Milestones[2].Amount = nano(0.4) },
			wantErr: ErrInvalidSchedule,
		},
		{
			name:    "milestone amounts over deposit",
			mutate:  func(in *CreateProjectInput) { in.Milestones[0].Amount = nano(2) },
			wantErr: ErrInvalidSchedule,
		},
		{
			name:    "zero milestone amount",
			mutate:  func(in *CreateProjectInput) { in.Milestones[1].Amount = big.NewInt(0) },
			wantErr: ErrInvalidInput,
		},
		{
			name:    "blank milestone description",
			mutate:  func(in *CreateProjectInput) { in.Milestones[0].Description = "" },
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, emitter := newTestEngine(Config{})
			in := testInput()
			tt.mutate(&in)

			if _, err := e.CreateProject(in); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			// All or nothing: no project record, no escrow, no events.
			if _, err := e.GetProject(1); !errors.Is(err, ErrProjectNotFound) {
				t.Errorf("failed create must not leave a project record, got %v", err)
			}
			if len(emitter.types()) != 0 {
				t.Errorf("failed create must not emit, got %v", emitter.types())
			}
		})
	}
}

func TestStartProject(t *testing.T) {
	e, emitter := newTestEngine(Config{})
	p := mustCreate(t, e)
	emitter.reset()

	if _, err := e.StartProject(p.ID, testClient); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("client start should be unauthorized, got %v", err)
	}
	if _, err := e.StartProject(p.ID, testStranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger start should be unauthorized, got %v", err)
	}
	if _, err := e.StartProject(99, testFreelancer); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("unknown project, got %v", err)
	}

	started, err := e.StartProject(p.ID, testFreelancer)
	if err != nil {
		t.Fatalf("StartProject: %v", err)
	}
	if started.Status != ProjectStatusInProgress {
		t.Errorf("status = %s, want in_progress", started.Status)
	}

	if _, err := e.StartProject(p.ID, testFreelancer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double start should be invalid state, got %v", err)
	}

	got := emitter.types()
	if len(got) != 1 || got[0] != EventTypeProjectStarted {
		t.Errorf("events = %v, want [%s]", got, EventTypeProjectStarted)
	}
}

func TestSubmitMilestone(t *testing.T) {
	e, emitter := newTestEngine(Config{})
	p := mustCreate(t, e)

	// Submission requires an accepted, running project.
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "abc123", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("submit before start should be invalid state, got %v", err)
	}

	mustStart(t, e, p.ID)
	emitter.reset()

	if _, err := e.SubmitMilestone(p.ID, 0, testClient, "abc123", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("client submit should be unauthorized, got %v", err)
	}
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "  ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank hash should be invalid input, got %v", err)
	}
	if _, err := e.SubmitMilestone(p.ID, 3, testFreelancer, "abc123", ""); !errors.Is(err, ErrMilestoneNotFound) {
		t.Fatalf("out of range index, got %v", err)
	}
	if _, err := e.SubmitMilestone(p.ID, -1, testFreelancer, "abc123", ""); !errors.Is(err, ErrMilestoneNotFound) {
		t.Fatalf("negative index, got %v", err)
	}

	updated, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "abc123", "https://example.com/deliverable")
	if err != nil {
		t.Fatalf("SubmitMilestone: %v", err)
	}
	m := updated.Milestones[0]
	if m.Status != MilestoneStatusSubmitted {
		t.Errorf("status = %s, want submitted", m.Status)
	}
	if m.DeliverableHash != "abc123" || m.SubmittedAt != testNow {
		t.Errorf("deliverable not recorded: %+v", m)
	}

	// Already submitted.
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "abc456", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double submit should be invalid state, got %v", err)
	}

	got := emitter.types()
	if len(got) != 1 || got[0] != EventTypeMilestoneSubmitted {
		t.Errorf("events = %v, want [%s]", got, EventTypeMilestoneSubmitted)
	}
}

// Full lifecycle over the 1.0 / 1.5 / 0.5 schedule: every approval releases
// exactly the milestone amount, escrow plus disbursed always equals the
// deposit, and the project completes on the last approval.
func TestApproveMilestoneLifecycle(t *testing.T) {
	e, emitter := newTestEngine(Config{})
	p := mustCreate(t, e)
	mustStart(t, e, p.ID)

	amounts := []*big.Int{nano(1), nano(1.5), nano(0.5)}
	disbursed := new(big.Int)

	for i, amount := range amounts {
		if _, err := e.SubmitMilestone(p.ID, i, testFreelancer, fmt.Sprintf("hash-%d", i), ""); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}

		// Approval of an unsubmitted milestone must fail.
		if i+1 < len(amounts) {
			if _, _, err := e.ApproveMilestone(p.ID, i+1, testClient); !errors.Is(err, ErrInvalidState) {
				t.Fatalf("approving pending milestone %d should fail, got %v", i+1, err)
			}
		}

		updated, disb, err := e.ApproveMilestone(p.ID, i, testClient)
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
		if disb.Amount.Cmp(amount) != 0 {
			t.Errorf("milestone %d disbursed %s, want %s", i, disb.Amount, amount)
		}
		if disb.Fee.Sign() != 0 || disb.Payout.Cmp(amount) != 0 {
			t.Errorf("milestone %d with zero fee: payout %s fee %s", i, disb.Payout, disb.Fee)
		}
		if disb.Recipient != testFreelancer {
			t.Errorf("milestone %d recipient = %s", i, disb.Recipient)
		}

		disbursed.Add(disbursed, disb.Amount)
		remaining, err := e.RemainingEscrow(p.ID)
		if err != nil {
			t.Fatal(err)
		}
		total := new(big.Int).Add(remaining, disbursed)
		if total.Cmp(nano(3)) != 0 {
			t.Errorf("after milestone %d: remaining %s + disbursed %s != deposit", i, remaining, disbursed)
		}

		wantStatus := ProjectStatusInProgress
		if i == len(amounts)-1 {
			wantStatus = ProjectStatusCompleted
		}
		if updated.Status != wantStatus {
			t.Errorf("after milestone %d: status %s, want %s", i, updated.Status, wantStatus)
		}
	}

	remaining, err := e.RemainingEscrow(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if remaining.Sign() != 0 {
		t.Errorf("completed project should hold zero escrow, got %s", remaining)
	}

	got := emitter.types()
	want := []string{
		EventTypeProjectCreated, EventTypeFundsDeposited, EventTypeProjectStarted,
		EventTypeMilestoneSubmitted, EventTypeMilestoneApproved,
		EventTypeMilestoneSubmitted, EventTypeMilestoneApproved,
		EventTypeMilestoneSubmitted, EventTypeMilestoneApproved, EventTypeProjectCompleted,
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestApproveMilestoneAuthorization(t *testing.T) {
	e, _ := newTestEngine(Config{})
	p := mustCreate(t, e)
	mustStart(t, e, p.ID)
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "abc", ""); err != nil {
		t.Fatal(err)
	}

	if _, _, err := e.ApproveMilestone(p.ID, 0, testFreelancer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("freelancer approve should be unauthorized, got %v", err)
	}
	if _, _, err := e.ApproveMilestone(p.ID, 0, testStranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger approve should be unauthorized, got %v", err)
	}
	if _, _, err := e.ApproveMilestone(p.ID, 5, testClient); !errors.Is(err, ErrMilestoneNotFound) {
		t.Fatalf("out of range approve, got %v", err)
	}
}

func TestApproveMilestoneFee(t *testing.T) {
	e, _ := newTestEngine(Config{PlatformFeeBps: 250})
	p := mustCreate(t, e)
	mustStart(t, e, p.ID)
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "abc", ""); err != nil {
		t.Fatal(err)
	}

	_, disb, err := e.ApproveMilestone(p.ID, 0, testClient)
	if err != nil {
		t.Fatal(err)
	}
	// 2.5% of 1 token.
	if disb.Fee.Int64() != 25_000_000 {
		t.Errorf("fee = %s, want 25000000", disb.Fee)
	}
	if disb.Payout.Int64() != 975_000_000 {
		t.Errorf("payout = %s, want 975000000", disb.Payout)
	}
	if new(big.Int).Add(disb.Payout, disb.Fee).Cmp(disb.Amount) != 0 {
		t.Error("payout + fee must equal the milestone amount")
	}
	// The full milestone amount leaves escrow; the fee split happens at
	// payout time.
	remaining, err := e.RemainingEscrow(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if remaining.Cmp(nano(2)) != 0 {
		t.Errorf("remaining = %s, want %s", remaining, nano(2))
	}
}

func TestRejectAndResubmit(t *testing.T) {
	e, emitter := newTestEngine(Config{AllowResubmission: true})
	p := mustCreate(t, e)
	mustStart(t, e, p.ID)
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "v1", ""); err != nil {
		t.Fatal(err)
	}
	emitter.reset()

	if _, err := e.RejectMilestone(p.ID, 0, testFreelancer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("freelancer reject should be unauthorized, got %v", err)
	}

	updated, err := e.RejectMilestone(p.ID, 0, testClient)
	if err != nil {
		t.Fatalf("RejectMilestone: %v", err)
	}
	if updated.Milestones[0].Status != MilestoneStatusRejected {
		t.Errorf("status = %s, want rejected", updated.Milestones[0].Status)
	}
	// Rejection moves no funds.
	remaining, err := e.RemainingEscrow(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if remaining.Cmp(nano(3)) != 0 {
		t.Errorf("remaining = %s, want full deposit", remaining)
	}

	if _, err := e.RejectMilestone(p.ID, 0, testClient); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double reject should be invalid state, got %v", err)
	}

	// Resubmission replaces the deliverable.
	updated, err = e.SubmitMilestone(p.ID, 0, testFreelancer, "v2", "")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if updated.Milestones[0].DeliverableHash != "v2" {
		t.Errorf("hash = %s, want v2", updated.Milestones[0].DeliverableHash)
	}
	if _, _, err := e.ApproveMilestone(p.ID, 0, testClient); err != nil {
		t.Fatalf("approve after resubmit: %v", err)
	}

	got := emitter.types()
	want := []string{EventTypeMilestoneRejected, EventTypeMilestoneSubmitted, EventTypeMilestoneApproved}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestResubmissionDisabled(t *testing.T) {
	e, _ := newTestEngine(Config{AllowResubmission: false})
	p := mustCreate(t, e)
	mustStart(t, e, p.ID)
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "v1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RejectMilestone(p.ID, 0, testClient); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "v2", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("resubmit should be invalid state when disabled, got %v", err)
	}
}

func TestCancelProject(t *testing.T) {
	e, emitter := newTestEngine(Config{})
	p := mustCreate(t, e)
	emitter.reset()

	if _, _, err := e.CancelProject(p.ID, testFreelancer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("freelancer cancel should be unauthorized, got %v", err)
	}

	cancelled, refund, err := e.CancelProject(p.ID, testClient)
	if err != nil {
		t.Fatalf("CancelProject: %v", err)
	}
	if cancelled.Status != ProjectStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if refund.Amount.Cmp(nano(3)) != 0 {
		t.Errorf("refund = %s, want full deposit", refund.Amount)
	}
	if refund.Recipient != testClient {
		t.Errorf("refund recipient = %s, want client", refund.Recipient)
	}
	remaining, err := e.RemainingEscrow(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if remaining.Sign() != 0 {
		t.Errorf("remaining after cancel = %s, want 0", remaining)
	}

	if _, _, err := e.CancelProject(p.ID, testClient); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double cancel should be invalid state, got %v", err)
	}

	got := emitter.types()
	if len(got) != 1 || got[0] != EventTypeProjectCancelled {
		t.Errorf("events = %v, want [%s]", got, EventTypeProjectCancelled)
	}
}

func TestCancelAfterApprovalBlocked(t *testing.T) {
	e, _ := newTestEngine(Config{})
	p := mustCreate(t, e)
	mustStart(t, e, p.ID)
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "abc", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.ApproveMilestone(p.ID, 0, testClient); err != nil {
		t.Fatal(err)
	}

	if _, _, err := e.CancelProject(p.ID, testClient); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cancel after approval should be invalid state, got %v", err)
	}
	// Escrow untouched by the failed cancel.
	remaining, err := e.RemainingEscrow(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if remaining.Cmp(nano(2)) != 0 {
		t.Errorf("remaining = %s, want %s", remaining, nano(2))
	}
}

func TestDisputeFlow(t *testing.T) {
	e, emitter := newTestEngine(Config{Arbiter: testArbiter})
	p := mustCreate(t, e)
	mustStart(t, e, p.ID)
	emitter.reset()

	if _, err := e.RaiseDispute(p.ID, testStranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger dispute should be unauthorized, got %v", err)
	}

	disputed, err := e.RaiseDispute(p.ID, testFreelancer)
	if err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}
	if disputed.Status != ProjectStatusDisputed {
		t.Errorf("status = %s, want disputed", disputed.Status)
	}

	// Everything freezes until the arbiter rules.
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "abc", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("submit while disputed, got %v", err)
	}
	if _, _, err := e.CancelProject(p.ID, testClient); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("client cancel while disputed, got %v", err)
	}
	if _, err := e.RaiseDispute(p.ID, testClient); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double dispute, got %v", err)
	}

	if _, _, err := e.ResolveDispute(p.ID, testClient, ResolutionResume); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-arbiter resolve should be unauthorized, got %v", err)
	}
	if _, _, err := e.ResolveDispute(p.ID, testArbiter, "split"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown outcome, got %v", err)
	}

	resumed, refund, err := e.ResolveDispute(p.ID, testArbiter, ResolutionResume)
	if err != nil {
		t.Fatalf("resolve resume: %v", err)
	}
	if resumed.Status != ProjectStatusInProgress || refund != nil {
		t.Errorf("resume: status %s refund %v", resumed.Status, refund)
	}

	// Second round, resolved by cancellation this time.
	if _, err := e.RaiseDispute(p.ID, testClient); err != nil {
		t.Fatal(err)
	}
	cancelled, refund, err := e.ResolveDispute(p.ID, testArbiter, ResolutionCancel)
	if err != nil {
		t.Fatalf("resolve cancel: %v", err)
	}
	if cancelled.Status != ProjectStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if refund == nil || refund.Amount.Cmp(nano(3)) != 0 {
		t.Errorf("refund = %v, want full deposit", refund)
	}

	got := emitter.types()
	want := []string{
		EventTypeDisputeRaised, EventTypeDisputeResolved,
		EventTypeDisputeRaised, EventTypeDisputeResolved, EventTypeProjectCancelled,
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestDisputeDisabledWithoutArbiter(t *testing.T) {
	e, _ := newTestEngine(Config{})
	p := mustCreate(t, e)
	if _, err := e.RaiseDispute(p.ID, testClient); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.ResolveDispute(p.ID, uuid.Nil, ResolutionResume); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("zero arbiter must never match, got %v", err)
	}
}

func TestGetters(t *testing.T) {
	e, _ := newTestEngine(Config{})
	p := mustCreate(t, e)

	count, err := e.MilestoneCount(p.ID)
	if err != nil || count != 3 {
		t.Fatalf("MilestoneCount = %d, %v", count, err)
	}
	m, err := e.GetMilestone(p.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if m.Description != "implementation" || m.Amount.Cmp(nano(1.5)) != 0 {
		t.Errorf("milestone = %+v", m)
	}
	if _, err := e.GetMilestone(p.ID, 9); !errors.Is(err, ErrMilestoneNotFound) {
		t.Fatalf("out of range milestone, got %v", err)
	}
	if _, err := e.GetProject(42); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("unknown project, got %v", err)
	}
	if _, err := e.RemainingEscrow(42); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("unknown project escrow, got %v", err)
	}

	// Getter results are copies.
	got, err := e.GetProject(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Milestones[0].Status = MilestoneStatusApproved
	again, err := e.GetProject(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Milestones[0].Status != MilestoneStatusPending {
		t.Error("getter must return a copy, internal state was mutated")
	}
}

func TestOverdueProjects(t *testing.T) {
	e, _ := newTestEngine(Config{})
	first := mustCreate(t, e)

	in := testInput()
	in.Deadline = testNow + 500_000
	second, err := e.CreateProject(in)
	if err != nil {
		t.Fatal(err)
	}

	// Cancelled projects are never overdue.
	third := mustCreate(t, e)
	if _, _, err := e.CancelProject(third.ID, testClient); err != nil {
		t.Fatal(err)
	}

	overdue := e.OverdueProjects(testNow + 100_000)
	if len(overdue) != 1 || overdue[0].ID != first.ID {
		t.Fatalf("overdue = %v, want only project %d", overdue, first.ID)
	}

	overdue = e.OverdueProjects(testNow + 900_000)
	if len(overdue) != 2 || overdue[0].ID != first.ID || overdue[1].ID != second.ID {
		t.Fatalf("overdue = %v, want projects %d and %d in order", overdue, first.ID, second.ID)
	}
}

func TestSnapshotRestore(t *testing.T) {
	e, _ := newTestEngine(Config{})
	p := mustCreate(t, e)
	mustStart(t, e, p.ID)
	if _, err := e.SubmitMilestone(p.ID, 0, testFreelancer, "abc", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.ApproveMilestone(p.ID, 0, testClient); err != nil {
		t.Fatal(err)
	}

	snap, err := e.Snapshot(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Remaining.Cmp(nano(2)) != 0 {
		t.Fatalf("snapshot remaining = %s, want %s", snap.Remaining, nano(2))
	}

	restored, _ := newTestEngine(Config{})
	if err := restored.Restore([]*Snapshot{snap}); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := restored.GetProject(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ProjectStatusInProgress || got.Milestones[0].Status != MilestoneStatusApproved {
		t.Errorf("restored project = %+v", got)
	}
	remaining, err := restored.RemainingEscrow(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if remaining.Cmp(nano(2)) != 0 {
		t.Errorf("restored escrow = %s, want %s", remaining, nano(2))
	}

	// The restored engine picks up id assignment after the highest snapshot.
	next, err := restored.CreateProject(testInput())
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != p.ID+1 {
		t.Errorf("next id = %d, want %d", next.ID, p.ID+1)
	}

	if err := restored.Restore([]*Snapshot{snap}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("duplicate restore should fail, got %v", err)
	}
}

func TestConcurrentProjectsIndependent(t *testing.T) {
	e, _ := newTestEngine(Config{})

	const n = 16
	ids := make([]uint64, n)
	for i := range ids {
		p := mustCreate(t, e)
		ids[i] = p.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if _, err := e.StartProject(id, testFreelancer); err != nil {
				t.Errorf("start %d: %v", id, err)
				return
			}
			for i := 0; i < 3; i++ {
				if _, err := e.SubmitMilestone(id, i, testFreelancer, "hash", ""); err != nil {
					t.Errorf("submit %d/%d: %v", id, i, err)
					return
				}
				if _, _, err := e.ApproveMilestone(id, i, testClient); err != nil {
					t.Errorf("approve %d/%d: %v", id, i, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		p, err := e.GetProject(id)
		if err != nil {
			t.Fatal(err)
		}
		if p.Status != ProjectStatusCompleted {
			t.Errorf("project %d status = %s, want completed", id, p.Status)
		}
		remaining, err := e.RemainingEscrow(id)
		if err != nil {
			t.Fatal(err)
		}
		if remaining.Sign() != 0 {
			t.Errorf("project %d remaining = %s, want 0", id, remaining)
		}
	}
}
