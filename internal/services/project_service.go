package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/fairlance/backend/internal/config"
	"github.com/fairlance/backend/internal/deliverable"
	"github.com/fairlance/backend/internal/escrow"
	"github.com/fairlance/backend/internal/events"
	"github.com/fairlance/backend/internal/metrics"
	"github.com/fairlance/backend/internal/models"
	"github.com/fairlance/backend/internal/rail"
	"github.com/fairlance/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProjectService drives the escrow engine and handles everything around it:
// persistence, audit, payout queueing and event fan-out. The engine stays
// pure; all IO lives here.
type ProjectService struct {
	engine      *escrow.Engine
	projectRepo *repositories.ProjectRepo
	userRepo    *repositories.UserRepo
	payoutRepo  *repositories.PayoutRepo
	auditRepo   *repositories.AuditRepo
	intents     *IntentStore
	probe       *deliverable.Probe
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewProjectService(
	engine *escrow.Engine,
	projectRepo *repositories.ProjectRepo,
	userRepo *repositories.UserRepo,
	payoutRepo *repositories.PayoutRepo,
	auditRepo *repositories.AuditRepo,
	intents *IntentStore,
	probe *deliverable.Probe,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *ProjectService {
	s := &ProjectService{
		engine:      engine,
		projectRepo: projectRepo,
		userRepo:    userRepo,
		payoutRepo:  payoutRepo,
		auditRepo:   auditRepo,
		intents:     intents,
		probe:       probe,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
	engine.SetEmitter(newEngineBridge(publisher, log))
	return s
}

// Restore seeds the engine from persisted snapshots. Must run before the
// service accepts traffic.
func (s *ProjectService) Restore(ctx context.Context) error {
	snaps, err := s.projectRepo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	if err := s.engine.Restore(snaps); err != nil {
		return fmt.Errorf("restore engine: %w", err)
	}
	s.log.Info("engine restored", zap.Int("projects", len(snaps)))
	return nil
}

// CreateProjectParams is the API-facing shape. Amounts are decimal token
// strings; the service converts to nano units.
type CreateProjectParams struct {
	FreelancerID uuid.UUID
	Title        string
	Description  string
	Deadline     int64
	Deposit      string
	Milestones   []MilestoneParams
}

type MilestoneParams struct {
	Description string
	Amount      string
	DueDate     int64
}

func (s *ProjectService) buildInput(clientID uuid.UUID, params CreateProjectParams) (escrow.CreateProjectInput, error) {
	deposit, err := rail.ParseAmount(params.Deposit)
	if err != nil {
		return escrow.CreateProjectInput{}, fmt.Errorf("%w: deposit: %v", escrow.ErrInvalidInput, err)
	}
	in := escrow.CreateProjectInput{
		Client:      clientID,
		Freelancer:  params.FreelancerID,
		Title:       params.Title,
		Description: params.Description,
		Deadline:    params.Deadline,
		Deposit:     deposit,
	}
	for i, m := range params.Milestones {
		amount, err := rail.ParseAmount(m.Amount)
		if err != nil {
			return escrow.CreateProjectInput{}, fmt.Errorf("%w: milestone %d amount: %v", escrow.ErrInvalidInput, i, err)
		}
		in.Milestones = append(in.Milestones, escrow.MilestoneSpec{
			Description: m.Description,
			Amount:      amount,
			DueDate:     m.DueDate,
		})
	}
	return in, nil
}

// CreateIntent parks the project terms and hands back the deposit address
// and memo the client must use. No project exists until the deposit lands.
func (s *ProjectService) CreateIntent(ctx context.Context, clientID uuid.UUID, params CreateProjectParams) (*models.FundingIntent, error) {
	// Validate terms up front so the client cannot fund a doomed intent.
	in, err := s.buildInput(clientID, params)
	if err != nil {
		return nil, err
	}
	if _, err := s.userRepo.GetByID(ctx, params.FreelancerID); err != nil {
		return nil, fmt.Errorf("%w: freelancer not found", escrow.ErrInvalidInput)
	}
	sum := new(big.Int)
	for _, m := range in.Milestones {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		sum.Add(sum, m.Amount)
	}
	if sum.Cmp(in.Deposit) != 0 {
		return nil, escrow.ErrInvalidSchedule
	}
	if in.Deadline <= time.Now().Unix() {
		return nil, escrow.ErrInvalidDeadline
	}

	intent := &models.FundingIntent{
		Memo:           NewMemo(),
		ClientID:       clientID,
		FreelancerID:   params.FreelancerID,
		Title:          params.Title,
		Description:    params.Description,
		Deadline:       params.Deadline,
		DepositNano:    in.Deposit.String(),
		DepositAddress: s.cfg.TONHotWalletAddress,
		CreatedAt:      time.Now(),
	}
	for _, m := range in.Milestones {
		intent.Milestones = append(intent.Milestones, models.IntentMilestone{
			Description: m.Description,
			AmountNano:  m.Amount.String(),
			DueDate:     m.DueDate,
		})
	}
	if err := s.intents.Save(ctx, intent); err != nil {
		return nil, err
	}

	s.audit(ctx, &clientID, "user", "funding_intent_created", intent.Memo, map[string]any{
		"deposit_nano": intent.DepositNano,
		"freelancer":   params.FreelancerID.String(),
	})
	return intent, nil
}

// ConfirmDeposit matches an observed transfer against its intent and creates
// the project, funded, in one step. Unmatched transfers are logged and
// dropped; underpayments leave the intent alive in case the remainder is in
// flight as a second transfer (it will then still not match and be refunded
// manually).
func (s *ProjectService) ConfirmDeposit(ctx context.Context, dep events.Deposit) error {
	intent, err := s.intents.Get(ctx, dep.Memo)
	if err != nil {
		return err
	}
	if intent == nil {
		metrics.DepositsProcessed.WithLabelValues("unmatched").Inc()
		s.log.Warn("deposit without intent", zap.String("memo", dep.Memo), zap.String("amount", dep.AmountNano))
		return nil
	}

	expected, ok := new(big.Int).SetString(intent.DepositNano, 10)
	if !ok {
		return fmt.Errorf("malformed intent deposit %q", intent.DepositNano)
	}
	received, ok := new(big.Int).SetString(dep.AmountNano, 10)
	if !ok {
		return fmt.Errorf("malformed deposit amount %q", dep.AmountNano)
	}
	if received.Cmp(expected) < 0 {
		metrics.DepositsProcessed.WithLabelValues("mismatched").Inc()
		s.log.Warn("deposit below expected amount",
			zap.String("memo", dep.Memo),
			zap.String("received", dep.AmountNano),
			zap.String("expected", intent.DepositNano),
		)
		return nil
	}

	in := escrow.CreateProjectInput{
		Client:      intent.ClientID,
		Freelancer:  intent.FreelancerID,
		Title:       intent.Title,
		Description: intent.Description,
		Deadline:    intent.Deadline,
		Deposit:     expected,
	}
	for _, m := range intent.Milestones {
		amount, ok := new(big.Int).SetString(m.AmountNano, 10)
		if !ok {
			return fmt.Errorf("malformed intent milestone amount %q", m.AmountNano)
		}
		in.Milestones = append(in.Milestones, escrow.MilestoneSpec{
			Description: m.Description,
			Amount:      amount,
			DueDate:     m.DueDate,
		})
	}

	project, err := s.engine.CreateProject(in)
	metrics.RecordOperation("create_project", err)
	if err != nil {
		// Funds arrived but the terms no longer hold (typically an expired
		// deadline). Queue the money straight back to the sender.
		metrics.DepositsProcessed.WithLabelValues("mismatched").Inc()
		s.log.Error("deposit received but project creation failed",
			zap.String("memo", dep.Memo), zap.Error(err))
		sender := dep.Sender
		_ = s.payoutRepo.Create(ctx, &models.Payout{
			Kind:        models.PayoutKindRefund,
			RecipientID: intent.ClientID,
			Address:     &sender,
			AmountNano:  dep.AmountNano,
			Status:      models.PayoutStatusPending,
		})
		_ = s.intents.Delete(ctx, dep.Memo)
		return nil
	}

	metrics.DepositsProcessed.WithLabelValues("matched").Inc()
	s.persist(ctx, project.ID)
	_ = s.intents.Delete(ctx, dep.Memo)

	s.audit(ctx, &intent.ClientID, "system", "project_funded", projectEntityID(project.ID), map[string]any{
		"memo":    dep.Memo,
		"tx_hash": dep.TxHash,
		"amount":  dep.AmountNano,
		"sender":  dep.Sender,
	})
	_ = s.publisher.Publish(ctx, events.StreamProject, events.Event{
		Type: events.EventPaymentReceived,
		Payload: map[string]any{
			"project_id":  project.ID,
			"amount_nano": dep.AmountNano,
			"from":        dep.Sender,
			"memo":        dep.Memo,
		},
	})
	return nil
}

// CreateProject creates and funds a project directly from a declared
// deposit. Used when the payment rail is disabled and value is tracked
// off-platform.
func (s *ProjectService) CreateProject(ctx context.Context, clientID uuid.UUID, params CreateProjectParams) (*escrow.Project, error) {
	in, err := s.buildInput(clientID, params)
	if err != nil {
		return nil, err
	}
	if _, err := s.userRepo.GetByID(ctx, params.FreelancerID); err != nil {
		return nil, fmt.Errorf("%w: freelancer not found", escrow.ErrInvalidInput)
	}

	project, err := s.engine.CreateProject(in)
	metrics.RecordOperation("create_project", err)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, project.ID)
	s.audit(ctx, &clientID, "user", "project_created", projectEntityID(project.ID), map[string]any{
		"deposit_nano": in.Deposit.String(),
		"milestones":   len(in.Milestones),
	})
	return project, nil
}

func (s *ProjectService) StartProject(ctx context.Context, projectID uint64, actorID uuid.UUID) (*escrow.Project, error) {
	project, err := s.engine.StartProject(projectID, actorID)
	metrics.RecordOperation("start_project", err)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, projectID)
	s.audit(ctx, &actorID, "user", "project_started", projectEntityID(projectID), nil)
	return project, nil
}

func (s *ProjectService) SubmitMilestone(ctx context.Context, projectID uint64, index int, actorID uuid.UUID, hash, url string) (*escrow.Project, error) {
	project, err := s.engine.SubmitMilestone(projectID, index, actorID, hash, url)
	metrics.RecordOperation("submit_milestone", err)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, projectID)
	s.audit(ctx, &actorID, "user", "milestone_submitted", projectEntityID(projectID), map[string]any{
		"index": index,
		"hash":  hash,
		"url":   url,
	})

	if url != "" && s.probe != nil {
		go s.probeDeliverable(projectID, index, url)
	}
	return project, nil
}

// probeDeliverable snapshots the deliverable URL in the background and files
// the result in the audit log for the reviewing client.
func (s *ProjectService) probeDeliverable(projectID uint64, index int, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := s.probe.Fetch(ctx, url)
	if err != nil {
		s.log.Debug("deliverable probe rejected url", zap.String("url", url), zap.Error(err))
		return
	}
	s.audit(ctx, nil, "system", "deliverable_probed", projectEntityID(projectID), map[string]any{
		"index":     index,
		"url":       snap.URL,
		"reachable": snap.Reachable,
		"title":     snap.Title,
	})
}

func (s *ProjectService) ApproveMilestone(ctx context.Context, projectID uint64, index int, actorID uuid.UUID) (*escrow.Project, error) {
	project, disb, err := s.engine.ApproveMilestone(projectID, index, actorID)
	metrics.RecordOperation("approve_milestone", err)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, projectID)

	idx := index
	if err := s.payoutRepo.Create(ctx, &models.Payout{
		ProjectID:      projectID,
		MilestoneIndex: &idx,
		Kind:           models.PayoutKindMilestone,
		RecipientID:    disb.Recipient,
		AmountNano:     disb.Payout.String(),
		Status:         models.PayoutStatusPending,
	}); err != nil {
		s.log.Error("failed to queue milestone payout", zap.Uint64("project_id", projectID), zap.Error(err))
	}
	if disb.Fee.Sign() > 0 && s.cfg.TreasuryAddress != "" {
		treasury := s.cfg.TreasuryAddress
		if err := s.payoutRepo.Create(ctx, &models.Payout{
			ProjectID:      projectID,
			MilestoneIndex: &idx,
			Kind:           models.PayoutKindFee,
			RecipientID:    disb.Recipient,
			Address:        &treasury,
			AmountNano:     disb.Fee.String(),
			Status:         models.PayoutStatusPending,
		}); err != nil {
			s.log.Error("failed to queue fee payout", zap.Uint64("project_id", projectID), zap.Error(err))
		}
	}

	s.audit(ctx, &actorID, "user", "milestone_approved", projectEntityID(projectID), map[string]any{
		"index":       index,
		"payout_nano": disb.Payout.String(),
		"fee_nano":    disb.Fee.String(),
	})
	return project, nil
}

func (s *ProjectService) RejectMilestone(ctx context.Context, projectID uint64, index int, actorID uuid.UUID) (*escrow.Project, error) {
	project, err := s.engine.RejectMilestone(projectID, index, actorID)
	metrics.RecordOperation("reject_milestone", err)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, projectID)
	s.audit(ctx, &actorID, "user", "milestone_rejected", projectEntityID(projectID), map[string]any{"index": index})
	return project, nil
}

func (s *ProjectService) CancelProject(ctx context.Context, projectID uint64, actorID uuid.UUID) (*escrow.Project, error) {
	project, refund, err := s.engine.CancelProject(projectID, actorID)
	metrics.RecordOperation("cancel_project", err)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, projectID)
	s.queueRefund(ctx, refund)
	s.audit(ctx, &actorID, "user", "project_cancelled", projectEntityID(projectID), map[string]any{
		"refund_nano": refund.Amount.String(),
	})
	return project, nil
}

func (s *ProjectService) RaiseDispute(ctx context.Context, projectID uint64, actorID uuid.UUID) (*escrow.Project, error) {
	project, err := s.engine.RaiseDispute(projectID, actorID)
	metrics.RecordOperation("raise_dispute", err)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, projectID)
	s.audit(ctx, &actorID, "user", "dispute_raised", projectEntityID(projectID), nil)
	return project, nil
}

func (s *ProjectService) ResolveDispute(ctx context.Context, projectID uint64, actorID uuid.UUID, outcome string) (*escrow.Project, error) {
	project, refund, err := s.engine.ResolveDispute(projectID, actorID, outcome)
	metrics.RecordOperation("resolve_dispute", err)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, projectID)
	s.queueRefund(ctx, refund)
	s.audit(ctx, &actorID, "arbiter", "dispute_resolved", projectEntityID(projectID), map[string]any{"outcome": outcome})
	return project, nil
}

func (s *ProjectService) queueRefund(ctx context.Context, refund *escrow.Refund) {
	if refund == nil || refund.Amount.Sign() == 0 {
		return
	}
	if err := s.payoutRepo.Create(ctx, &models.Payout{
		ProjectID:   refund.ProjectID,
		Kind:        models.PayoutKindRefund,
		RecipientID: refund.Recipient,
		AmountNano:  refund.Amount.String(),
		Status:      models.PayoutStatusPending,
	}); err != nil {
		s.log.Error("failed to queue refund", zap.Uint64("project_id", refund.ProjectID), zap.Error(err))
	}
}

func (s *ProjectService) GetProject(projectID uint64) (*escrow.Project, error) {
	return s.engine.GetProject(projectID)
}

func (s *ProjectService) GetMilestone(projectID uint64, index int) (*escrow.Milestone, error) {
	return s.engine.GetMilestone(projectID, index)
}

func (s *ProjectService) RemainingEscrow(projectID uint64) (*big.Int, error) {
	return s.engine.RemainingEscrow(projectID)
}

func (s *ProjectService) ListProjects(ctx context.Context, filter repositories.ProjectFilter) ([]repositories.ProjectRow, error) {
	return s.projectRepo.List(ctx, filter)
}

func (s *ProjectService) ProjectHistory(ctx context.Context, projectID uint64, limit, offset int) ([]models.AuditLog, error) {
	return s.auditRepo.GetByEntity(ctx, "project", projectEntityID(projectID), limit, offset)
}

func (s *ProjectService) ProjectPayouts(ctx context.Context, projectID uint64) ([]models.Payout, error) {
	return s.payoutRepo.ListByProject(ctx, projectID)
}

// persist mirrors the committed engine state to postgres. The engine remains
// authoritative while the process lives, so a failed save is logged, not
// propagated; the next successful save for the project heals the mirror.
func (s *ProjectService) persist(ctx context.Context, projectID uint64) {
	snap, err := s.engine.Snapshot(projectID)
	if err != nil {
		s.log.Error("snapshot failed", zap.Uint64("project_id", projectID), zap.Error(err))
		return
	}
	if err := s.projectRepo.Save(ctx, snap); err != nil {
		s.log.Error("persist failed", zap.Uint64("project_id", projectID), zap.Error(err))
	}
}

func (s *ProjectService) audit(ctx context.Context, actorID *uuid.UUID, actorType, action, entityID string, meta map[string]any) {
	id := entityID
	if err := s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      action,
		EntityType:  "project",
		EntityID:    &id,
		Meta:        meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func projectEntityID(projectID uint64) string {
	return fmt.Sprintf("%d", projectID)
}

// engineBridge forwards engine events onto the redis stream without blocking
// the engine's per-project lock. The channel is buffered; if fan-out cannot
// keep up events are dropped, never the operation.
type engineBridge struct {
	ch  chan escrow.Event
	log *zap.Logger
}

func newEngineBridge(publisher events.Publisher, log *zap.Logger) *engineBridge {
	b := &engineBridge{ch: make(chan escrow.Event, 256), log: log}
	go func() {
		for evt := range b.ch {
			payload := make(map[string]any, len(evt.Attributes)+1)
			payload["event"] = evt.Type
			for k, v := range evt.Attributes {
				payload[k] = v
			}
			eventType := events.EventProjectStatusChanged
			switch evt.Type {
			case escrow.EventTypeMilestoneSubmitted, escrow.EventTypeMilestoneApproved, escrow.EventTypeMilestoneRejected:
				eventType = events.EventMilestoneUpdated
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := publisher.Publish(ctx, events.StreamProject, events.Event{Type: eventType, Payload: payload}); err != nil {
				log.Warn("event publish failed", zap.String("event", evt.Type), zap.Error(err))
			}
			cancel()
		}
	}()
	return b
}

func (b *engineBridge) Emit(evt escrow.Event) {
	select {
	case b.ch <- evt:
	default:
		b.log.Warn("event channel full, dropping", zap.String("event", evt.Type))
	}
}
