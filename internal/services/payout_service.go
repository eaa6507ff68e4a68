package services

import (
	"context"
	"fmt"
	"math/big"

	"github.com/fairlance/backend/internal/config"
	"github.com/fairlance/backend/internal/events"
	"github.com/fairlance/backend/internal/metrics"
	"github.com/fairlance/backend/internal/models"
	"github.com/fairlance/backend/internal/rail"
	"github.com/fairlance/backend/internal/repositories"
	"go.uber.org/zap"
)

// PayoutService drains the payout queue through the payment rail. It runs in
// the worker; the API only ever enqueues.
type PayoutService struct {
	payoutRepo *repositories.PayoutRepo
	userRepo   *repositories.UserRepo
	r          rail.Rail
	publisher  events.Publisher
	cfg        *config.Config
	log        *zap.Logger
}

func NewPayoutService(
	payoutRepo *repositories.PayoutRepo,
	userRepo *repositories.UserRepo,
	r rail.Rail,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *PayoutService {
	return &PayoutService{
		payoutRepo: payoutRepo,
		userRepo:   userRepo,
		r:          r,
		publisher:  publisher,
		cfg:        cfg,
		log:        log,
	}
}

// ProcessPending attempts every deliverable pending payout once. Failures
// bump the attempt counter and surface on the next cycle.
func (s *PayoutService) ProcessPending(ctx context.Context) error {
	pending, err := s.payoutRepo.ListPending(ctx, s.cfg.PayoutMaxAttempts, 50)
	if err != nil {
		return fmt.Errorf("list pending payouts: %w", err)
	}

	for _, p := range pending {
		if err := s.processOne(ctx, p); err != nil {
			s.log.Warn("payout attempt failed",
				zap.String("payout_id", p.ID.String()),
				zap.String("kind", p.Kind),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *PayoutService) processOne(ctx context.Context, p models.Payout) error {
	dest, err := s.destination(ctx, p)
	if err != nil {
		metrics.PayoutsSent.WithLabelValues(p.Kind, "failed").Inc()
		if markErr := s.payoutRepo.MarkFailed(ctx, p.ID, s.cfg.PayoutMaxAttempts, err.Error()); markErr != nil {
			return markErr
		}
		return err
	}

	amount, ok := parseNanoAmount(p.AmountNano)
	if !ok {
		// A malformed row will never succeed; burn its attempts.
		err := fmt.Errorf("malformed amount %q", p.AmountNano)
		_ = s.payoutRepo.MarkFailed(ctx, p.ID, 0, err.Error())
		return err
	}

	comment := fmt.Sprintf("fairlance %s project %d", p.Kind, p.ProjectID)
	txRef, err := s.r.Send(ctx, dest, amount, comment)
	if err != nil {
		metrics.PayoutsSent.WithLabelValues(p.Kind, "failed").Inc()
		if markErr := s.payoutRepo.MarkFailed(ctx, p.ID, s.cfg.PayoutMaxAttempts, err.Error()); markErr != nil {
			return markErr
		}
		return err
	}

	if err := s.payoutRepo.MarkSent(ctx, p.ID, txRef); err != nil {
		return fmt.Errorf("transfer sent (%s) but mark failed: %w", txRef, err)
	}
	metrics.PayoutsSent.WithLabelValues(p.Kind, "sent").Inc()

	s.log.Info("payout sent",
		zap.String("payout_id", p.ID.String()),
		zap.String("kind", p.Kind),
		zap.Uint64("project_id", p.ProjectID),
		zap.String("amount_nano", p.AmountNano),
		zap.String("tx_ref", txRef),
	)
	_ = s.publisher.Publish(ctx, events.StreamProject, events.Event{
		Type: events.EventPayoutSent,
		Payload: map[string]any{
			"payout_id":   p.ID.String(),
			"project_id":  p.ProjectID,
			"kind":        p.Kind,
			"amount_nano": p.AmountNano,
			"tx_ref":      txRef,
		},
	})
	return nil
}

// destination prefers the explicit address on the row, falling back to the
// recipient's linked wallet.
func (s *PayoutService) destination(ctx context.Context, p models.Payout) (string, error) {
	if p.Address != nil && *p.Address != "" {
		return *p.Address, nil
	}
	user, err := s.userRepo.GetByID(ctx, p.RecipientID)
	if err != nil {
		return "", fmt.Errorf("resolve recipient %s: %w", p.RecipientID, err)
	}
	if user.WalletAddress == nil || *user.WalletAddress == "" {
		return "", fmt.Errorf("recipient %s has no linked wallet", p.RecipientID)
	}
	return *user.WalletAddress, nil
}

func parseNanoAmount(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}
