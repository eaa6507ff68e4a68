package services

import (
	"context"
	"fmt"
	"time"

	"github.com/fairlance/backend/internal/config"
	"github.com/fairlance/backend/internal/events"
	"github.com/fairlance/backend/internal/repositories"
	"go.uber.org/zap"
)

// DeadlineService notifies parties of approaching project deadlines.
// Deadlines are informational only: nothing here or anywhere else moves a
// project's status when one passes.
type DeadlineService struct {
	projectRepo *repositories.ProjectRepo
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewDeadlineService(projectRepo *repositories.ProjectRepo, publisher events.Publisher, cfg *config.Config, log *zap.Logger) *DeadlineService {
	return &DeadlineService{projectRepo: projectRepo, publisher: publisher, cfg: cfg, log: log}
}

// CheckDeadlines publishes one reminder per project whose deadline falls
// within the configured window.
func (s *DeadlineService) CheckDeadlines(ctx context.Context) error {
	now := time.Now().Unix()
	window := int64(s.cfg.DeadlineWindow / time.Second)

	rows, err := s.projectRepo.ListDeadlineApproaching(ctx, now, window)
	if err != nil {
		return fmt.Errorf("list approaching deadlines: %w", err)
	}

	for _, row := range rows {
		if err := s.publisher.Publish(ctx, events.StreamProject, events.Event{
			Type: events.EventDeadlineApproaching,
			Payload: map[string]any{
				"project_id": row.ID,
				"title":      row.Title,
				"deadline":   row.Deadline,
				"client":     row.ClientID.String(),
				"freelancer": row.FreelancerID.String(),
			},
		}); err != nil {
			s.log.Warn("deadline notification failed", zap.Uint64("project_id", row.ID), zap.Error(err))
			continue
		}
		if err := s.projectRepo.MarkDeadlineNotified(ctx, row.ID); err != nil {
			s.log.Warn("failed to mark deadline notified", zap.Uint64("project_id", row.ID), zap.Error(err))
		}
	}

	if len(rows) > 0 {
		s.log.Info("deadline reminders sent", zap.Int("count", len(rows)))
	}
	return nil
}
