package handlers

import (
	"context"
	"errors"
	"math/big"
	"strconv"

	"github.com/fairlance/backend/internal/config"
	"github.com/fairlance/backend/internal/escrow"
	"github.com/fairlance/backend/internal/http/dto"
	"github.com/fairlance/backend/internal/middleware"
	"github.com/fairlance/backend/internal/rail"
	"github.com/fairlance/backend/internal/repositories"
	"github.com/fairlance/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ProjectHandler struct {
	projectService *services.ProjectService
	cfg            *config.Config
	log            *zap.Logger
}

func NewProjectHandler(projectService *services.ProjectService, cfg *config.Config, log *zap.Logger) *ProjectHandler {
	return &ProjectHandler{projectService: projectService, cfg: cfg, log: log}
}

// statusForError maps engine errors onto HTTP codes. Anything unrecognized is
// an internal error and gets logged by the caller.
func statusForError(err error) int {
	switch {
	case errors.Is(err, escrow.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, escrow.ErrProjectNotFound), errors.Is(err, escrow.ErrMilestoneNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, escrow.ErrInvalidState):
		return fiber.StatusConflict
	case errors.Is(err, escrow.ErrInvalidInput),
		errors.Is(err, escrow.ErrInvalidDeadline),
		errors.Is(err, escrow.ErrInvalidSchedule),
		errors.Is(err, escrow.ErrInvalidParty),
		errors.Is(err, escrow.ErrInsufficientEscrow):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *ProjectHandler) fail(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	if status == fiber.StatusInternalServerError {
		h.log.Error("project operation failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
}

func parseCreateRequest(c *fiber.Ctx) (services.CreateProjectParams, error) {
	var req dto.CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return services.CreateProjectParams{}, errors.New("invalid request body")
	}
	freelancerID, err := uuid.Parse(req.FreelancerID)
	if err != nil {
		return services.CreateProjectParams{}, errors.New("invalid freelancer_id")
	}
	params := services.CreateProjectParams{
		FreelancerID: freelancerID,
		Title:        req.Title,
		Description:  req.Description,
		Deadline:     req.Deadline,
		Deposit:      req.Deposit,
	}
	for _, m := range req.Milestones {
		params.Milestones = append(params.Milestones, services.MilestoneParams{
			Description: m.Description,
			Amount:      m.Amount,
			DueDate:     m.DueDate,
		})
	}
	return params, nil
}

// CreateIntent parks project terms and returns the deposit address and memo
// the client must attach to the transfer. The project is created when the
// deposit is observed on-chain.
func (h *ProjectHandler) CreateIntent(c *fiber.Ctx) error {
	if !h.cfg.RailEnabled {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "payment rail disabled, create the project directly"})
	}

	params, err := parseCreateRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	clientID := middleware.GetUserID(c)
	intent, err := h.projectService.CreateIntent(c.Context(), clientID, params)
	if err != nil {
		return h.fail(c, err)
	}

	deposit, _ := new(big.Int).SetString(intent.DepositNano, 10)
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.IntentResponse{
		Memo:           intent.Memo,
		DepositAddress: intent.DepositAddress,
		Amount:         rail.FormatAmount(deposit),
		ExpiresAt:      dto.IntentExpiry(intent.CreatedAt, h.cfg.IntentTTL),
	}})
}

// CreateProject creates and funds a project from a declared deposit. Only
// available when the payment rail is disabled; with the rail on, funding goes
// through intents.
func (h *ProjectHandler) CreateProject(c *fiber.Ctx) error {
	if h.cfg.RailEnabled {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "use a funding intent to create projects"})
	}

	params, err := parseCreateRequest(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	clientID := middleware.GetUserID(c)
	project, err := h.projectService.CreateProject(c.Context(), clientID, params)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.NewProjectView(project)})
}

func (h *ProjectHandler) ListProjects(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	filter := repositories.ProjectFilter{
		UserID: &userID,
		Limit:  20,
		Offset: 0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}

	rows, err := h.projectService.ListProjects(c.Context(), filter)
	if err != nil {
		h.log.Error("list projects failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rows})
}

func (h *ProjectHandler) GetProject(c *fiber.Ctx) error {
	id, err := parseProjectID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid project id"})
	}
	project, err := h.projectService.GetProject(id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewProjectView(project)})
}

func (h *ProjectHandler) StartProject(c *fiber.Ctx) error {
	return h.transition(c, h.projectService.StartProject)
}

func (h *ProjectHandler) CancelProject(c *fiber.Ctx) error {
	return h.transition(c, h.projectService.CancelProject)
}

func (h *ProjectHandler) RaiseDispute(c *fiber.Ctx) error {
	return h.transition(c, h.projectService.RaiseDispute)
}

func (h *ProjectHandler) ResolveDispute(c *fiber.Ctx) error {
	id, err := parseProjectID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid project id"})
	}
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	actorID := middleware.GetUserID(c)
	project, err := h.projectService.ResolveDispute(c.Context(), id, actorID, req.Outcome)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewProjectView(project)})
}

func (h *ProjectHandler) SubmitMilestone(c *fiber.Ctx) error {
	id, index, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	var req dto.SubmitMilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	actorID := middleware.GetUserID(c)
	project, err := h.projectService.SubmitMilestone(c.Context(), id, index, actorID, req.DeliverableHash, req.DeliverableURL)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewProjectView(project)})
}

func (h *ProjectHandler) ApproveMilestone(c *fiber.Ctx) error {
	return h.milestoneTransition(c, h.projectService.ApproveMilestone)
}

func (h *ProjectHandler) RejectMilestone(c *fiber.Ctx) error {
	return h.milestoneTransition(c, h.projectService.RejectMilestone)
}

func (h *ProjectHandler) GetMilestone(c *fiber.Ctx) error {
	id, index, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	m, err := h.projectService.GetMilestone(id, index)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewMilestoneView(index, m)})
}

// GetEscrow returns the funds still held for a project.
func (h *ProjectHandler) GetEscrow(c *fiber.Ctx) error {
	id, err := parseProjectID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid project id"})
	}
	remaining, err := h.projectService.RemainingEscrow(id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"project_id": id,
		"remaining":  rail.FormatAmount(remaining),
	}})
}

func (h *ProjectHandler) GetHistory(c *fiber.Ctx) error {
	id, err := parseProjectID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid project id"})
	}

	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	logs, err := h.projectService.ProjectHistory(c.Context(), id, limit, offset)
	if err != nil {
		h.log.Error("project history failed", zap.Uint64("project_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *ProjectHandler) GetPayouts(c *fiber.Ctx) error {
	id, err := parseProjectID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid project id"})
	}
	payouts, err := h.projectService.ProjectPayouts(c.Context(), id)
	if err != nil {
		h.log.Error("project payouts failed", zap.Uint64("project_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: payouts})
}

// transition handles the body-less project operations that differ only in the
// service method they call.
func (h *ProjectHandler) transition(c *fiber.Ctx, op func(ctx context.Context, projectID uint64, actorID uuid.UUID) (*escrow.Project, error)) error {
	id, err := parseProjectID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid project id"})
	}
	actorID := middleware.GetUserID(c)
	project, err := op(c.Context(), id, actorID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewProjectView(project)})
}

func (h *ProjectHandler) milestoneTransition(c *fiber.Ctx, op func(ctx context.Context, projectID uint64, index int, actorID uuid.UUID) (*escrow.Project, error)) error {
	id, index, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	actorID := middleware.GetUserID(c)
	project, err := op(c.Context(), id, index, actorID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewProjectView(project)})
}

func parseProjectID(c *fiber.Ctx) (uint64, error) {
	return strconv.ParseUint(c.Params("id"), 10, 64)
}

func parseMilestoneRef(c *fiber.Ctx) (uint64, int, error) {
	id, err := parseProjectID(c)
	if err != nil {
		return 0, 0, errors.New("invalid project id")
	}
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return 0, 0, errors.New("invalid milestone index")
	}
	return id, index, nil
}
