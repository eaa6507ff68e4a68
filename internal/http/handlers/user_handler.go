package handlers

import (
	"github.com/fairlance/backend/internal/http/dto"
	"github.com/fairlance/backend/internal/middleware"
	"github.com/fairlance/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type UserHandler struct {
	userService *services.UserService
	log         *zap.Logger
}

func NewUserHandler(userService *services.UserService, log *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, log: log}
}

func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	user, err := h.userService.GetByID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "user not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}

// LinkWallet records the caller's payout address, optionally backed by a TON
// Connect ownership proof.
func (h *UserHandler) LinkWallet(c *fiber.Ctx) error {
	var req dto.LinkWalletRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	userID := middleware.GetUserID(c)
	if err := h.userService.LinkWallet(c.Context(), userID, req.WalletAddress, req.Proof); err != nil {
		h.log.Debug("wallet link rejected", zap.String("user_id", userID.String()), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
