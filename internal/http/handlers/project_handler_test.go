package handlers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fairlance/backend/internal/escrow"
	"github.com/gofiber/fiber/v2"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{escrow.ErrUnauthorized, fiber.StatusForbidden},
		{escrow.ErrProjectNotFound, fiber.StatusNotFound},
		{escrow.ErrMilestoneNotFound, fiber.StatusNotFound},
		{escrow.ErrInvalidState, fiber.StatusConflict},
		{escrow.ErrInvalidInput, fiber.StatusBadRequest},
		{escrow.ErrInvalidDeadline, fiber.StatusBadRequest},
		{escrow.ErrInvalidSchedule, fiber.StatusBadRequest},
		{escrow.ErrInvalidParty, fiber.StatusBadRequest},
		{escrow.ErrInsufficientEscrow, fiber.StatusBadRequest},
		{errors.New("database on fire"), fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatusForErrorWrapped(t *testing.T) {
	// Services wrap engine sentinels with context; mapping must survive that.
	wrapped := fmt.Errorf("%w: milestone 2 amount: bad decimal", escrow.ErrInvalidInput)
	if got := statusForError(wrapped); got != fiber.StatusBadRequest {
		t.Errorf("statusForError(wrapped) = %d, want %d", got, fiber.StatusBadRequest)
	}
}
