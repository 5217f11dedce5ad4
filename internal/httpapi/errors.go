package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

// statusFor maps the engine's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidSelector):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrAlreadyProcessed):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrExpired):
		return fiber.StatusGone
	case errors.Is(err, models.ErrPeriodLocked):
		return fiber.StatusLocked
	case errors.Is(err, models.ErrNotApproved):
		return fiber.StatusForbidden
	case errors.Is(err, models.ErrBudgetBlocked), errors.Is(err, models.ErrInvalidTransaction):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, models.ErrTamperDetected):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrStorageFailure):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	message := err.Error()
	if status >= fiber.StatusInternalServerError {
		config.LogError(h.logger, moduleName, "errorHandler", "request failed", map[string]string{
			"method": c.Method(),
			"path":   c.Path(),
		}, err)
		if status == fiber.StatusInternalServerError {
			message = "unexpected server error"
		}
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}
