package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"github.com/kursadbilgin/inquiry-dispatch/internal/observability"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every failed request. Errors is set only for
// input validation failures and maps each field to its messages.
type ErrorResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

const validationMessage = "invalid request data"

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := err.Error()
		var fieldErrs domain.FieldErrors

		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &fieldErrs):
			code = fiber.StatusBadRequest
			message = validationMessage
		case errors.As(err, &fiberErr):
			code = fiberErr.Code
		}

		// Internal details stay in the log.
		if code >= fiber.StatusInternalServerError {
			message = "internal server error"
		}

		log := observability.WithContextLogger(logger, c.UserContext()).With(
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)
		if code >= fiber.StatusInternalServerError {
			log.Error("request error")
		} else {
			log.Warn("request rejected")
		}

		return c.Status(code).JSON(ErrorResponse{
			Success: false,
			Message: message,
			Errors:  fieldErrs,
		})
	}
}
