package intake

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// GenericServerError is shown instead of the message of internal faults
const GenericServerError = "An unexpected server error occurred"

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Message  string `json:"message"`
	TextCode string `json:"textCode,omitempty"`
}

// NewErrorHandler renders errors as {message, textCode}. Internal faults
// are logged with detail and answered with a generic message.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = normalizeLogger(logger)

	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{Message: fiberErr.Message})
		}

		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			richErr = goerrors.Wrap(err, goerrors.CategoryInternal, GenericServerError).
				WithCode(goerrors.CodeInternal).
				WithTextCode(TextCodeInternal)
		}

		code := StatusCode(richErr)
		message := richErr.Message
		if code >= fiber.StatusInternalServerError {
			logger.Error(
				"request failed",
				"method", c.Method(),
				"path", c.Path(),
				"error", err.Error(),
				"category", richErr.Category,
				"details", print.MaybePrettyJSON(richErr.Metadata),
			)
			message = GenericServerError
		} else {
			logger.Debug(
				"request rejected",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", richErr.Message,
				"text_code", richErr.TextCode,
			)
		}

		return c.Status(code).JSON(ErrorResponse{
			Message:  message,
			TextCode: richErr.TextCode,
		})
	}
}

// StatusCode picks the HTTP status of a rich error, falling back to its
// category when no code was set
func StatusCode(richErr *goerrors.Error) int {
	if richErr == nil {
		return fiber.StatusInternalServerError
	}
	if richErr.Code != 0 {
		return richErr.Code
	}

	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	case goerrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return fiber.StatusForbidden
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	case goerrors.CategoryRateLimit:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}
