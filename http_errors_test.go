package intake_test

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-intake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	debugs []string
}

func (l *recordingLogger) Debug(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugs = append(l.debugs, msg)
}

func (l *recordingLogger) Info(string, ...any) {}
func (l *recordingLogger) Warn(string, ...any) {}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		message  string
		textCode string
		logged   bool
	}{
		{
			name:     "rich client error",
			err:      intake.ErrDocumentRequired,
			status:   fiber.StatusBadRequest,
			message:  "At least one document is required for acceptors",
			textCode: intake.TextCodeDocumentRequired,
		},
		{
			name:     "wrapped rich error",
			err:      fmt.Errorf("submit: %w", intake.ErrAccountNotFound),
			status:   fiber.StatusNotFound,
			message:  "User not found",
			textCode: intake.TextCodeAccountNotFound,
		},
		{
			name:     "plain error is hidden",
			err:      errors.New("sql: connection refused"),
			status:   fiber.StatusInternalServerError,
			message:  intake.GenericServerError,
			textCode: intake.TextCodeInternal,
			logged:   true,
		},
		{
			name:     "internal rich error is hidden",
			err:      goerrors.New("disk full", goerrors.CategoryInternal).WithTextCode("STORAGE"),
			status:   fiber.StatusInternalServerError,
			message:  intake.GenericServerError,
			textCode: "STORAGE",
			logged:   true,
		},
		{
			name:    "fiber error keeps its code",
			err:     fiber.NewError(fiber.StatusMethodNotAllowed, "Method Not Allowed"),
			status:  fiber.StatusMethodNotAllowed,
			message: "Method Not Allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &recordingLogger{}
			app := fiber.New(fiber.Config{ErrorHandler: intake.NewErrorHandler(logger)})
			app.Get("/", func(c *fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, string(raw), `"message":"`+tt.message+`"`)
			if tt.textCode != "" {
				assert.Contains(t, string(raw), `"textCode":"`+tt.textCode+`"`)
			} else {
				assert.NotContains(t, string(raw), "textCode")
			}
			if tt.logged {
				assert.Equal(t, []string{"request failed"}, logger.errors)
			} else {
				assert.Empty(t, logger.errors)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		category goerrors.Category
		status   int
	}{
		{goerrors.CategoryValidation, fiber.StatusBadRequest},
		{goerrors.CategoryBadInput, fiber.StatusBadRequest},
		{goerrors.CategoryAuth, fiber.StatusUnauthorized},
		{goerrors.CategoryAuthz, fiber.StatusForbidden},
		{goerrors.CategoryNotFound, fiber.StatusNotFound},
		{goerrors.CategoryConflict, fiber.StatusConflict},
		{goerrors.CategoryRateLimit, fiber.StatusTooManyRequests},
		{goerrors.CategoryInternal, fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.category), func(t *testing.T) {
			assert.Equal(t, tt.status, intake.StatusCode(goerrors.New("x", tt.category)))
		})
	}

	assert.Equal(t, fiber.StatusInternalServerError, intake.StatusCode(nil))
	assert.Equal(t, fiber.StatusBadRequest, intake.StatusCode(intake.ErrDuplicateEmail), "explicit codes win over the category")
}
