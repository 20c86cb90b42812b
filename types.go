package intake

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger is the structured logger used across the package. Args are
// key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the options the core services read at construction time
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetContextKey() string
	GetAuthScheme() string
	GetPasswordAlgorithm() string
	GetBcryptCost() int
	GetMaxUploadFiles() int
	GetMaxUploadSize() int64
	GetDefaultPhoneRegion() string
	GetDeterministicIDs() bool
}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger adapts a *slog.Logger to Logger
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return defLogger()
	}
	return slogLogger{l: l}
}

// NewJSONLogger writes JSON lines at the given level to w
func NewJSONLogger(w io.Writer, level slog.Level) Logger {
	return slogLogger{l: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))}
}

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func defLogger() Logger {
	return NewJSONLogger(os.Stderr, slog.LevelInfo)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything
func NopLogger() Logger { return nopLogger{} }

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger()
	}
	return l
}
