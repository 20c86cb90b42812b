package intake

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistered         ActivityEventType = "account.registered"
	ActivityEventLoginSuccess       ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure       ActivityEventType = "auth.login.failure"
	ActivityEventStatusChanged      ActivityEventType = "verification.status.changed"
	ActivityEventNoteAdded          ActivityEventType = "verification.note.added"
	ActivityEventDocumentsAttached  ActivityEventType = "document.attached"
	ActivityEventDocumentVerified   ActivityEventType = "document.verified"
	ActivityEventAccountDeactivated ActivityEventType = "account.deactivated"
	ActivityEventAccountReactivated ActivityEventType = "account.reactivated"
	ActivityEventApplicationSubmit  ActivityEventType = "application.submitted"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  uuid.UUID
	FromStatus VerificationStatus
	ToStatus   VerificationStatus
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks are best effort: failures are logged and never fail the request.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// LogActivitySink writes every event to a Logger
func LogActivitySink(logger Logger) ActivitySink {
	logger = normalizeLogger(logger)
	return ActivitySinkFunc(func(_ context.Context, event ActivityEvent) error {
		args := []any{
			"event", string(event.EventType),
			"account_id", event.AccountID.String(),
			"actor_id", event.Actor.ID.String(),
			"actor_type", event.Actor.Type,
		}
		if event.FromStatus != "" || event.ToStatus != "" {
			args = append(args, "from", string(event.FromStatus), "to", string(event.ToStatus))
		}
		for k, v := range event.Metadata {
			args = append(args, k, v)
		}
		logger.Info("activity", args...)
		return nil
	})
}

func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Warn("activity sink failed", "event", string(event.EventType), "error", err)
	}
}
