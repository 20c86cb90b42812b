package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	intake "github.com/goliatone/go-intake"
)

const (
	// MetadataKeyActorType stores the actor type derived from intake.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyFromStatus stores the verification status before a transition.
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the verification status after a transition.
	MetadataKeyToStatus = "to_status"
)

const (
	defaultChannel    = "intake"
	defaultObjectType = "account"
	defaultActorID    = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(intake.ActivityEvent) string
}

// Normalize converts an intake.ActivityEvent into a generic normalized shape.
// Self service events without an actor id are attributed to the account.
func Normalize(event intake.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		idString(event.Actor.ID),
		accountAsActor(event),
		strings.TrimSpace(options.actorFallback),
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: strings.TrimSpace(options.objectType),
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    strings.TrimSpace(options.channel),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// Sink returns an intake.ActivitySink that logs every event in normalized form
func Sink(logger intake.Logger, opts ...Option) intake.ActivitySink {
	if logger == nil {
		logger = intake.NopLogger()
	}
	return intake.ActivitySinkFunc(func(_ context.Context, event intake.ActivityEvent) error {
		n := Normalize(event, opts...)
		logger.Info("activity",
			"actor_id", n.ActorID,
			"verb", n.Verb,
			"object_type", n.ObjectType,
			"object_id", n.ObjectID,
			"channel", n.Channel,
			"metadata", n.Metadata,
			"occurred_at", n.OccurredAt,
		)
		return nil
	})
}

// WithDefaultChannel sets the default channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the default object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object-id extraction from ActivityEvent.
func WithObjectIDResolver(resolver func(intake.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when no actor can be derived.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
}

func resolveObjectID(event intake.ActivityEvent, resolver func(intake.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return idString(event.AccountID)
}

func accountAsActor(event intake.ActivityEvent) string {
	if event.Actor.Type == intake.ActorTypeSystem {
		return ""
	}
	return idString(event.AccountID)
}

func normalizeMetadata(event intake.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	set := func(key string, value any, overwrite bool) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; exists && !overwrite {
			return
		}
		metadata[key] = value
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		set(MetadataKeyActorType, actorType, false)
	}
	if event.FromStatus != "" {
		set(MetadataKeyFromStatus, string(event.FromStatus), true)
	}
	if event.ToStatus != "" {
		set(MetadataKeyToStatus, string(event.ToStatus), true)
	}

	return metadata
}

func idString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
