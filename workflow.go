package intake

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InitialSubmissionReason is recorded on the automatic pending to
// in_review transition
const InitialSubmissionReason = "Initial submission"

// TransitionRules maps a target status to the statuses it may be
// reached from. A nil map allows every transition.
type TransitionRules map[VerificationStatus][]VerificationStatus

// ForwardOnlyTransitions only lets an application move forward, with
// rejected applications allowed back into review.
var ForwardOnlyTransitions = TransitionRules{
	StatusPending:  {StatusPending},
	StatusInReview: {StatusPending, StatusInReview, StatusRejected},
	StatusApproved: {StatusInReview, StatusApproved},
	StatusRejected: {StatusInReview, StatusRejected},
}

// VerificationWorkflow drives the manual review of an applicant. Every
// status change appends exactly one history event.
type VerificationWorkflow struct {
	accounts            Accounts
	now                 func() time.Time
	activitySink        ActivitySink
	logger              Logger
	tracer              trace.Tracer
	rules               TransitionRules
	requireVerifiedDocs bool
}

// WorkflowOption customizes the workflow
type WorkflowOption func(*VerificationWorkflow)

// WithWorkflowClock injects a custom clock (useful for tests).
func WithWorkflowClock(now func() time.Time) WorkflowOption {
	return func(w *VerificationWorkflow) {
		if now != nil {
			w.now = now
		}
	}
}

// WithWorkflowActivitySink sets the sink used to publish status changes.
func WithWorkflowActivitySink(sink ActivitySink) WorkflowOption {
	return func(w *VerificationWorkflow) {
		w.activitySink = normalizeActivitySink(sink)
	}
}

func WithWorkflowLogger(logger Logger) WorkflowOption {
	return func(w *VerificationWorkflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithWorkflowTracer(tracer trace.Tracer) WorkflowOption {
	return func(w *VerificationWorkflow) {
		if tracer != nil {
			w.tracer = tracer
		}
	}
}

// WithTransitionRules restricts which transitions admins may perform
func WithTransitionRules(rules TransitionRules) WorkflowOption {
	return func(w *VerificationWorkflow) {
		w.rules = rules
	}
}

// WithApprovalRequiresVerifiedDocuments refuses approval while any
// document is unverified
func WithApprovalRequiresVerifiedDocuments() WorkflowOption {
	return func(w *VerificationWorkflow) {
		w.requireVerifiedDocs = true
	}
}

// NewVerificationWorkflow is permissive by default: any status may move
// to any other.
func NewVerificationWorkflow(accounts Accounts, opts ...WorkflowOption) *VerificationWorkflow {
	w := &VerificationWorkflow{
		accounts:     accounts,
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger(),
		tracer:       defTracer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Transition sets the verification status and appends a history event,
// also when the status does not change.
func (w *VerificationWorkflow) Transition(ctx context.Context, accountID uuid.UUID, status VerificationStatus, actor ActorRef, reason string) (account *Account, err error) {
	ctx, span := w.tracer.Start(ctx, "workflow.transition", trace.WithAttributes(
		attribute.String("account.id", accountID.String()),
		attribute.String("status.to", string(status)),
		attribute.String("actor.type", actor.Type),
	))
	defer func() { endSpan(span, err) }()

	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}

	event := &VerificationEvent{
		Status:    status,
		ChangedBy: actor.ptr(),
		Reason:    strings.TrimSpace(reason),
		ChangedAt: w.now().UTC(),
	}

	var opts []StatusUpdateOption
	if w.rules != nil {
		expect := w.rules[status]
		if len(expect) == 0 {
			return nil, withMessage(ErrInvalidTransition, "Status %s can not be set", status)
		}
		opts = append(opts, ExpectStatus(expect...))
	}
	if w.requireVerifiedDocs && status == StatusApproved {
		opts = append(opts, RequireVerifiedDocuments())
	}

	change, err := w.accounts.UpdateStatus(ctx, accountID, event, opts...)
	if err != nil {
		return nil, err
	}
	if !change.Applied {
		return nil, withMetadata(withMessage(ErrInvalidTransition, "Cannot change status from %s to %s", change.From, status), map[string]any{
			"from": string(change.From),
			"to":   string(status),
		})
	}
	span.SetAttributes(attribute.String("status.from", string(change.From)))

	recordActivity(ctx, w.activitySink, w.logger, ActivityEvent{
		EventType:  ActivityEventStatusChanged,
		Actor:      actor,
		AccountID:  accountID,
		FromStatus: change.From,
		ToStatus:   status,
		Metadata:   reasonMetadata(event.Reason),
		OccurredAt: event.ChangedAt,
	})

	return w.accounts.FindByID(ctx, accountID)
}

// AddNote appends a reviewer note, the status is left untouched
func (w *VerificationWorkflow) AddNote(ctx context.Context, accountID uuid.UUID, text string, actor ActorRef) (account *Account, err error) {
	ctx, span := w.tracer.Start(ctx, "workflow.add_note", trace.WithAttributes(
		attribute.String("account.id", accountID.String()),
	))
	defer func() { endSpan(span, err) }()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, withMessage(ErrValidation, "Note is required")
	}
	if actor.ID == uuid.Nil {
		return nil, withMessage(ErrValidation, "Note author is required")
	}

	note := &VerificationNote{
		AccountID: accountID,
		Note:      text,
		AddedBy:   actor.ID,
		AddedAt:   w.now().UTC(),
	}
	if err := w.accounts.AppendNote(ctx, note); err != nil {
		return nil, err
	}

	recordActivity(ctx, w.activitySink, w.logger, ActivityEvent{
		EventType:  ActivityEventNoteAdded,
		Actor:      actor,
		AccountID:  accountID,
		OccurredAt: note.AddedAt,
	})

	return w.accounts.FindByID(ctx, accountID)
}

// SubmitApplication moves a pending acceptor into review. The status
// update is a compare-and-set so concurrent submissions record a single
// event. Reports whether the transition happened.
func (w *VerificationWorkflow) SubmitApplication(ctx context.Context, account *Account) (moved bool, err error) {
	if account == nil || account.Role != RoleAcceptor {
		return false, nil
	}

	ctx, span := w.tracer.Start(ctx, "workflow.submit_application", trace.WithAttributes(
		attribute.String("account.id", account.ID.String()),
	))
	defer func() { endSpan(span, err) }()

	submission, err := w.submit(ctx, w.accounts, account)
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Bool("transition.applied", submission.applied()))
	w.recordSubmission(ctx, submission)
	return submission.applied(), nil
}

// submission is a pending to in_review change waiting to be published
type submission struct {
	account *Account
	change  StatusChange
	event   *VerificationEvent
}

func (s *submission) applied() bool {
	return s != nil && s.change.Applied
}

// submit runs the compare-and-set through accounts, which may be bound
// to a caller's transaction. Activity is published by recordSubmission
// once the caller has committed.
func (w *VerificationWorkflow) submit(ctx context.Context, accounts Accounts, account *Account) (*submission, error) {
	if account == nil || account.Role != RoleAcceptor {
		return nil, nil
	}

	actor := ActorRef{ID: account.ID, Type: ActorTypeApplicant}
	event := &VerificationEvent{
		Status:    StatusInReview,
		ChangedBy: actor.ptr(),
		Reason:    InitialSubmissionReason,
		ChangedAt: w.now().UTC(),
	}

	change, err := accounts.UpdateStatus(ctx, account.ID, event, ExpectStatus(StatusPending))
	if err != nil {
		return nil, err
	}
	return &submission{account: account, change: change, event: event}, nil
}

func (w *VerificationWorkflow) recordSubmission(ctx context.Context, s *submission) {
	if !s.applied() {
		return
	}
	recordActivity(ctx, w.activitySink, w.logger, ActivityEvent{
		EventType:  ActivityEventApplicationSubmit,
		Actor:      ActorRef{ID: s.account.ID, Type: ActorTypeApplicant},
		AccountID:  s.account.ID,
		FromStatus: s.change.From,
		ToStatus:   StatusInReview,
		Metadata:   reasonMetadata(InitialSubmissionReason),
		OccurredAt: s.event.ChangedAt,
	})
}

// History returns the status, history and notes of an account with the
// actor of each entry resolved to a summary
func (w *VerificationWorkflow) History(ctx context.Context, accountID uuid.UUID) (*VerificationHistory, error) {
	account, err := w.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := ResolveActors(ctx, w.accounts, account); err != nil {
		return nil, err
	}
	return &VerificationHistory{
		Status:  account.VerificationStatus,
		History: account.VerificationHistory,
		Notes:   account.VerificationNotes,
	}, nil
}

// VerificationHistory is the audit view of an application
type VerificationHistory struct {
	Status  VerificationStatus   `json:"status"`
	History []*VerificationEvent `json:"history"`
	Notes   []*VerificationNote  `json:"notes"`
}

// ResolveActors fills in the Actor summaries of history and notes
func ResolveActors(ctx context.Context, accounts Accounts, targets ...*Account) error {
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if id != uuid.Nil && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, account := range targets {
		for _, e := range account.VerificationHistory {
			if e.ChangedBy != nil {
				add(*e.ChangedBy)
			}
		}
		for _, n := range account.VerificationNotes {
			add(n.AddedBy)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	actors, err := accounts.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*AccountSummary, len(actors))
	for _, a := range actors {
		byID[a.ID] = a.Summary()
	}

	for _, account := range targets {
		for _, e := range account.VerificationHistory {
			if e.ChangedBy != nil {
				e.Actor = byID[*e.ChangedBy]
			}
		}
		for _, n := range account.VerificationNotes {
			n.Actor = byID[n.AddedBy]
		}
	}
	return nil
}

func reasonMetadata(reason string) map[string]any {
	if reason == "" {
		return nil
	}
	return map[string]any{"reason": reason}
}
