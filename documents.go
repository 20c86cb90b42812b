package intake

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DocumentNotePrefix prefixes notes left while verifying a document
const DocumentNotePrefix = "Document verification note: "

// DocumentRegistry stores applicant documents and tracks their
// verification flags. Flags never change the account status.
type DocumentRegistry struct {
	accounts     Accounts
	files        FileStore
	workflow     *VerificationWorkflow
	policy       UploadPolicy
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
	tracer       trace.Tracer
}

// DocumentRegistryOption customizes the registry
type DocumentRegistryOption func(*DocumentRegistry)

func WithDocumentClock(now func() time.Time) DocumentRegistryOption {
	return func(r *DocumentRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithDocumentActivitySink(sink ActivitySink) DocumentRegistryOption {
	return func(r *DocumentRegistry) {
		r.activitySink = normalizeActivitySink(sink)
	}
}

func WithDocumentLogger(logger Logger) DocumentRegistryOption {
	return func(r *DocumentRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithUploadPolicy overrides the default file count and size limits
func WithUploadPolicy(policy UploadPolicy) DocumentRegistryOption {
	return func(r *DocumentRegistry) {
		r.policy = policy.normalized()
	}
}

// NewDocumentRegistry notes are written through workflow
func NewDocumentRegistry(accounts Accounts, store FileStore, workflow *VerificationWorkflow, opts ...DocumentRegistryOption) *DocumentRegistry {
	r := &DocumentRegistry{
		accounts:     accounts,
		files:        store,
		workflow:     workflow,
		policy:       DefaultUploadPolicy(),
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger(),
		tracer:       defTracer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Policy returns the upload limits enforced by Attach
func (r *DocumentRegistry) Policy() UploadPolicy {
	return r.policy
}

// Attach stores the uploads and appends them, unverified, to the account
func (r *DocumentRegistry) Attach(ctx context.Context, accountID uuid.UUID, uploads []Upload) (account *Account, err error) {
	ctx, span := r.tracer.Start(ctx, "documents.attach", trace.WithAttributes(
		attribute.String("account.id", accountID.String()),
		attribute.Int("documents.count", len(uploads)),
	))
	defer func() { endSpan(span, err) }()

	if len(uploads) == 0 {
		return r.accounts.FindByID(ctx, accountID)
	}
	if err := r.policy.Check(uploads); err != nil {
		return nil, err
	}

	docs, err := r.store(ctx, accountID, uploads)
	if err != nil {
		return nil, err
	}

	if err := r.accounts.AppendDocuments(ctx, accountID, docs); err != nil {
		return nil, err
	}
	r.recordAttached(ctx, accountID, docs)

	return r.accounts.FindByID(ctx, accountID)
}

// store writes the upload bytes to the file store and returns the
// unsaved document records pointing at them
func (r *DocumentRegistry) store(ctx context.Context, accountID uuid.UUID, uploads []Upload) ([]*Document, error) {
	now := r.now().UTC()
	docs := make([]*Document, 0, len(uploads))
	for _, u := range uploads {
		locator, err := r.files.Put(ctx, StorageKey(accountID, u.Filename, now), u.ContentType, u.Data)
		if err != nil {
			r.logger.Error("document store failed", "account_id", accountID.String(), "filename", u.Filename, "error", err)
			return nil, err
		}
		docs = append(docs, &Document{
			ID:         uuid.New(),
			Type:       u.Type,
			Filename:   u.Filename,
			URL:        locator,
			UploadedAt: now,
		})
	}
	return docs, nil
}

func (r *DocumentRegistry) recordAttached(ctx context.Context, accountID uuid.UUID, docs []*Document) {
	if len(docs) == 0 {
		return
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID.String()
	}
	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType:  ActivityEventDocumentsAttached,
		Actor:      ActorRef{ID: accountID, Type: ActorTypeApplicant},
		AccountID:  accountID,
		Metadata:   map[string]any{"documents": ids},
		OccurredAt: docs[0].UploadedAt,
	})
}

// SetVerified flips the flag of one document. A non empty note is
// recorded as a verification note.
func (r *DocumentRegistry) SetVerified(ctx context.Context, accountID, documentID uuid.UUID, verified bool, note string, actor ActorRef) (account *Account, err error) {
	ctx, span := r.tracer.Start(ctx, "documents.set_verified", trace.WithAttributes(
		attribute.String("account.id", accountID.String()),
		attribute.String("document.id", documentID.String()),
		attribute.Bool("document.verified", verified),
	))
	defer func() { endSpan(span, err) }()

	if err := r.accounts.SetDocumentVerified(ctx, accountID, documentID, verified); err != nil {
		return nil, err
	}

	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType: ActivityEventDocumentVerified,
		Actor:     actor,
		AccountID: accountID,
		Metadata: map[string]any{
			"document_id": documentID.String(),
			"verified":    verified,
		},
		OccurredAt: r.now().UTC(),
	})

	if note = strings.TrimSpace(note); note != "" {
		return r.workflow.AddNote(ctx, accountID, DocumentNotePrefix+note, actor)
	}

	return r.accounts.FindByID(ctx, accountID)
}

// Locate resolves the stored locator of a document to a fetchable URL
func (r *DocumentRegistry) Locate(ctx context.Context, accountID, documentID uuid.UUID) (string, error) {
	account, err := r.accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	doc, ok := account.FindDocument(documentID)
	if !ok {
		return "", ErrDocumentNotFound
	}
	return r.files.URL(ctx, doc.URL)
}
