package intake

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ApplicantUpdate is a self service change of the caller's own account.
// Nil fields are left untouched.
type ApplicantUpdate struct {
	FirstName *string
	LastName  *string
	Profile   json.RawMessage
	Uploads   []Upload
}

// IsEmpty reports whether the update carries nothing
func (u ApplicantUpdate) IsEmpty() bool {
	return u.FirstName == nil && u.LastName == nil && len(u.Profile) == 0 && len(u.Uploads) == 0
}

// ApplicantService applies profile and document submissions. The first
// successful submission of a pending acceptor moves it into review.
type ApplicantService struct {
	accounts  Accounts
	documents *DocumentRegistry
	workflow  *VerificationWorkflow
	policy    ProfilePolicy
	logger    Logger
	tracer    trace.Tracer
}

// ApplicantOption customizes the applicant service
type ApplicantOption func(*ApplicantService)

func WithApplicantLogger(logger Logger) ApplicantOption {
	return func(s *ApplicantService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProfilePolicy sets the phone region used to normalize numbers
func WithProfilePolicy(policy ProfilePolicy) ApplicantOption {
	return func(s *ApplicantService) {
		s.policy = policy
	}
}

func NewApplicantService(accounts Accounts, documents *DocumentRegistry, workflow *VerificationWorkflow, opts ...ApplicantOption) *ApplicantService {
	s := &ApplicantService{
		accounts:  accounts,
		documents: documents,
		workflow:  workflow,
		logger:    defLogger(),
		tracer:    defTracer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit validates the whole update before writing anything. Upload
// bytes are stored first, then details, documents and the move into
// review are committed together.
func (s *ApplicantService) Submit(ctx context.Context, accountID uuid.UUID, update ApplicantUpdate) (account *Account, err error) {
	ctx, span := s.tracer.Start(ctx, "applicant.submit", trace.WithAttributes(
		attribute.String("account.id", accountID.String()),
		attribute.Int("documents.count", len(update.Uploads)),
		attribute.Bool("profile.changed", len(update.Profile) > 0),
	))
	defer func() { endSpan(span, err) }()

	current, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	changes, err := s.prepare(current, update)
	if err != nil {
		return nil, err
	}

	if len(update.Uploads) > 0 {
		uploads := append([]Upload(nil), update.Uploads...)
		if err := s.documents.Policy().Check(uploads); err != nil {
			return nil, err
		}
		update.Uploads = uploads
	}

	if current.Role == RoleAcceptor && len(current.Documents)+len(update.Uploads) == 0 {
		return nil, ErrDocumentRequired
	}

	var docs []*Document
	if len(update.Uploads) > 0 {
		if docs, err = s.documents.store(ctx, accountID, update.Uploads); err != nil {
			return nil, err
		}
	}

	var submitted *submission
	err = s.accounts.RunInTx(ctx, func(ctx context.Context, tx Accounts) error {
		if !changes.IsEmpty() {
			if err := tx.UpdateDetails(ctx, accountID, changes); err != nil {
				return err
			}
		}
		if len(docs) > 0 {
			if err := tx.AppendDocuments(ctx, accountID, docs); err != nil {
				return err
			}
		}
		var err error
		submitted, err = s.workflow.submit(ctx, tx, current)
		return err
	})
	if err != nil {
		s.logger.Error("applicant submission rolled back", "account_id", accountID.String(), "error", err)
		return nil, storageError(err, "failed to save submission")
	}

	s.documents.recordAttached(ctx, accountID, docs)
	s.workflow.recordSubmission(ctx, submitted)
	if submitted.applied() {
		s.logger.Info("application submitted for review", "account_id", accountID.String())
	}

	return s.accounts.FindByID(ctx, accountID)
}

func (s *ApplicantService) prepare(current *Account, update ApplicantUpdate) (AccountChanges, error) {
	var changes AccountChanges

	if update.FirstName != nil {
		v := strings.TrimSpace(*update.FirstName)
		if v == "" {
			return changes, withMessage(ErrValidation, "First name is required")
		}
		changes.FirstName = &v
	}

	if update.LastName != nil {
		v := strings.TrimSpace(*update.LastName)
		if v == "" {
			return changes, withMessage(ErrValidation, "Last name is required")
		}
		changes.LastName = &v
	}

	if len(update.Profile) > 0 {
		profile, err := MergeProfile(current.Profile.Profile, current.Role, update.Profile)
		if err != nil {
			return changes, err
		}
		if err := s.policy.Check(profile); err != nil {
			return changes, err
		}
		changes.Profile = profile
	}

	return changes, nil
}
