package intake

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
)

// AdminAccountUpdate is an administrative change. Role is immutable and
// has no field here.
type AdminAccountUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	IsActive  *bool
	Profile   json.RawMessage
}

// AcceptorStats summarizes acceptors by verification status
type AcceptorStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InReview   int `json:"in_review"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
	Verified   int `json:"verified"`
	Unverified int `json:"unverified"`
}

// AdminService holds the account management operations of admins
type AdminService struct {
	accounts     Accounts
	policy       ProfilePolicy
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

// AdminOption customizes the admin service
type AdminOption func(*AdminService)

func WithAdminActivitySink(sink ActivitySink) AdminOption {
	return func(s *AdminService) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

func WithAdminLogger(logger Logger) AdminOption {
	return func(s *AdminService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAdminProfilePolicy(policy ProfilePolicy) AdminOption {
	return func(s *AdminService) {
		s.policy = policy
	}
}

func NewAdminService(accounts Accounts, opts ...AdminOption) *AdminService {
	s := &AdminService{
		accounts:     accounts,
		activitySink: noopActivitySink{},
		logger:       defLogger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// List returns matching accounts with their documents, history and
// notes, actors resolved
func (s *AdminService) List(ctx context.Context, filter AccountFilter) ([]*Account, error) {
	accounts, err := s.accounts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if err := ResolveActors(ctx, s.accounts, accounts...); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ActiveByRole lists active accounts of one role
func (s *AdminService) ActiveByRole(ctx context.Context, role Role) ([]*Account, error) {
	active := true
	return s.List(ctx, AccountFilter{Role: role, Active: &active})
}

// Acceptors lists every acceptor, newest first
func (s *AdminService) Acceptors(ctx context.Context) ([]*Account, error) {
	return s.List(ctx, AccountFilter{Role: RoleAcceptor, NewestFirst: true})
}

// Get returns the account with history actors resolved
func (s *AdminService) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ResolveActors(ctx, s.accounts, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Update applies a partial change. Activation changes never touch the
// verification history.
func (s *AdminService) Update(ctx context.Context, id uuid.UUID, update AdminAccountUpdate, actor ActorRef) (*Account, error) {
	current, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var changes AccountChanges
	if update.FirstName != nil {
		v := strings.TrimSpace(*update.FirstName)
		changes.FirstName = &v
	}
	if update.LastName != nil {
		v := strings.TrimSpace(*update.LastName)
		changes.LastName = &v
	}
	if update.Email != nil {
		v := NormalizeEmail(*update.Email)
		changes.Email = &v
	}

	err = validation.Errors{
		"firstName": validation.Validate(changes.FirstName, validation.NilOrNotEmpty, validation.Length(1, 100)),
		"lastName":  validation.Validate(changes.LastName, validation.NilOrNotEmpty, validation.Length(1, 100)),
		"email":     validation.Validate(changes.Email, validation.NilOrNotEmpty, is.Email),
	}.Filter()
	if err != nil {
		return nil, validationError(err)
	}

	if len(update.Profile) > 0 {
		profile, err := MergeProfile(current.Profile.Profile, current.Role, update.Profile)
		if err != nil {
			return nil, err
		}
		if err := s.policy.Check(profile); err != nil {
			return nil, err
		}
		changes.Profile = profile
	}

	if !changes.IsEmpty() {
		if err := s.accounts.UpdateDetails(ctx, id, changes); err != nil {
			return nil, err
		}
	}

	if update.IsActive != nil {
		if _, err := s.setActive(ctx, id, *update.IsActive, actor); err != nil {
			return nil, err
		}
	}

	return s.accounts.FindByID(ctx, id)
}

// Deactivate is idempotent, reports whether the flag changed
func (s *AdminService) Deactivate(ctx context.Context, id uuid.UUID, actor ActorRef) (bool, error) {
	return s.setActive(ctx, id, false, actor)
}

func (s *AdminService) setActive(ctx context.Context, id uuid.UUID, active bool, actor ActorRef) (bool, error) {
	changed, err := s.accounts.SetActive(ctx, id, active)
	if err != nil || !changed {
		return changed, err
	}

	eventType := ActivityEventAccountDeactivated
	if active {
		eventType = ActivityEventAccountReactivated
	}
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		AccountID:  id,
		OccurredAt: s.now().UTC(),
	})
	return true, nil
}

// AcceptorStats counts acceptors per verification status
func (s *AdminService) AcceptorStats(ctx context.Context) (*AcceptorStats, error) {
	counts, err := s.accounts.CountByStatus(ctx, RoleAcceptor)
	if err != nil {
		return nil, err
	}

	stats := &AcceptorStats{
		Pending:  counts[StatusPending],
		InReview: counts[StatusInReview],
		Approved: counts[StatusApproved],
		Rejected: counts[StatusRejected],
	}
	stats.Total = stats.Pending + stats.InReview + stats.Approved + stats.Rejected
	stats.Verified = stats.Approved
	stats.Unverified = stats.Total - stats.Approved
	return stats, nil
}
