package intake

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Authenticator registers accounts and exchanges credentials for tokens
type Authenticator interface {
	Register(ctx context.Context, msg RegisterAccountMessage) (*AuthResult, error)
	Login(ctx context.Context, payload LoginPayload) (*AuthResult, error)
	Me(ctx context.Context, accountID uuid.UUID) (*Account, error)
}

// LoginPayload carries credentials. Role is optional and, when set,
// must match the account role.
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// AuthResult is returned by register and login
type AuthResult struct {
	Token string   `json:"token"`
	User  *Account `json:"user"`
}

type burner interface {
	Burn(password string)
}

type Auther struct {
	accounts         Accounts
	hasher           PasswordHasher
	tokenService     TokenService
	register         *RegisterAccountHandler
	logger           Logger
	activitySink     ActivitySink
	tracer           trace.Tracer
	deterministicIDs bool
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(accounts Accounts, hasher PasswordHasher, tokens TokenService) *Auther {
	return &Auther{
		accounts:     accounts,
		hasher:       hasher,
		tokenService: tokens,
		register:     NewRegisterAccountHandler(accounts, hasher),
		logger:       defLogger(),
		activitySink: noopActivitySink{},
		tracer:       defTracer(),
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = normalizeLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithDeterministicIDs derives account ids from the email address
func (s *Auther) WithDeterministicIDs(enabled bool) *Auther {
	s.deterministicIDs = enabled
	return s
}

// WithClock is used by tests to pin account timestamps
func (s *Auther) WithClock(now func() time.Time) *Auther {
	if now != nil {
		s.register.now = now
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

func (s *Auther) Register(ctx context.Context, msg RegisterAccountMessage) (result *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.register", trace.WithAttributes(
		attribute.String("account.role", string(msg.Role)),
	))
	defer func() { endSpan(span, err) }()

	msg.UseHashid = msg.UseHashid || s.deterministicIDs

	account, err := s.register.Execute(ctx, msg)
	if err != nil {
		s.logger.Warn("register failed", "email", NormalizeEmail(msg.Email), "error", err)
		return nil, err
	}

	token, err := s.tokenService.Issue(account.ID, account.Role)
	if err != nil {
		s.logger.Error("register token issue failed", "account_id", account.ID.String(), "error", err)
		return nil, err
	}

	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType:  ActivityEventRegistered,
		Actor:      ActorRef{ID: account.ID, Type: ActorTypeApplicant},
		AccountID:  account.ID,
		ToStatus:   account.VerificationStatus,
		Metadata:   map[string]any{"role": string(account.Role)},
		OccurredAt: account.CreatedAt,
	})

	return &AuthResult{Token: token, User: account}, nil
}

// Login checks the password before looking at account state so that
// account details are only disclosed to callers holding the password.
func (s *Auther) Login(ctx context.Context, payload LoginPayload) (result *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.login")
	defer func() { endSpan(span, err) }()

	email := NormalizeEmail(payload.Email)
	if email == "" || payload.Password == "" {
		return nil, withMessage(ErrValidation, "Email and password are required")
	}

	var requested Role
	if strings.TrimSpace(payload.Role) != "" {
		if requested, err = ParseRole(payload.Role); err != nil {
			return nil, err
		}
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if !isCategory(err, goerrors.CategoryNotFound) {
			s.logger.Error("login lookup failed", "error", err)
			return nil, err
		}
		if b, ok := s.hasher.(burner); ok {
			b.Burn(payload.Password)
		}
		s.loginFailed(ctx, uuid.Nil, email, "unknown_email")
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(payload.Password, account.PasswordHash) {
		s.loginFailed(ctx, account.ID, email, "bad_password")
		return nil, ErrInvalidCredentials
	}

	if !account.IsActive {
		s.loginFailed(ctx, account.ID, email, "deactivated")
		return nil, ErrAccountDeactivated
	}

	if requested != "" && requested != account.Role {
		s.loginFailed(ctx, account.ID, email, "role_mismatch")
		return nil, withMessage(ErrRoleMismatch, "This account is registered as %s. Please select the correct role.", account.Role.Label())
	}

	token, err := s.tokenService.Issue(account.ID, account.Role)
	if err != nil {
		s.logger.Error("login token issue failed", "account_id", account.ID.String(), "error", err)
		return nil, err
	}

	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: account.ID, Type: string(account.Role)},
		AccountID: account.ID,
		Metadata:  map[string]any{"identifier": email},
	})

	return &AuthResult{Token: token, User: account}, nil
}

// Me loads the full account of the caller
func (s *Auther) Me(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	return s.accounts.FindByID(ctx, accountID)
}

func (s *Auther) loginFailed(ctx context.Context, accountID uuid.UUID, identifier, reason string) {
	s.logger.Info("login rejected", "identifier", identifier, "reason", reason)
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     ActorRef{ID: accountID, Type: "unknown"},
		AccountID: accountID,
		Metadata: map[string]any{
			"identifier": identifier,
			"reason":     reason,
		},
	})
}
