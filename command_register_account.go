package intake

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

const (
	MinPasswordLength = 6
	// bcrypt ignores input past 72 bytes
	MaxPasswordLength = 72
)

// RegisterAccountMessage creates a new account. Role defaults to donor.
type RegisterAccountMessage struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Role      Role    `json:"role"`
	Profile   Profile `json:"-"`
	UseHashid bool    `json:"-"`
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

func (e *RegisterAccountMessage) normalize() {
	e.FirstName = strings.TrimSpace(e.FirstName)
	e.LastName = strings.TrimSpace(e.LastName)
	e.Email = NormalizeEmail(e.Email)
	if e.Role == "" {
		e.Role = RoleDonor
	}
}

// Validate checks presence first so a sparse form gets a single message
func (e RegisterAccountMessage) Validate() error {
	if e.FirstName == "" || e.LastName == "" || e.Email == "" || e.Password == "" {
		return withMessage(ErrValidation, "All fields are required")
	}

	if !e.Role.IsValid() {
		return ErrInvalidRole
	}

	err := validation.ValidateStruct(&e,
		validation.Field(&e.FirstName, validation.Length(1, 100)),
		validation.Field(&e.LastName, validation.Length(1, 100)),
		validation.Field(&e.Email, validation.Length(3, 254), is.Email),
		validation.Field(&e.Password, validation.Length(MinPasswordLength, MaxPasswordLength)),
	)
	return validationError(err)
}

// RegisterAccountHandler hashes the password and persists the account
type RegisterAccountHandler struct {
	accounts Accounts
	hasher   PasswordHasher
	now      func() time.Time
}

func NewRegisterAccountHandler(accounts Accounts, hasher PasswordHasher) *RegisterAccountHandler {
	return &RegisterAccountHandler{
		accounts: accounts,
		hasher:   hasher,
		now:      time.Now,
	}
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) (*Account, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) (*Account, error) {
	event.normalize()
	if err := event.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	hash, err := h.hasher.Hash(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	now := h.now().UTC()
	profile := event.Profile
	if profile == nil {
		profile = DefaultProfile(event.Role, now)
	}
	if profile.Kind() != event.Role {
		return nil, ErrInvalidRole
	}

	account := &Account{
		Email:              event.Email,
		FirstName:          event.FirstName,
		LastName:           event.LastName,
		PasswordHash:       hash,
		Role:               event.Role,
		IsActive:           true,
		Profile:            ProfileEnvelope{Profile: profile},
		VerificationStatus: StatusPending,
		CreatedAt:          now,
	}

	if event.UseHashid {
		if id, err := hashid.NewUUID(event.Email); err == nil {
			account.ID = id
		}
	}

	return h.accounts.Create(ctx, account)
}
