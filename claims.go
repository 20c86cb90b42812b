package intake

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the token payload issued at login and registration
type Claims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid,omitempty"`
	UserRole Role   `json:"role,omitempty"`
}

// UserID returns the account id
func (c *Claims) UserID() string {
	return c.UID
}

// Role returns the account role as a string
func (c *Claims) Role() string {
	return string(c.UserRole)
}

// Expires returns the expiration time
func (c *Claims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *Claims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// Principal is the authenticated caller attached to a request
type Principal struct {
	AccountID uuid.UUID
	Role      Role
}

// HasRole reports whether the principal holds any of roles
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Actor returns the principal as an ActorRef
func (p Principal) Actor() ActorRef {
	kind := ActorTypeApplicant
	if p.Role == RoleAdmin {
		kind = ActorTypeAdmin
	}
	return ActorRef{ID: p.AccountID, Type: kind}
}

func principalFromClaims(c interface {
	UserID() string
	Role() string
}) (Principal, error) {
	id, err := uuid.Parse(c.UserID())
	if err != nil {
		return Principal{}, ErrInvalidTokenPayload
	}
	role := Role(c.Role())
	if !role.IsValid() {
		return Principal{}, ErrInvalidTokenPayload
	}
	return Principal{AccountID: id, Role: role}, nil
}
