package intake

import "strings"

// Role is fixed at account creation
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleDonor    Role = "donor"
	RoleAcceptor Role = "acceptor"
)

// Roles lists every valid role
var Roles = []Role{RoleAdmin, RoleDonor, RoleAcceptor}

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleDonor, RoleAcceptor:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// Label is the human facing name used in messages, e.g. "a donor".
func (r Role) Label() string {
	switch r {
	case RoleAdmin, RoleAcceptor:
		return "an " + string(r)
	default:
		return "a " + string(r)
	}
}

// ParseRole normalizes and validates a role string
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

func joinRoles(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}

// VerificationStatus tracks where an applicant is in manual review
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusInReview VerificationStatus = "in_review"
	StatusApproved VerificationStatus = "approved"
	StatusRejected VerificationStatus = "rejected"
)

// Statuses lists every valid verification status
var Statuses = []VerificationStatus{StatusPending, StatusInReview, StatusApproved, StatusRejected}

func (s VerificationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInReview, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

func (s VerificationStatus) String() string {
	return string(s)
}

// ParseStatus validates a status string
func ParseStatus(s string) (VerificationStatus, error) {
	st := VerificationStatus(strings.TrimSpace(s))
	if !st.IsValid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}
