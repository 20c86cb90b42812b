package intake

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is the aggregate root for a platform user. Documents, history
// and notes live in child tables and are only ever appended to.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID                  uuid.UUID            `bun:"id,pk,type:uuid" json:"id"`
	Email               string               `bun:"email,notnull,unique" json:"email"`
	FirstName           string               `bun:"first_name,notnull" json:"firstName"`
	LastName            string               `bun:"last_name,notnull" json:"lastName"`
	PasswordHash        string               `bun:"password_hash,notnull" json:"-"`
	Role                Role                 `bun:"role,notnull" json:"role"`
	IsActive            bool                 `bun:"is_active,notnull" json:"isActive"`
	Profile             ProfileEnvelope      `bun:"profile,type:text" json:"profile"`
	VerificationStatus  VerificationStatus   `bun:"verification_status,notnull" json:"verificationStatus"`
	Documents           []*Document          `bun:"rel:has-many,join:id=account_id" json:"documents"`
	VerificationHistory []*VerificationEvent `bun:"rel:has-many,join:id=account_id" json:"verificationHistory"`
	VerificationNotes   []*VerificationNote  `bun:"rel:has-many,join:id=account_id" json:"verificationNotes"`
	CreatedAt           time.Time            `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt           time.Time            `bun:"updated_at,notnull" json:"updatedAt"`
}

// Summary is the short form used when an account shows up as an actor
func (a *Account) Summary() *AccountSummary {
	if a == nil {
		return nil
	}
	return &AccountSummary{
		ID:        a.ID,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     a.Email,
		Role:      a.Role,
	}
}

// FindDocument returns the account's document with the given id
func (a *Account) FindDocument(id uuid.UUID) (*Document, bool) {
	for _, d := range a.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

// AccountSummary is embedded in history responses
type AccountSummary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Role      Role      `json:"role,omitempty"`
}

// DocumentType classifies an uploaded document
type DocumentType string

const (
	DocumentNationalID      DocumentType = "National ID"
	DocumentProofOfAddress  DocumentType = "Proof of Address"
	DocumentBankStatement   DocumentType = "Bank Statement"
	DocumentIncomeStatement DocumentType = "Income Statement"
	DocumentOrgRegistration DocumentType = "Organization Registration"
	DocumentOther           DocumentType = "Other"
)

// DocumentTypes lists the accepted document types
var DocumentTypes = []DocumentType{
	DocumentNationalID,
	DocumentProofOfAddress,
	DocumentBankStatement,
	DocumentIncomeStatement,
	DocumentOrgRegistration,
	DocumentOther,
}

// ParseDocumentType defaults empty input to National ID
func ParseDocumentType(s string) (DocumentType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DocumentNationalID, nil
	}
	for _, t := range DocumentTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", withMessage(ErrValidation, "Invalid document type: %s", s)
}

// Document is an uploaded file attached to an account. URL holds the
// storage locator, not necessarily a fetchable address.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:doc"`

	Seq        int64        `bun:"seq,pk,autoincrement" json:"-"`
	ID         uuid.UUID    `bun:"id,notnull,unique,type:uuid" json:"id"`
	AccountID  uuid.UUID    `bun:"account_id,notnull,type:uuid" json:"-"`
	Type       DocumentType `bun:"type,notnull" json:"type"`
	Filename   string       `bun:"filename,notnull" json:"filename"`
	URL        string       `bun:"locator,notnull" json:"url"`
	UploadedAt time.Time    `bun:"uploaded_at,notnull" json:"uploadedAt"`
	Verified   bool         `bun:"verified,notnull" json:"verified"`
}

// VerificationEvent is one entry of the status audit trail
type VerificationEvent struct {
	bun.BaseModel `bun:"table:verification_events,alias:ve"`

	ID        int64              `bun:"id,pk,autoincrement" json:"-"`
	AccountID uuid.UUID          `bun:"account_id,notnull,type:uuid" json:"-"`
	Status    VerificationStatus `bun:"status,notnull" json:"status"`
	ChangedBy *uuid.UUID         `bun:"changed_by,type:uuid,nullzero" json:"changedBy"`
	Reason    string             `bun:"reason,notnull" json:"reason"`
	ChangedAt time.Time          `bun:"changed_at,notnull" json:"changedAt"`

	Actor *AccountSummary `bun:"-" json:"changedByUser,omitempty"`
}

// VerificationNote is a free text remark left by a reviewer
type VerificationNote struct {
	bun.BaseModel `bun:"table:verification_notes,alias:vn"`

	ID        int64     `bun:"id,pk,autoincrement" json:"-"`
	AccountID uuid.UUID `bun:"account_id,notnull,type:uuid" json:"-"`
	Note      string    `bun:"note,notnull" json:"note"`
	AddedBy   uuid.UUID `bun:"added_by,notnull,type:uuid" json:"addedBy"`
	AddedAt   time.Time `bun:"added_at,notnull" json:"addedAt"`

	Actor *AccountSummary `bun:"-" json:"addedByUser,omitempty"`
}

// ActorRef identifies who triggered a change
type ActorRef struct {
	ID   uuid.UUID
	Type string
}

const (
	ActorTypeAdmin     = "admin"
	ActorTypeApplicant = "applicant"
	ActorTypeSystem    = "system"
)

// AdminActor builds an ActorRef for an administrator
func AdminActor(id uuid.UUID) ActorRef {
	return ActorRef{ID: id, Type: ActorTypeAdmin}
}

func (a ActorRef) ptr() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

// NormalizeEmail trims and lower-cases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
