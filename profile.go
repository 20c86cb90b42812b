package intake

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/nyaruka/phonenumbers"
)

// NotProvided fills placeholder fields on freshly registered accounts
const NotProvided = "Not provided"

const minZakatReasonLength = 100

// Profile is the role specific part of an account. The concrete type
// always matches the account role.
type Profile interface {
	Kind() Role
	Validate() error
	phoneFields() []*string
}

// Date accepts "2006-01-02" or RFC3339 on input and writes "2006-01-02"
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func NewDate(t time.Time) Date {
	return Date{Time: t.UTC().Truncate(24 * time.Hour)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		d.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{dateLayout, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", s)
}

// ContactDetails is shared by donors and acceptors
type ContactDetails struct {
	Phone            string `json:"phone"`
	Address          string `json:"address"`
	City             string `json:"city"`
	Country          string `json:"country"`
	PostalCode       string `json:"postalCode"`
	NationalID       string `json:"nationalId"`
	NationalIDExpiry Date   `json:"nationalIdExpiry"`
}

func (c ContactDetails) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Phone, validation.Required, validation.Length(1, 32)),
		validation.Field(&c.Address, validation.Required, validation.Length(1, 300)),
		validation.Field(&c.City, validation.Required, validation.Length(1, 100)),
		validation.Field(&c.Country, validation.Required, validation.Length(1, 100)),
		validation.Field(&c.PostalCode, validation.Required, validation.Length(1, 20)),
		validation.Field(&c.NationalID, validation.Required, validation.Length(1, 50)),
		validation.Field(&c.NationalIDExpiry, validation.By(requiredDate)),
	)
}

// BankDetails is shared by donors and acceptors
type BankDetails struct {
	BankName          string `json:"bankName"`
	BankBranch        string `json:"bankBranch"`
	BankAccountNumber string `json:"bankAccountNumber"`
}

func (b BankDetails) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.BankName, validation.Required, validation.Length(1, 100)),
		validation.Field(&b.BankBranch, validation.Required, validation.Length(1, 100)),
		validation.Field(&b.BankAccountNumber, validation.Required, validation.Length(1, 50)),
	)
}

// OrganizationTypes accepted for donors
var OrganizationTypes = []string{
	"Non-Profit Organization",
	"Charity",
	"Religious Institution",
	"Community Center",
	"Educational Institution",
	"Healthcare Facility",
	"Other",
}

// NeedTypes accepted for acceptors
var NeedTypes = []string{
	"Food",
	"Education",
	"Healthcare",
	"Shelter",
	"Clothing",
	"Financial Aid",
	"Emergency Relief",
	"Other",
}

// DonorProfile describes an organization that gives
type DonorProfile struct {
	ContactDetails
	BankDetails
	OrganizationName   string `json:"organizationName"`
	OrganizationType   string `json:"organizationType"`
	RegistrationNumber string `json:"registrationNumber"`
	RegistrationDate   Date   `json:"registrationDate"`
	RegistrationExpiry Date   `json:"registrationExpiry"`
}

func (p *DonorProfile) Kind() Role { return RoleDonor }

func (p *DonorProfile) Validate() error {
	own := validation.ValidateStruct(p,
		validation.Field(&p.OrganizationName, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.OrganizationType, validation.Required, validation.In(toAny(OrganizationTypes)...)),
		validation.Field(&p.RegistrationNumber, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.RegistrationDate, validation.By(requiredDate)),
		validation.Field(&p.RegistrationExpiry, validation.By(requiredDate)),
	)
	return mergeValidation(own, p.ContactDetails.Validate(), p.BankDetails.Validate())
}

func (p *DonorProfile) phoneFields() []*string {
	return []*string{&p.Phone}
}

// EmergencyContact is required for acceptors
type EmergencyContact struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
}

func (e EmergencyContact) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.Relationship, validation.Required, validation.Length(1, 100)),
		validation.Field(&e.Phone, validation.Required, validation.Length(1, 32)),
	)
}

// AcceptorProfile describes a household applying for support
type AcceptorProfile struct {
	ContactDetails
	BankDetails
	FamilySize       int              `json:"familySize"`
	MonthlyIncome    float64          `json:"monthlyIncome"`
	MonthlyExpenses  float64          `json:"monthlyExpenses"`
	Assets           float64          `json:"assets"`
	Liabilities      float64          `json:"liabilities"`
	ZakatReason      string           `json:"zakatReason"`
	Needs            []string         `json:"needs"`
	EmergencyContact EmergencyContact `json:"emergencyContact"`
}

func (p *AcceptorProfile) Kind() Role { return RoleAcceptor }

func (p *AcceptorProfile) Validate() error {
	own := validation.ValidateStruct(p,
		validation.Field(&p.FamilySize, validation.Required, validation.Min(1)),
		validation.Field(&p.MonthlyIncome, validation.Min(0.0)),
		validation.Field(&p.MonthlyExpenses, validation.Min(0.0)),
		validation.Field(&p.Assets, validation.Min(0.0)),
		validation.Field(&p.Liabilities, validation.Min(0.0)),
		validation.Field(&p.ZakatReason, validation.Required, validation.Length(minZakatReasonLength, 0)),
		validation.Field(&p.Needs, validation.By(validNeeds)),
	)

	var nested error
	if err := p.EmergencyContact.Validate(); err != nil {
		nested = validation.Errors{"emergencyContact": err}
	}

	return mergeValidation(own, p.ContactDetails.Validate(), p.BankDetails.Validate(), nested)
}

func (p *AcceptorProfile) phoneFields() []*string {
	return []*string{&p.Phone, &p.EmergencyContact.Phone}
}

// AdminProfile carries no required data
type AdminProfile struct {
	Phone string `json:"phone,omitempty"`
}

func (p *AdminProfile) Kind() Role { return RoleAdmin }

func (p *AdminProfile) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Phone, validation.Length(0, 32)),
	)
}

func (p *AdminProfile) phoneFields() []*string {
	if p.Phone == "" {
		return nil
	}
	return []*string{&p.Phone}
}

// NewProfile returns an empty profile of the kind matching role
func NewProfile(role Role) (Profile, error) {
	switch role {
	case RoleDonor:
		return &DonorProfile{}, nil
	case RoleAcceptor:
		return &AcceptorProfile{}, nil
	case RoleAdmin:
		return &AdminProfile{}, nil
	default:
		return nil, ErrInvalidRole
	}
}

// DefaultProfile builds the placeholder profile stored at registration.
// Placeholders are not expected to pass Validate.
func DefaultProfile(role Role, now time.Time) Profile {
	nextYear := NewDate(now.AddDate(1, 0, 0))
	contact := ContactDetails{
		Phone:            NotProvided,
		Address:          NotProvided,
		City:             NotProvided,
		Country:          NotProvided,
		PostalCode:       NotProvided,
		NationalID:       NotProvided,
		NationalIDExpiry: nextYear,
	}
	bank := BankDetails{
		BankName:          NotProvided,
		BankBranch:        NotProvided,
		BankAccountNumber: NotProvided,
	}

	switch role {
	case RoleDonor:
		return &DonorProfile{
			ContactDetails:     contact,
			BankDetails:        bank,
			OrganizationName:   NotProvided,
			OrganizationType:   "Other",
			RegistrationNumber: NotProvided,
			RegistrationDate:   NewDate(now),
			RegistrationExpiry: nextYear,
		}
	case RoleAcceptor:
		return &AcceptorProfile{
			ContactDetails: contact,
			BankDetails:    bank,
			FamilySize:     1,
			ZakatReason:    NotProvided,
			Needs:          []string{},
			EmergencyContact: EmergencyContact{
				Name:         NotProvided,
				Relationship: NotProvided,
				Phone:        NotProvided,
			},
		}
	default:
		return &AdminProfile{}
	}
}

// MergeProfile overlays a partial JSON object on top of the current
// profile. Keys that do not belong to the profile kind are ignored.
func MergeProfile(current Profile, role Role, patch json.RawMessage) (Profile, error) {
	if current == nil {
		current = DefaultProfile(role, time.Now())
	}
	if current.Kind() != role {
		return nil, ErrInvalidRole
	}

	base, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}

	incoming := map[string]any{}
	if err := json.Unmarshal(patch, &incoming); err != nil {
		return nil, withMessage(ErrValidation, "Invalid profile data format")
	}

	for k, v := range incoming {
		if k == "documents" {
			continue
		}
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}

	next, err := NewProfile(role)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(raw, next); err != nil {
		return nil, withMessage(ErrValidation, "Invalid profile data format")
	}

	return next, nil
}

// ProfilePolicy validates a profile and normalizes its phone numbers
type ProfilePolicy struct {
	// PhoneRegion is the region used for numbers without a country code
	PhoneRegion string
}

// Check validates p in place. Phone numbers are rewritten to E.164.
func (pp ProfilePolicy) Check(p Profile) error {
	if p == nil {
		return withMessage(ErrValidation, "Profile is required")
	}

	if err := p.Validate(); err != nil {
		return validationError(err)
	}

	region := pp.PhoneRegion
	if region == "" {
		region = "US"
	}

	for _, field := range p.phoneFields() {
		normalized, err := NormalizePhone(*field, region)
		if err != nil {
			return withMetadata(withMessage(ErrValidation, "Invalid phone number: %s", *field), map[string]any{
				"phone": *field,
			})
		}
		*field = normalized
	}

	return nil
}

// NormalizePhone parses a phone number and formats it as E.164
func NormalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// ProfileEnvelope stores a Profile in a single JSON column as
// {"kind": role, "data": {...}} and serializes as the bare profile.
type ProfileEnvelope struct {
	Profile Profile
}

type profileRecord struct {
	Kind Role            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (e ProfileEnvelope) Value() (driver.Value, error) {
	if e.Profile == nil {
		return nil, nil
	}
	data, err := json.Marshal(e.Profile)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(profileRecord{Kind: e.Profile.Kind(), Data: data})
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

func (e *ProfileEnvelope) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		e.Profile = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("profile: unsupported column type %T", src)
	}

	var rec profileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("profile: %w", err)
	}

	p, err := NewProfile(rec.Kind)
	if err != nil {
		return fmt.Errorf("profile: unknown kind %q", rec.Kind)
	}

	if len(rec.Data) > 0 {
		if err := json.Unmarshal(rec.Data, p); err != nil {
			return fmt.Errorf("profile: %w", err)
		}
	}

	e.Profile = p
	return nil
}

func (e ProfileEnvelope) MarshalJSON() ([]byte, error) {
	if e.Profile == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Profile)
}

func requiredDate(value any) error {
	d, ok := value.(Date)
	if !ok || d.IsZero() {
		return errors.New("cannot be blank")
	}
	return nil
}

func validNeeds(value any) error {
	needs, _ := value.([]string)
	for _, n := range needs {
		if !contains(NeedTypes, n) {
			return fmt.Errorf("unknown need %q", n)
		}
	}
	return nil
}

func mergeValidation(errs ...error) error {
	merged := validation.Errors{}
	for _, err := range errs {
		if err == nil {
			continue
		}
		if ve, ok := err.(validation.Errors); ok {
			for k, v := range ve {
				merged[k] = v
			}
			continue
		}
		return err
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
