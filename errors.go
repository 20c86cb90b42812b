package intake

import (
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-intake/middleware/jwtware"
)

const (
	TextCodeValidation       = "VALIDATION_FAILED"
	TextCodeInvalidRole      = "INVALID_ROLE"
	TextCodeInvalidStatus    = "INVALID_VERIFICATION_STATUS"
	TextCodeInvalidUpdates   = "INVALID_UPDATES"
	TextCodeDuplicateEmail   = "DUPLICATE_EMAIL"
	TextCodeInvalidLogin     = "INVALID_CREDENTIALS"
	TextCodeAccountInactive  = "ACCOUNT_DEACTIVATED"
	TextCodeRoleMismatch     = "ROLE_MISMATCH"
	TextCodeForbidden        = "FORBIDDEN"
	TextCodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	TextCodeDocumentNotFound = "DOCUMENT_NOT_FOUND"
	TextCodeInvalidUpload    = "INVALID_UPLOAD"
	TextCodeDocumentRequired = "DOCUMENT_REQUIRED"
	TextCodeTransition       = "INVALID_STATUS_TRANSITION"
	TextCodeDocsUnverified   = "DOCUMENTS_NOT_VERIFIED"
	TextCodeRateLimited      = "RATE_LIMITED"
	TextCodeInternal         = "INTERNAL_ERROR"
)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrValidation wraps field validation failures. Field details live in Metadata.
var ErrValidation = goerrors.New("Validation failed", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidRole is returned when a role outside admin, donor, acceptor is used
var ErrInvalidRole = goerrors.New("Invalid role specified", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRole).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidStatus is returned for verification statuses outside the known set
var ErrInvalidStatus = goerrors.New("Invalid status", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidStatus).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidUpdates is returned when an update names fields that are not editable
var ErrInvalidUpdates = goerrors.New("Invalid updates", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidUpdates).
	WithCode(goerrors.CodeBadRequest)

// ErrDuplicateEmail is returned when an account already owns the email.
var ErrDuplicateEmail = goerrors.New("User already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials never says which part of the credentials was wrong.
var ErrInvalidCredentials = goerrors.New("Invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidLogin).
	WithCode(goerrors.CodeUnauthorized)

var ErrAccountDeactivated = goerrors.New("Account is deactivated. Please contact support.", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountInactive).
	WithCode(goerrors.CodeUnauthorized)

var ErrRoleMismatch = goerrors.New("Role does not match account", goerrors.CategoryAuth).
	WithTextCode(TextCodeRoleMismatch).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned when the principal lacks a required role
var ErrForbidden = goerrors.New("Access denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrAccountNotFound = goerrors.New("User not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrDocumentNotFound = goerrors.New("Document not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeDocumentNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrInvalidUpload = goerrors.New("Invalid file upload", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidUpload).
	WithCode(goerrors.CodeBadRequest)

var ErrDocumentRequired = goerrors.New("At least one document is required for acceptors", goerrors.CategoryValidation).
	WithTextCode(TextCodeDocumentRequired).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned when transition rules reject a status change.
var ErrInvalidTransition = goerrors.New("Invalid verification status transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeTransition).
	WithCode(goerrors.CodeBadRequest)

var ErrDocumentsNotVerified = goerrors.New("All documents must be verified before approval", goerrors.CategoryValidation).
	WithTextCode(TextCodeDocsUnverified).
	WithCode(goerrors.CodeBadRequest)

var ErrRateLimited = goerrors.New("Too many requests, please try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(429)

// Token and gate failures are owned by the jwtware middleware so both
// packages agree on the exact error values.
var (
	ErrTokenExpired        = jwtware.ErrTokenExpired
	ErrTokenMalformed      = jwtware.ErrInvalidToken
	ErrNoAuthHeader        = jwtware.ErrNoAuthorizationHeader
	ErrInvalidTokenFormat  = jwtware.ErrInvalidTokenFormat
	ErrNoTokenProvided     = jwtware.ErrNoTokenProvided
	ErrInvalidTokenPayload = jwtware.ErrInvalidTokenPayload
	ErrInactiveAccount     = jwtware.ErrAccountUnavailable
	ErrAuthRequired        = jwtware.ErrAuthenticationRequired
)

// HasTextCode reports whether err is a rich error carrying the given text code
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

func isCategory(err error, category goerrors.Category) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == category
}

func withMetadata(base *goerrors.Error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	return clone.WithMetadata(meta)
}

func withMessage(base *goerrors.Error, format string, args ...any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	clone.Message = fmt.Sprintf(format, args...)
	return clone
}

// validationError converts ozzo-validation output into ErrValidation. The
// message lists the failing fields so API clients get a useful 400 body.
func validationError(err error) error {
	if err == nil {
		return nil
	}

	errs, ok := err.(validation.Errors)
	if !ok {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return err
		}
		clone := ErrValidation.Clone()
		clone.Source = err
		clone.Message = err.Error()
		return clone
	}

	fields := flattenValidationErrors("", errs)
	parts := make([]string, 0, len(fields))
	for _, key := range sortedKeys(fields) {
		parts = append(parts, key+": "+fields[key])
	}

	clone := ErrValidation.Clone()
	clone.Source = err
	clone.Message = "Validation failed: " + strings.Join(parts, "; ")
	meta := make(map[string]any, len(fields))
	for k, v := range fields {
		meta[k] = v
	}
	return clone.WithMetadata(meta)
}

func flattenValidationErrors(prefix string, errs validation.Errors) map[string]string {
	out := map[string]string{}
	for field, err := range errs {
		if err == nil {
			continue
		}
		key := field
		if prefix != "" {
			key = prefix + "." + field
		}
		if nested, ok := err.(validation.Errors); ok {
			for k, v := range flattenValidationErrors(key, nested) {
				out[k] = v
			}
			continue
		}
		out[key] = err.Error()
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
