package jwtware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNoAuthHeader   = "NO_AUTHORIZATION_HEADER"
	TextCodeTokenFormat    = "INVALID_TOKEN_FORMAT"
	TextCodeNoToken        = "NO_TOKEN_PROVIDED"
	TextCodeInvalidToken   = "INVALID_TOKEN"
	TextCodeTokenExpired   = "TOKEN_EXPIRED"
	TextCodeTokenPayload   = "INVALID_TOKEN_PAYLOAD"
	TextCodeAccountMissing = "ACCOUNT_UNAVAILABLE"
	TextCodeAuthRequired   = "AUTHENTICATION_REQUIRED"
	TextCodeAuthFault      = "AUTHENTICATION_ERROR"

	DefaultContextKey = "principal"
	DefaultAuthScheme = "Bearer"
)

var (
	ErrNoAuthorizationHeader = unauthorized("No authorization header", TextCodeNoAuthHeader)
	ErrInvalidTokenFormat    = unauthorized("Invalid token format", TextCodeTokenFormat)
	ErrNoTokenProvided       = unauthorized("No token provided", TextCodeNoToken)
	ErrInvalidToken          = unauthorized("Invalid token", TextCodeInvalidToken)
	ErrTokenExpired          = unauthorized("Token has expired", TextCodeTokenExpired)
	ErrInvalidTokenPayload   = unauthorized("Invalid token payload", TextCodeTokenPayload)
	ErrAccountUnavailable    = unauthorized("User not found or account is deactivated", TextCodeAccountMissing)
)

// ErrAuthenticationRequired is used by guards mounted without the gate
var ErrAuthenticationRequired = unauthorized("Authentication required", TextCodeAuthRequired)

// ErrAuthenticationFault hides internal failures behind a generic message
var ErrAuthenticationFault = goerrors.New("Authentication error", goerrors.CategoryInternal).
	WithTextCode(TextCodeAuthFault).
	WithCode(goerrors.CodeInternal)

func unauthorized(msg, textCode string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryAuth).
		WithTextCode(textCode).
		WithCode(goerrors.CodeUnauthorized)
}

// Claims is the minimal view of a validated token the gate needs.
// It mirrors the claims type of the intake package without importing it.
type Claims interface {
	UserID() string
	Role() string
}

// TokenValidator validates a raw token string
type TokenValidator interface {
	Validate(token string) (Claims, error)
}

// TokenValidatorFunc adapts a function to TokenValidator
type TokenValidatorFunc func(token string) (Claims, error)

func (f TokenValidatorFunc) Validate(token string) (Claims, error) {
	return f(token)
}

// AccountChecker reports whether the account behind a token may still
// authenticate. Returning (false, nil) rejects the request with 401, any
// error is treated as an internal fault.
type AccountChecker func(ctx context.Context, accountID string) (bool, error)

type Config struct {
	// Filter skips the middleware when it returns true
	Filter func(*fiber.Ctx) bool
	// ErrorHandler renders gate failures. Defaults to a JSON {message} body.
	ErrorHandler fiber.ErrorHandler
	// TokenValidator is required
	TokenValidator TokenValidator
	// AccountChecker is required
	AccountChecker AccountChecker
	// ContextKey is the fiber locals key the claims are stored under
	ContextKey string
	AuthScheme string
	// ContextEnricher propagates claims into the request context.Context
	ContextEnricher func(ctx context.Context, claims Claims) context.Context
	// ExpiredCheck tells expired tokens apart from other validation failures
	ExpiredCheck func(err error) bool
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenValidator == nil {
		panic("jwtware: TokenValidator is required")
	}

	if cfg.AccountChecker == nil {
		panic("jwtware: AccountChecker is required")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = DefaultAuthScheme
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.ExpiredCheck == nil {
		cfg.ExpiredCheck = isExpired
	}

	return cfg
}

// New returns the bearer token gate. Checks run in order and the first
// failure ends the request.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		claims, err := cfg.authenticate(c)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, claims)

		if cfg.ContextEnricher != nil {
			c.SetUserContext(cfg.ContextEnricher(c.UserContext(), claims))
		}

		return c.Next()
	}
}

func (cfg Config) authenticate(c *fiber.Ctx) (Claims, error) {
	raw, err := ExtractBearerToken(c.Get(fiber.HeaderAuthorization), cfg.AuthScheme)
	if err != nil {
		return nil, err
	}

	claims, err := cfg.TokenValidator.Validate(raw)
	if err != nil {
		if cfg.ExpiredCheck(err) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, ErrInvalidTokenPayload) {
			return nil, ErrInvalidTokenPayload
		}
		return nil, ErrInvalidToken
	}

	if claims == nil || claims.UserID() == "" || claims.Role() == "" {
		return nil, ErrInvalidTokenPayload
	}

	ok, err := cfg.AccountChecker(c.UserContext(), claims.UserID())
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryNotFound {
			return nil, ErrAccountUnavailable
		}
		fault := ErrAuthenticationFault.Clone()
		fault.Source = err
		return nil, fault
	}

	if !ok {
		return nil, ErrAccountUnavailable
	}

	return claims, nil
}

// ExtractBearerToken pulls the token out of an Authorization header value
func ExtractBearerToken(header, scheme string) (string, error) {
	if header == "" {
		return "", ErrNoAuthorizationHeader
	}

	if strings.TrimSpace(header) == scheme {
		return "", ErrNoTokenProvided
	}

	prefix := scheme + " "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrInvalidTokenFormat
	}

	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrNoTokenProvided
	}

	return token, nil
}

// ClaimsFromLocals returns the claims stored by the gate
func ClaimsFromLocals(c *fiber.Ctx, key string) (Claims, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	claims, ok := c.Locals(key).(Claims)
	return claims, ok && claims != nil
}

// DefaultErrorHandler writes {"message": ...} with the error's HTTP code
func DefaultErrorHandler(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = ErrAuthenticationFault
	}

	code := richErr.Code
	if code == 0 {
		code = fiber.StatusUnauthorized
	}

	message := richErr.Message
	if code >= fiber.StatusInternalServerError {
		message = ErrAuthenticationFault.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"message":  message,
		"textCode": richErr.TextCode,
	})
}

func isExpired(err error) bool {
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeTokenExpired
}
