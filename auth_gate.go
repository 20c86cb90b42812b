package intake

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/goliatone/go-intake/middleware/jwtware"
)

// AuthGateConfig wires the bearer token gate to the token service and
// the account store
type AuthGateConfig struct {
	Tokens       TokenService
	Accounts     Accounts
	Logger       Logger
	ContextKey   string
	AuthScheme   string
	Filter       func(*fiber.Ctx) bool
	ErrorHandler fiber.ErrorHandler
}

// AuthGate returns middleware that authenticates every request with a
// bearer token and attaches the Principal. Only the active flag of the
// account is read, never the full record.
func AuthGate(cfg AuthGateConfig) fiber.Handler {
	logger := normalizeLogger(cfg.Logger)

	errorHandler := cfg.ErrorHandler
	if errorHandler == nil {
		errorHandler = func(c *fiber.Ctx, err error) error {
			if HasTextCode(err, jwtware.TextCodeAuthFault) {
				logger.Error("auth gate fault", "path", c.Path(), "error", err)
			}
			return jwtware.DefaultErrorHandler(c, err)
		}
	}

	return jwtware.New(jwtware.Config{
		Filter:         cfg.Filter,
		ErrorHandler:   errorHandler,
		ContextKey:     cfg.ContextKey,
		AuthScheme:     cfg.AuthScheme,
		TokenValidator: tokenValidatorAdapter(cfg.Tokens),
		AccountChecker: accountCheckerAdapter(cfg.Accounts),
		ContextEnricher: func(ctx context.Context, claims jwtware.Claims) context.Context {
			p, err := principalFromClaims(claims)
			if err != nil {
				return ctx
			}
			return WithPrincipal(ctx, p)
		},
	})
}

// AuthGateFromConfig reads the context key and scheme from cfg
func AuthGateFromConfig(cfg Config, tokens TokenService, accounts Accounts, logger Logger) fiber.Handler {
	return AuthGate(AuthGateConfig{
		Tokens:     tokens,
		Accounts:   accounts,
		Logger:     logger,
		ContextKey: cfg.GetContextKey(),
		AuthScheme: cfg.GetAuthScheme(),
	})
}

func tokenValidatorAdapter(tokens TokenService) jwtware.TokenValidator {
	if tokens == nil {
		return nil
	}
	return jwtware.TokenValidatorFunc(func(raw string) (jwtware.Claims, error) {
		claims, err := tokens.Validate(raw)
		if err != nil {
			return nil, err
		}
		if claims.UID == "" || !claims.UserRole.IsValid() {
			return nil, ErrInvalidTokenPayload
		}
		if _, err := uuid.Parse(claims.UID); err != nil {
			return nil, ErrInvalidTokenPayload
		}
		return claims, nil
	})
}

func accountCheckerAdapter(accounts Accounts) jwtware.AccountChecker {
	if accounts == nil {
		return nil
	}
	return func(ctx context.Context, accountID string) (bool, error) {
		id, err := uuid.Parse(accountID)
		if err != nil {
			return false, nil
		}
		return accounts.IsActive(ctx, id)
	}
}
