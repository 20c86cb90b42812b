package intake

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-intake/middleware/jwtware"
)

var principalCtxKey = &contextKey{"principal"}

type contextKey struct {
	name string
}

// WithPrincipal sets the authenticated caller in the given context
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFromContext finds the authenticated caller in the context
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(Principal)
	return p, ok
}

// PrincipalFromFiber reads the caller stored by the auth gate
func PrincipalFromFiber(c *fiber.Ctx, key string) (Principal, bool) {
	if p, ok := PrincipalFromContext(c.UserContext()); ok {
		return p, true
	}

	claims, ok := jwtware.ClaimsFromLocals(c, key)
	if !ok {
		return Principal{}, false
	}

	p, err := principalFromClaims(claims)
	if err != nil {
		return Principal{}, false
	}
	return p, true
}
