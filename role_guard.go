package intake

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-intake/middleware/jwtware"
	"github.com/google/uuid"
)

// Authorize allows the principal when it holds any of roles
func Authorize(p Principal, roles ...Role) error {
	if p.HasRole(roles...) {
		return nil
	}
	return withMetadata(
		withMessage(ErrForbidden, "Access denied. This action requires one of the following roles: %s", joinRoles(roles)),
		map[string]any{"role": string(p.Role)},
	)
}

// RequireRoles rejects callers without one of roles. It answers 401
// when mounted without the auth gate.
func RequireRoles(roles ...Role) fiber.Handler {
	return RequireRolesWithKey(jwtware.DefaultContextKey, roles...)
}

// RequireRolesWithKey is RequireRoles for a gate storing claims under key
func RequireRolesWithKey(key string, roles ...Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := PrincipalFromFiber(c, key)
		if !ok {
			return ErrAuthRequired
		}
		if err := Authorize(p, roles...); err != nil {
			return err
		}
		return c.Next()
	}
}

// RequireUploadAccess guards files served below publicPath. Admins read
// every file, other callers only keys under their own accounts/<id>/
// prefix as built by StorageKey.
func RequireUploadAccess(key, publicPath string) fiber.Handler {
	prefix := strings.TrimSuffix(publicPath, "/") + "/"
	return func(c *fiber.Ctx) error {
		p, ok := PrincipalFromFiber(c, key)
		if !ok {
			return ErrAuthRequired
		}
		if p.HasRole(RoleAdmin) {
			return c.Next()
		}

		owner, ok := uploadOwner(strings.TrimPrefix(c.Path(), prefix))
		if !ok || owner != p.AccountID {
			return withMessage(ErrForbidden, "Access denied. Documents are only visible to their owner")
		}
		return c.Next()
	}
}

func uploadOwner(key string) (uuid.UUID, bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 3 || parts[0] != "accounts" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
