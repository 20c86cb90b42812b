package intake

import (
	"github.com/gofiber/fiber/v2"
)

// RouteOptions configures RegisterRoutes
type RouteOptions struct {
	// Gate authenticates requests, see AuthGate
	Gate fiber.Handler
	// Throttle guards register and login. Optional.
	Throttle fiber.Handler
	// Uploads serves locally stored documents when set. Files are only
	// visible to admins and the owning account.
	Uploads *LocalFileStore
}

// RegisterRoutes mounts the REST API on app
func RegisterRoutes(app fiber.Router, controller *Controller, opts RouteOptions) {
	if opts.Gate == nil {
		panic("Missing auth gate in routes...")
	}

	throttle := opts.Throttle
	if throttle == nil {
		throttle = func(c *fiber.Ctx) error { return c.Next() }
	}

	gate := opts.Gate
	admin := RequireRolesWithKey(controller.ContextKey, RoleAdmin)

	auth := app.Group("/auth")
	auth.Post("/register", throttle, controller.Register).Name("auth.register")
	auth.Post("/login", throttle, controller.Login).Name("auth.login")
	auth.Get("/me", gate, controller.Me).Name("auth.me.get")
	auth.Patch("/me", gate, controller.UpdateMe).Name("auth.me.patch")

	users := app.Group("/users", gate)
	users.Put("/profile", controller.UpdateMe).Name("users.profile.put")
	users.Put("/admin/verify/:id", admin, controller.VerifyAccount).Name("users.admin.verify")
	users.Put("/admin/verify-document/:userId/:documentId", admin, controller.VerifyDocument).Name("users.admin.verify-document")
	users.Get("/admin/document/:userId/:documentId", admin, controller.DocumentURL).Name("users.admin.document")
	users.Get("/verification-history/:id", admin, controller.VerificationHistory).Name("users.verification-history")
	users.Get("/donors", RequireRolesWithKey(controller.ContextKey, RoleAdmin, RoleAcceptor), controller.Donors).Name("users.donors")
	users.Get("/acceptors", RequireRolesWithKey(controller.ContextKey, RoleAdmin, RoleDonor), controller.Acceptors).Name("users.acceptors")
	users.Get("/", admin, controller.ListAccounts).Name("users.list")
	users.Get("/:id", admin, controller.GetAccount).Name("users.get")
	users.Patch("/:id", admin, controller.PatchAccount).Name("users.patch")
	users.Delete("/:id", admin, controller.DeleteAccount).Name("users.delete")

	adm := app.Group("/admin", gate, admin)
	adm.Get("/acceptors", controller.AdminAcceptors).Name("admin.acceptors")
	adm.Get("/stats/acceptors", controller.AdminAcceptorStats).Name("admin.stats.acceptors")

	if opts.Uploads != nil {
		public := opts.Uploads.PublicPath()
		app.Use(public, gate, RequireUploadAccess(controller.ContextKey, public))
		app.Static(public, opts.Uploads.Root(), fiber.Static{
			Browse: false,
		})
	}
}
