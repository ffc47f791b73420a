package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Melodex/app/controllers"
	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/internal/pkg/middleware"
)

type ApiRouter struct {
	ctrl           *controllers.Controller
	jwtSecret      []byte
	limiterStorage fiber.Storage
}

func NewApiRouter(ctrl *controllers.Controller, jwtSecret []byte, limiterStorage fiber.Storage) *ApiRouter {
	return &ApiRouter{ctrl: ctrl, jwtSecret: jwtSecret, limiterStorage: limiterStorage}
}

func (r ApiRouter) InstallRouter(app *fiber.App) {
	h := r.ctrl

	// Webhooks bypass auth and rate limiting
	app.Post("/api/v1/webhooks/stripe", h.HandleStripeWebhook)

	api := app.Group("/api",
		middleware.Authenticate(r.jwtSecret, h.Repos.Profile),
		newLimiter(r.limiterStorage),
	)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from melodex api",
		})
	})

	v1 := api.Group("/v1")
	auth := middleware.RequireAuth

	v1.Get("/categories", h.HandleListCategories)
	v1.Get("/access", auth, h.HandleCheckAccess)

	// Profiles and follows
	v1.Get("/profiles/me", auth, h.HandleGetOwnProfile)
	v1.Patch("/profiles/me", auth, h.HandleUpdateOwnProfile)
	v1.Get("/profiles/:id", h.HandleGetProfile)
	v1.Post("/profiles/:id/follow", auth, h.HandleToggleFollow)

	// Storefronts
	r.installLine(v1, models.LinePack)
	r.installLine(v1, models.LineSamplePack)
	v1.Post("/packs/sales/:id/capture", auth, h.HandleCapturePackOrder)

	// Melodies and licenses
	v1.Get("/melodies", h.HandleListMelodies)
	v1.Post("/melodies", auth, h.HandleUploadMelody)
	v1.Get("/melodies/:id", h.HandleGetMelody)
	v1.Post("/melodies/:id/download", auth, h.HandleDownloadMelody)
	v1.Get("/licenses/:transactionID", h.HandleVerifyLicense)
	v1.Get("/licenses/:transactionID/history", auth, h.HandleLicenseHistory)
	v1.Post("/licenses/:transactionID/revoke", auth, h.HandleRevokeLicense)

	// PRO subscription
	sub := v1.Group("/subscription", auth)
	sub.Get("/", h.HandleSubscriptionStatus)
	sub.Post("/checkout", h.HandleSubscriptionCheckout)
	sub.Post("/cancel", h.HandleSubscriptionCancel)
	sub.Post("/reactivate", h.HandleSubscriptionReactivate)

	v1.Get("/dashboard/stats", middleware.RequirePro(h.Gate), h.HandleDashboardStats)

	admin := v1.Group("/admin", middleware.RequireAdmin(h.Gate))
	admin.Get("/profiles", h.HandleAdminListProfiles)
	admin.Patch("/profiles/:id/role", h.HandleAdminChangeRole)
	admin.Post("/sales/:line/:id/refund", h.HandleAdminRefundSale)
}

// installLine registers one storefront. Static paths come before /:id.
func (r ApiRouter) installLine(v1 fiber.Router, line models.ProductLine) {
	h := r.ctrl
	auth := middleware.RequireAuth
	prefix := "/packs"
	if line == models.LineSamplePack {
		prefix = "/sample-packs"
	}
	g := v1.Group(prefix)
	g.Get("/purchases", auth, h.HandleListPurchases(line))
	g.Get("/sales", auth, h.HandleListSales(line))
	g.Get("/", h.HandleListPacks(line))
	g.Post("/", auth, h.HandleCreatePack(line))
	g.Get("/:id", h.HandleGetPack(line))
	g.Get("/:id/download", auth, h.HandleDownloadPack(line))
	g.Post("/:id/purchase", auth, h.HandlePurchase(line))
}
