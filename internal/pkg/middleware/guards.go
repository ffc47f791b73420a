package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/entitlements"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

// AccessChecker is satisfied by *entitlements.Gate.
type AccessChecker interface {
	CanAccess(ctx context.Context, userID uint, res entitlements.Resource) (bool, error)
}

// RequireAuth rejects anonymous API calls with a JSON 401.
func RequireAuth(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return apperr.Respond(c, errUnauthorized)
	}
	return c.Next()
}

// RequireEntitlement lets the request through only when the gate grants res.
func RequireEntitlement(gate AccessChecker, res entitlements.Resource, denied string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uc := usercontext.GetUserContext(c)
		if !uc.IsLoggedIn {
			return apperr.Respond(c, errUnauthorized)
		}
		ok, err := gate.CanAccess(c.UserContext(), uc.UserID, res)
		if err != nil {
			return apperr.Respond(c, err)
		}
		if !ok {
			return apperr.Respond(c, apperr.Forbidden(denied))
		}
		return c.Next()
	}
}

// RequireAdmin ensures a logged-in admin.
func RequireAdmin(gate AccessChecker) fiber.Handler {
	return RequireEntitlement(gate, entitlements.AdminPage(), "admin access required")
}

// RequirePro ensures a PRO (or admin) account.
func RequirePro(gate AccessChecker) fiber.Handler {
	return RequireEntitlement(gate, entitlements.AnalyticsDashboard(), "PRO subscription required")
}
