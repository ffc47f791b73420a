package controllers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/ledger"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=free pro admin"`
}

// HandleAdminListProfiles searches profiles by username or email.
func (h *Controller) HandleAdminListProfiles(c *fiber.Ctx) error {
	page := pageFromQuery(c)
	profiles, total, err := h.Repos.Profile.List(c.UserContext(), c.Query("q"), page)
	if err != nil {
		return apperr.Respond(c, apperr.Internal("failed to list profiles", err))
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	return c.JSON(fiber.Map{"profiles": profiles, "pagination": page.Result(total)})
}

var errRoleFollowsSubscription = apperr.Conflict("pro and free follow the subscription status")

// HandleAdminChangeRole grants or revokes the admin role. Pro and free are
// derived from the subscription status and are only accepted when they match it.
func (h *Controller) HandleAdminChangeRole(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	var req changeRoleRequest
	if err := parseBody(c, &req); err != nil {
		return apperr.Respond(c, err)
	}
	if id == usercontext.GetUserID(c) && req.Role != models.ROLE_ADMIN {
		return apperr.Respond(c, apperr.Conflict("you cannot remove your own admin role"))
	}

	p, err := h.loadProfile(c, id)
	if err != nil {
		return apperr.Respond(c, err)
	}
	from := p.Role
	if req.Role != models.ROLE_ADMIN && req.Role != p.BillingRole() {
		return apperr.Respond(c, errRoleFollowsSubscription)
	}
	if wantAdmin := req.Role == models.ROLE_ADMIN; wantAdmin != p.IsAdmin() {
		if err := h.Repos.Profile.SetAdmin(c.UserContext(), p.ID, wantAdmin); err != nil {
			return apperr.Respond(c, apperr.Internal("failed to update profile", err))
		}
	}

	p, err = h.loadProfile(c, id)
	if err != nil {
		return apperr.Respond(c, err)
	}
	h.log.Info("role changed by admin",
		zap.Uint("profile_id", p.ID),
		zap.String("from", from),
		zap.String("to", p.Role),
		zap.Uint("admin_id", usercontext.GetUserID(c)))
	return c.JSON(fiber.Map{"profile": p})
}

// HandleAdminRefundSale records a refund issued in the provider dashboard.
func (h *Controller) HandleAdminRefundSale(c *fiber.Ctx) error {
	line, ok := models.ParseProductLine(c.Params("line"))
	if !ok {
		return apperr.Respond(c, ledger.ErrInvalidLine)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	sale, changed, err := h.Ledger.Confirm(c.UserContext(), line, ledger.ConfirmInput{
		SaleID: id,
		Status: models.SaleStatusRefunded,
	})
	if err != nil {
		return apperr.Respond(c, err)
	}
	if changed {
		h.Statistics.Invalidate(c.UserContext(), sale.ProducerID)
	}
	return c.JSON(fiber.Map{"sale": sale, "changed": changed})
}
