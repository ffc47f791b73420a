package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/entitlements"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

// HandleCheckAccess answers "may I use this?" for the caller without side effects.
// Query: kind, and line+item_id or transaction_id depending on the kind.
func (h *Controller) HandleCheckAccess(c *fiber.Ctx) error {
	kind, ok := entitlements.ParseKind(c.Query("kind"))
	if !ok {
		return apperr.Respond(c, apperr.Validation("kind must be one of pack-download, analytics-dashboard, admin-page, collaboration-license"))
	}

	res := entitlements.Resource{Kind: kind}
	switch kind {
	case entitlements.KindPackDownload:
		line, ok := models.ParseProductLine(c.Query("line"))
		if !ok {
			return apperr.Respond(c, apperr.Validation("line must be packs or sample-packs"))
		}
		itemID := c.QueryInt("item_id", 0)
		if itemID <= 0 {
			return apperr.Respond(c, apperr.Validation("item_id is required"))
		}
		res = entitlements.PackDownload(line, uint(itemID))
	case entitlements.KindCollaborationLicense:
		res = entitlements.CollaborationLicense(c.Query("transaction_id"))
	}

	allowed, err := h.Gate.CanAccess(c.UserContext(), usercontext.GetUserID(c), res)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(fiber.Map{"kind": kind, "allowed": allowed})
}
