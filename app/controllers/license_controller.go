package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

type revokeRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// HandleVerifyLicense is public so anyone can check a license they were shown.
func (h *Controller) HandleVerifyLicense(c *fiber.Ctx) error {
	v, err := h.Licensing.Verify(c.UserContext(), c.Params("transactionID"))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(v)
}

// HandleRevokeLicense permanently revokes a collaboration license.
func (h *Controller) HandleRevokeLicense(c *fiber.Ctx) error {
	var req revokeRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return apperr.Respond(c, err)
		}
	}
	a, err := h.Licensing.Revoke(c.UserContext(), c.Params("transactionID"), usercontext.GetUserID(c), req.Reason)
	if err != nil {
		return apperr.Respond(c, err)
	}
	h.Statistics.Invalidate(c.UserContext(), a.ProducerID)
	return c.JSON(fiber.Map{"license": a})
}

// HandleLicenseHistory returns the revocation log of a license.
func (h *Controller) HandleLicenseHistory(c *fiber.Ctx) error {
	transactionID := c.Params("transactionID")
	if _, err := h.Licensing.Verify(c.UserContext(), transactionID); err != nil {
		return apperr.Respond(c, err)
	}
	entries, err := h.Licensing.History(c.UserContext(), transactionID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(fiber.Map{"transaction_id": transactionID, "revocations": entries})
}
