package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

// HandleDashboardStats returns the producer's cached analytics.
func (h *Controller) HandleDashboardStats(c *fiber.Ctx) error {
	stats, err := h.Statistics.Dashboard(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(stats)
}
