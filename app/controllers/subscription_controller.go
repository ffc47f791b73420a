package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

type subscriptionResponse struct {
	Role     string     `json:"role"`
	IsPro    bool       `json:"is_pro"`
	Status   string     `json:"status"`
	TrialEnd *time.Time `json:"trial_end,omitempty"`
	CancelAt *time.Time `json:"cancel_at,omitempty"`
}

func toSubscriptionResponse(p *models.Profile) subscriptionResponse {
	return subscriptionResponse{
		Role:     p.Role,
		IsPro:    p.IsPro,
		Status:   p.SubscriptionStatus,
		TrialEnd: p.TrialEnd,
		CancelAt: p.CancelAt,
	}
}

func (h *Controller) HandleSubscriptionStatus(c *fiber.Ctx) error {
	p, err := h.Tracker.Status(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(toSubscriptionResponse(p))
}

// HandleSubscriptionCheckout opens a Stripe checkout for the PRO plan.
func (h *Controller) HandleSubscriptionCheckout(c *fiber.Ctx) error {
	session, err := h.Tracker.StartCheckout(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// HandleSubscriptionCancel schedules cancellation at the end of the period.
func (h *Controller) HandleSubscriptionCancel(c *fiber.Ctx) error {
	p, err := h.Tracker.RequestCancel(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(toSubscriptionResponse(p))
}

// HandleSubscriptionReactivate removes a scheduled cancellation.
func (h *Controller) HandleSubscriptionReactivate(c *fiber.Ctx) error {
	p, err := h.Tracker.Reactivate(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(toSubscriptionResponse(p))
}
