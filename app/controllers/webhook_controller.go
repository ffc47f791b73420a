package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/billing"
	"github.com/ManuelReschke/Melodex/internal/pkg/ledger"
	"github.com/ManuelReschke/Melodex/internal/pkg/metrics"
)

// HandleStripeWebhook verifies, records and applies a Stripe event.
// Invalid signatures are rejected before anything is stored; redeliveries
// of handled events are acknowledged without side effects.
func (h *Controller) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ev, err := h.Stripe.ParseWebhook(rawBody, signature)
	if err != nil {
		h.log.Warn("rejected stripe webhook", zap.Error(err))
		metrics.IncWebhookEvent(billing.ProviderStripe, "unknown", "invalid_signature")
		return apperr.Respond(c, err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.RequestLimit)
	defer cancel()

	created, stored, err := h.Webhooks.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        ev.Provider,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     ev.PayloadJSON,
	})
	if err != nil {
		h.log.Error("failed to persist webhook event", zap.String("event_id", ev.ID), zap.Error(err))
		metrics.IncWebhookEvent(ev.Provider, ev.Type, "failed")
		return apperr.Respond(c, apperr.Internal("webhook persist failed", err))
	}
	if !created && stored.Handled() {
		metrics.IncWebhookEvent(ev.Provider, ev.Type, "duplicate")
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	procErr := h.dispatchEvent(ctx, ev)
	if mErr := h.Webhooks.MarkWebhookProcessed(ctx, stored.ID, procErr); mErr != nil {
		h.log.Error("failed to mark webhook processed", zap.Uint("webhook_event_id", stored.ID), zap.Error(mErr))
	}
	if procErr != nil {
		h.log.Error("webhook processing failed",
			zap.String("event_id", ev.ID), zap.String("type", ev.Type), zap.Error(procErr))
		metrics.IncWebhookEvent(ev.Provider, ev.Type, "failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook processing failed"})
	}

	metrics.IncWebhookEvent(ev.Provider, ev.Type, "processed")
	return c.JSON(fiber.Map{"received": true})
}

func (h *Controller) dispatchEvent(ctx context.Context, ev *billing.Event) error {
	switch ev.Kind {
	case billing.EventSubscriptionCreated,
		billing.EventSubscriptionUpdated,
		billing.EventSubscriptionDeleted,
		billing.EventInvoicePaid,
		billing.EventInvoicePaymentFailed,
		billing.EventTrialWillEnd:
		return h.Tracker.Apply(ctx, ev.Subscription)

	case billing.EventCheckoutCompleted:
		co := ev.Checkout
		switch co.Mode {
		case "subscription":
			return h.Tracker.LinkCheckout(ctx, co)
		case "payment":
			// Delayed payment methods complete later via async_payment_succeeded
			if co.PaymentStatus != "paid" && co.PaymentStatus != "no_payment_required" {
				return nil
			}
			return h.confirmCheckout(ctx, co, models.SaleStatusCompleted)
		}

	case billing.EventCheckoutExpired:
		if ev.Checkout.Mode == "payment" {
			return h.confirmCheckout(ctx, ev.Checkout, models.SaleStatusFailed)
		}
	}
	return nil
}

func (h *Controller) confirmCheckout(ctx context.Context, co *billing.CheckoutEvent, status string) error {
	sale, changed, err := h.Ledger.Confirm(ctx, models.LineSamplePack, ledger.ConfirmInput{
		SaleID:                co.SaleID,
		ProviderTransactionID: co.SessionID,
		Status:                status,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrSaleNotFound) {
			h.log.Warn("checkout for unknown sale", zap.String("session_id", co.SessionID), zap.Uint("sale_id", co.SaleID))
			return nil
		}
		return err
	}
	if changed && status == models.SaleStatusCompleted {
		h.Statistics.Invalidate(ctx, sale.ProducerID)
	}
	return nil
}
