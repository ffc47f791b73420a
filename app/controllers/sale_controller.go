package controllers

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/billing"
	"github.com/ManuelReschke/Melodex/internal/pkg/ledger"
	"github.com/ManuelReschke/Melodex/internal/pkg/usercontext"
)

var errPaypalDisabled = apperr.External("PayPal payments are not configured", nil)

func linePath(line models.ProductLine) string {
	if line == models.LineSamplePack {
		return "sample-packs"
	}
	return "packs"
}

// HandlePurchase records a pending sale and opens the provider checkout:
// a PayPal order for packs, a Stripe checkout session for sample packs.
func (h *Controller) HandlePurchase(line models.ProductLine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		itemID, err := paramID(c, "id")
		if err != nil {
			return apperr.Respond(c, err)
		}
		buyerID := usercontext.GetUserID(c)
		ctx, cancel := context.WithTimeout(c.UserContext(), h.RequestLimit)
		defer cancel()

		if line == models.LinePack && h.Paypal == nil {
			return apperr.Respond(c, errPaypalDisabled)
		}

		payload, err := h.Ledger.Initiate(ctx, line, buyerID, itemID)
		if err != nil {
			return apperr.Respond(c, err)
		}

		returnBase := fmt.Sprintf("%s/%s/%d", strings.TrimRight(h.AppURL, "/"), linePath(line), itemID)
		var (
			ref     string
			payment interface{}
		)
		switch line {
		case models.LinePack:
			order, oerr := h.Paypal.CreateOrder(ctx, billing.OrderRequest{
				SaleID:      payload.SaleID,
				Description: payload.Description,
				Amount:      payload.Amount,
				Commission:  payload.Commission,
				Currency:    payload.Currency,
				PayeeEmail:  payload.Payee,
				ReturnURL:   returnBase + "?purchase=success",
				CancelURL:   returnBase + "?purchase=cancel",
			})
			if oerr != nil {
				return h.abandonSale(c, ctx, line, payload.SaleID, oerr)
			}
			ref, payment = order.ID, order
		default:
			session, serr := h.Stripe.CreateSaleCheckout(ctx, billing.SaleCheckoutRequest{
				SaleID:          payload.SaleID,
				Title:           payload.Description,
				Amount:          payload.Amount,
				Commission:      payload.Commission,
				Currency:        payload.Currency,
				DestinationAcct: payload.Payee,
				SuccessURL:      returnBase + "?purchase=success",
				CancelURL:       returnBase + "?purchase=cancel",
			})
			if serr != nil {
				return h.abandonSale(c, ctx, line, payload.SaleID, serr)
			}
			ref, payment = session.ID, session
		}

		if err := h.Ledger.AttachProviderReference(ctx, line, payload.SaleID, ref); err != nil {
			return apperr.Respond(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"sale":    payload,
			"payment": payment,
		})
	}
}

// abandonSale fails a sale whose provider checkout could not be created.
func (h *Controller) abandonSale(c *fiber.Ctx, ctx context.Context, line models.ProductLine, saleID uint, cause error) error {
	h.log.Warn("provider checkout failed",
		zap.String("line", string(line)), zap.Uint("sale_id", saleID), zap.Error(cause))
	if _, _, err := h.Ledger.Confirm(ctx, line, ledger.ConfirmInput{SaleID: saleID, Status: models.SaleStatusFailed}); err != nil {
		h.log.Error("failed to mark sale failed", zap.Uint("sale_id", saleID), zap.Error(err))
	}
	return apperr.Respond(c, cause)
}

// HandleCapturePackOrder captures the approved PayPal order of a pack sale.
func (h *Controller) HandleCapturePackOrder(c *fiber.Ctx) error {
	if h.Paypal == nil {
		return apperr.Respond(c, errPaypalDisabled)
	}
	saleID, err := paramID(c, "id")
	if err != nil {
		return apperr.Respond(c, err)
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), h.RequestLimit)
	defer cancel()

	sale, err := h.Ledger.Get(ctx, models.LinePack, saleID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	if sale.BuyerID != usercontext.GetUserID(c) {
		return apperr.Respond(c, ledger.ErrSaleNotFound)
	}
	if sale.Status != models.SaleStatusPending {
		return c.JSON(fiber.Map{"sale": sale, "changed": false})
	}
	if sale.ProviderTransactionID == nil || *sale.ProviderTransactionID == "" {
		return apperr.Respond(c, apperr.Validation("sale has no payment order"))
	}

	capture, err := h.Paypal.CaptureOrder(ctx, *sale.ProviderTransactionID)
	if err != nil {
		return apperr.Respond(c, err)
	}

	status := captureOutcome(capture)
	if status == "" {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"sale": sale, "changed": false, "capture": capture})
	}
	updated, changed, err := h.Ledger.Confirm(ctx, models.LinePack, ledger.ConfirmInput{
		ProviderTransactionID: capture.OrderID,
		Status:                status,
	})
	if err != nil {
		return apperr.Respond(c, err)
	}
	if changed && status == models.SaleStatusCompleted {
		h.Statistics.Invalidate(ctx, updated.ProducerID)
	}
	return c.JSON(fiber.Map{"sale": updated, "changed": changed, "capture": capture})
}

// captureOutcome maps a PayPal capture to a sale status; "" keeps it pending.
func captureOutcome(capture *billing.Capture) string {
	if capture.Completed() {
		return models.SaleStatusCompleted
	}
	switch strings.ToUpper(capture.Status) {
	case "DECLINED", "FAILED", "VOIDED":
		return models.SaleStatusFailed
	default:
		return ""
	}
}

// HandleListPurchases lists the caller's purchases on line.
func (h *Controller) HandleListPurchases(line models.ProductLine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter, err := saleFilterFromQuery(c)
		if err != nil {
			return apperr.Respond(c, err)
		}
		page, err := h.Ledger.ListForBuyer(c.UserContext(), line, usercontext.GetUserID(c), filter, pageFromQuery(c))
		if err != nil {
			return apperr.Respond(c, err)
		}
		return c.JSON(page)
	}
}

// HandleListSales lists the sales of the caller's items on line.
func (h *Controller) HandleListSales(line models.ProductLine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter, err := saleFilterFromQuery(c)
		if err != nil {
			return apperr.Respond(c, err)
		}
		page, err := h.Ledger.ListForProducer(c.UserContext(), line, usercontext.GetUserID(c), filter, pageFromQuery(c))
		if err != nil {
			return apperr.Respond(c, err)
		}
		return c.JSON(page)
	}
}
