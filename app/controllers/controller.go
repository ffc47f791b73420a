package controllers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/billing"
	"github.com/ManuelReschke/Melodex/internal/pkg/entitlements"
	"github.com/ManuelReschke/Melodex/internal/pkg/ledger"
	"github.com/ManuelReschke/Melodex/internal/pkg/licensing"
	"github.com/ManuelReschke/Melodex/internal/pkg/logger"
	"github.com/ManuelReschke/Melodex/internal/pkg/objectstore"
	"github.com/ManuelReschke/Melodex/internal/pkg/statistics"
	"github.com/ManuelReschke/Melodex/internal/pkg/subscription"
)

// StripePayments is the Stripe side used by sample pack checkout and webhooks.
type StripePayments interface {
	CreateSaleCheckout(ctx context.Context, req billing.SaleCheckoutRequest) (*billing.CheckoutSession, error)
	ParseWebhook(payload []byte, signatureHeader string) (*billing.Event, error)
}

// PaypalPayments creates and captures pack orders.
type PaypalPayments interface {
	CreateOrder(ctx context.Context, req billing.OrderRequest) (*billing.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*billing.Capture, error)
}

// Dependencies are the services the HTTP handlers call.
type Dependencies struct {
	Repos        *repository.Repositories
	Ledger       *ledger.Service
	Tracker      *subscription.Tracker
	Gate         *entitlements.Gate
	Licensing    *licensing.Service
	Statistics   *statistics.Service
	Webhooks     *billing.Service
	Stripe       StripePayments
	Paypal       PaypalPayments
	Storage      objectstore.Storage
	AppURL       string
	RequestLimit time.Duration
}

// Controller holds the JSON API handlers.
type Controller struct {
	Dependencies
	log *zap.Logger
}

func New(deps Dependencies) *Controller {
	if deps.RequestLimit == 0 {
		deps.RequestLimit = 20 * time.Second
	}
	return &Controller{Dependencies: deps, log: logger.Named("http")}
}
