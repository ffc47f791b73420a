package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
)

// ErrInvalidSignature is returned when a webhook payload does not match its signature header.
var ErrInvalidSignature = apperr.Validation("invalid webhook signature")

// StripeAPI is the subset of the Stripe client used by the gateway.
type StripeAPI interface {
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
}

type stripeClient struct {
	api *client.API
}

// NewStripeAPI wraps the official client for the given secret key.
func NewStripeAPI(secretKey string) StripeAPI {
	return &stripeClient{api: client.New(secretKey, nil)}
}

func (c *stripeClient) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.api.CheckoutSessions.New(params)
}

func (c *stripeClient) UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return c.api.Subscriptions.Update(id, params)
}

func (c *stripeClient) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return c.api.Customers.New(params)
}

// StripeConfig holds the Stripe credentials and the PRO plan price.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	ProPriceID    string
}

// StripeGateway talks to Stripe for subscriptions and sample pack checkouts.
type StripeGateway struct {
	api           StripeAPI
	webhookSecret string
	proPriceID    string
	breaker       *gobreaker.CircuitBreaker[any]
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	return NewStripeGatewayWithAPI(NewStripeAPI(cfg.SecretKey), cfg)
}

// NewStripeGatewayWithAPI builds a gateway over an injected client.
func NewStripeGatewayWithAPI(api StripeAPI, cfg StripeConfig) *StripeGateway {
	return &StripeGateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		proPriceID:    cfg.ProPriceID,
		breaker:       newBreaker(ProviderStripe),
	}
}

// CreateCustomer registers a Stripe customer for a profile.
func (g *StripeGateway) CreateCustomer(ctx context.Context, userID uint, email, name string) (string, error) {
	return call(ctx, g.breaker, "create_customer", func(ctx context.Context) (string, error) {
		params := &stripe.CustomerParams{
			Email: stripe.String(email),
			Name:  stripe.String(name),
		}
		params.Context = ctx
		params.AddMetadata("user_id", strconv.FormatUint(uint64(userID), 10))
		cus, err := g.api.NewCustomer(params)
		if err != nil {
			return "", err
		}
		return cus.ID, nil
	})
}

// CreateSubscriptionCheckout opens a hosted checkout for the PRO plan.
func (g *StripeGateway) CreateSubscriptionCheckout(ctx context.Context, req SubscriptionCheckoutRequest) (*CheckoutSession, error) {
	if g.proPriceID == "" {
		return nil, apperr.Internal("stripe price is not configured", nil)
	}
	return call(ctx, g.breaker, "subscription_checkout", func(ctx context.Context) (*CheckoutSession, error) {
		params := &stripe.CheckoutSessionParams{
			Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			Customer:          stripe.String(req.CustomerID),
			ClientReferenceID: stripe.String(strconv.FormatUint(uint64(req.UserID), 10)),
			SuccessURL:        stripe.String(req.SuccessURL),
			CancelURL:         stripe.String(req.CancelURL),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{Price: stripe.String(g.proPriceID), Quantity: stripe.Int64(1)},
			},
		}
		if req.TrialDays > 0 {
			params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
				TrialPeriodDays: stripe.Int64(req.TrialDays),
			}
		}
		params.Context = ctx
		sess, err := g.api.NewCheckoutSession(params)
		if err != nil {
			return nil, err
		}
		return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
	})
}

// CreateSaleCheckout opens a one-off hosted checkout for a pending sample pack
// sale. The commission stays on the platform, the rest is transferred to the
// producer's connected account.
func (g *StripeGateway) CreateSaleCheckout(ctx context.Context, req SaleCheckoutRequest) (*CheckoutSession, error) {
	return call(ctx, g.breaker, "sale_checkout", func(ctx context.Context) (*CheckoutSession, error) {
		saleID := strconv.FormatUint(uint64(req.SaleID), 10)
		params := &stripe.CheckoutSessionParams{
			Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
			ClientReferenceID: stripe.String(saleID),
			SuccessURL:        stripe.String(req.SuccessURL),
			CancelURL:         stripe.String(req.CancelURL),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{
					Quantity: stripe.Int64(1),
					PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
						Currency:   stripe.String(strings.ToLower(req.Currency)),
						UnitAmount: stripe.Int64(req.Amount),
						ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
							Name: stripe.String(req.Title),
						},
					},
				},
			},
			PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
				ApplicationFeeAmount: stripe.Int64(req.Commission),
				TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
					Destination: stripe.String(req.DestinationAcct),
				},
			},
		}
		params.AddMetadata("sale_id", saleID)
		params.Context = ctx
		sess, err := g.api.NewCheckoutSession(params)
		if err != nil {
			return nil, err
		}
		return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
	})
}

// SetCancelAtPeriodEnd schedules or clears the end-of-period cancellation.
func (g *StripeGateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*time.Time, error) {
	return call(ctx, g.breaker, "update_subscription", func(ctx context.Context) (*time.Time, error) {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
		params.Context = ctx
		sub, err := g.api.UpdateSubscription(subscriptionID, params)
		if err != nil {
			return nil, err
		}
		return unixTime(sub.CancelAt), nil
	})
}

// stripeObject mirrors the fields read from subscription, invoice and
// checkout session payloads.
type stripeObject struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	Customer          json.RawMessage   `json:"customer"`
	Subscription      json.RawMessage   `json:"subscription"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CancelAt          int64             `json:"cancel_at"`
	TrialEnd          int64             `json:"trial_end"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// ParseWebhook verifies the stripe-signature header and classifies the event.
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*Event, error) {
	return ParseStripeWebhook(payload, signatureHeader, g.webhookSecret)
}

// ParseStripeWebhook verifies and decodes a Stripe webhook delivery.
func ParseStripeWebhook(payload []byte, signatureHeader, secret string) (*Event, error) {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(signatureHeader) == "" {
		return nil, ErrInvalidSignature
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, ErrInvalidSignature.Message, errors.Join(ErrInvalidSignature, err))
	}

	out := &Event{
		Provider:    ProviderStripe,
		ID:          evt.ID,
		Type:        string(evt.Type),
		Kind:        EventIgnored,
		PayloadJSON: string(payload),
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}

	var obj stripeObject
	if err := json.Unmarshal(evt.Data.Raw, &obj); err != nil {
		return nil, apperr.Validation("malformed webhook payload")
	}

	switch out.Type {
	case "customer.subscription.created":
		out.Kind = EventSubscriptionCreated
	case "customer.subscription.updated":
		out.Kind = EventSubscriptionUpdated
	case "customer.subscription.deleted":
		out.Kind = EventSubscriptionDeleted
	case "customer.subscription.trial_will_end":
		out.Kind = EventTrialWillEnd
	case "invoice.paid", "invoice.payment_succeeded":
		out.Kind = EventInvoicePaid
	case "invoice.payment_failed":
		out.Kind = EventInvoicePaymentFailed
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		out.Kind = EventCheckoutCompleted
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		out.Kind = EventCheckoutExpired
	default:
		return out, nil
	}

	switch out.Kind {
	case EventCheckoutCompleted, EventCheckoutExpired:
		co := &CheckoutEvent{
			SessionID:         obj.ID,
			Mode:              obj.Mode,
			CustomerID:        expandableID(obj.Customer),
			SubscriptionID:    expandableID(obj.Subscription),
			ClientReferenceID: obj.ClientReferenceID,
			PaymentStatus:     obj.PaymentStatus,
		}
		if raw := obj.Metadata["sale_id"]; raw != "" {
			if id, perr := strconv.ParseUint(raw, 10, 64); perr == nil {
				co.SaleID = uint(id)
			}
		}
		out.Checkout = co
	default:
		sub := &SubscriptionEvent{
			Kind:       out.Kind,
			CustomerID: expandableID(obj.Customer),
		}
		if obj.Object == "invoice" {
			sub.SubscriptionID = expandableID(obj.Subscription)
		} else {
			sub.SubscriptionID = obj.ID
			sub.Status = obj.Status
			sub.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
			sub.CancelAt = unixTime(obj.CancelAt)
			sub.TrialEnd = unixTime(obj.TrialEnd)
		}
		out.Subscription = sub
	}
	return out, nil
}

// expandableID reads a Stripe reference that is either an id string or an
// expanded object with an "id" field.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
