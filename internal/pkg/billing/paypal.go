package billing

import (
	"context"
	"strconv"
	"strings"

	"github.com/plutov/paypal/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/commission"
)

// PaypalAPI is the subset of the PayPal client used by the gateway.
type PaypalAPI interface {
	CreateOrder(ctx context.Context, intent string, purchaseUnits []paypal.PurchaseUnitRequest, paymentSource *paypal.PaymentSource, appContext *paypal.ApplicationContext) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string, captureOrderRequest paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error)
}

var _ PaypalAPI = (*paypal.Client)(nil)

// PaypalConfig holds the REST credentials. Mode is "live" or "sandbox".
type PaypalConfig struct {
	ClientID string
	Secret   string
	Mode     string
	Brand    string
}

// PaypalGateway creates marketplace orders that pay the producer directly
// and route the platform fee to the merchant account.
type PaypalGateway struct {
	api     PaypalAPI
	brand   string
	breaker *gobreaker.CircuitBreaker[any]
}

func NewPaypalGateway(cfg PaypalConfig) (*PaypalGateway, error) {
	base := paypal.APIBaseSandBox
	if strings.EqualFold(cfg.Mode, "live") {
		base = paypal.APIBaseLive
	}
	c, err := paypal.NewClient(cfg.ClientID, cfg.Secret, base)
	if err != nil {
		return nil, err
	}
	return NewPaypalGatewayWithAPI(c, cfg.Brand), nil
}

// NewPaypalGatewayWithAPI builds a gateway over an injected client.
func NewPaypalGatewayWithAPI(api PaypalAPI, brand string) *PaypalGateway {
	if brand == "" {
		brand = "Melodex"
	}
	return &PaypalGateway{api: api, brand: brand, breaker: newBreaker(ProviderPaypal)}
}

// CreateOrder opens a capture-intent order for a pending pack sale.
func (g *PaypalGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.PayeeEmail == "" {
		return nil, apperr.Validation("payee email is required")
	}
	currency := strings.ToUpper(req.Currency)
	unit := paypal.PurchaseUnitRequest{
		ReferenceID: strconv.FormatUint(uint64(req.SaleID), 10),
		CustomID:    strconv.FormatUint(uint64(req.SaleID), 10),
		Description: req.Description,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: currency,
			Value:    commission.FormatMinor(req.Amount),
		},
		Payee: &paypal.PayeeForOrders{EmailAddress: req.PayeeEmail},
		PaymentInstruction: &paypal.PaymentInstruction{
			PlatformFees: []paypal.PlatformFee{
				{Amount: &paypal.Money{Currency: currency, Value: commission.FormatMinor(req.Commission)}},
			},
		},
	}
	appCtx := &paypal.ApplicationContext{
		BrandName:          g.brand,
		ShippingPreference: paypal.ShippingPreferenceNoShipping,
		UserAction:         paypal.UserActionPayNow,
		ReturnURL:          req.ReturnURL,
		CancelURL:          req.CancelURL,
	}

	return call(ctx, g.breaker, "create_order", func(ctx context.Context) (*Order, error) {
		o, err := g.api.CreateOrder(ctx, paypal.OrderIntentCapture, []paypal.PurchaseUnitRequest{unit}, nil, appCtx)
		if err != nil {
			return nil, err
		}
		out := &Order{ID: o.ID, Status: o.Status}
		for _, l := range o.Links {
			if l.Rel == "approve" || l.Rel == "payer-action" {
				out.ApproveURL = l.Href
				break
			}
		}
		return out, nil
	})
}

// CaptureOrder captures an order the buyer approved.
func (g *PaypalGateway) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, apperr.Validation("order id is required")
	}
	return call(ctx, g.breaker, "capture_order", func(ctx context.Context) (*Capture, error) {
		res, err := g.api.CaptureOrder(ctx, orderID, paypal.CaptureOrderRequest{})
		if err != nil {
			return nil, err
		}
		return &Capture{OrderID: res.ID, Status: res.Status}, nil
	})
}
