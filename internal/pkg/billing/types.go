package billing

import "time"

const (
	ProviderStripe = "stripe"
	ProviderPaypal = "paypal"
)

// EventKind is the provider-neutral classification of a webhook event.
type EventKind string

const (
	EventSubscriptionCreated  EventKind = "subscription.created"
	EventSubscriptionUpdated  EventKind = "subscription.updated"
	EventSubscriptionDeleted  EventKind = "subscription.deleted"
	EventInvoicePaid          EventKind = "invoice.paid"
	EventInvoicePaymentFailed EventKind = "invoice.payment_failed"
	EventTrialWillEnd         EventKind = "subscription.trial_will_end"
	EventCheckoutCompleted    EventKind = "checkout.completed"
	EventCheckoutExpired      EventKind = "checkout.expired"
	EventIgnored              EventKind = "ignored"
)

// Event is a verified webhook event reduced to the fields the service acts on.
type Event struct {
	Provider     string
	ID           string
	Type         string
	Kind         EventKind
	PayloadJSON  string
	Subscription *SubscriptionEvent
	Checkout     *CheckoutEvent
}

// SubscriptionEvent carries the subscription state reported by the provider.
type SubscriptionEvent struct {
	Kind              EventKind
	CustomerID        string
	SubscriptionID    string
	Status            string
	CancelAtPeriodEnd bool
	CancelAt          *time.Time
	TrialEnd          *time.Time
}

// CheckoutEvent is a finished or expired hosted checkout.
type CheckoutEvent struct {
	SessionID         string
	Mode              string
	CustomerID        string
	SubscriptionID    string
	ClientReferenceID string
	PaymentStatus     string
	SaleID            uint
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}

// SubscriptionCheckoutRequest starts a hosted checkout for the PRO plan.
type SubscriptionCheckoutRequest struct {
	UserID     uint
	CustomerID string
	SuccessURL string
	CancelURL  string
	TrialDays  int64
}

// SaleCheckoutRequest starts a hosted checkout for one pending sale.
type SaleCheckoutRequest struct {
	SaleID          uint
	Title           string
	Amount          int64
	Commission      int64
	Currency        string
	DestinationAcct string
	SuccessURL      string
	CancelURL       string
}

// CheckoutSession is the created hosted checkout.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// OrderRequest creates a PayPal order paying the producer with a platform fee.
type OrderRequest struct {
	SaleID      uint
	Description string
	Amount      int64
	Commission  int64
	Currency    string
	PayeeEmail  string
	ReturnURL   string
	CancelURL   string
}

// Order is a created PayPal order awaiting buyer approval.
type Order struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ApproveURL string `json:"approve_url"`
}

// Capture is the result of capturing an approved order.
type Capture struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Completed reports whether PayPal settled the funds.
func (c *Capture) Completed() bool {
	return c != nil && c.Status == "COMPLETED"
}
