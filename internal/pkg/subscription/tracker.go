// Package subscription keeps a profile's PRO subscription state in step with
// the payment provider.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/billing"
	"github.com/ManuelReschke/Melodex/internal/pkg/logger"
	"github.com/ManuelReschke/Melodex/internal/pkg/mail"
)

var (
	ErrNoActiveSubscription = apperr.Conflict("no active subscription to cancel")
	ErrNotCancelable        = apperr.Conflict("subscription is not scheduled for cancellation")
	ErrAlreadySubscribed    = apperr.Conflict("you already have a PRO subscription")
	ErrProfileNotFound      = apperr.NotFound("profile not found")
)

// DefaultTrialDays is granted on a profile's first checkout.
const DefaultTrialDays = 7

// Provider is the payment provider side of a subscription.
type Provider interface {
	CreateCustomer(ctx context.Context, userID uint, email, name string) (string, error)
	CreateSubscriptionCheckout(ctx context.Context, req billing.SubscriptionCheckoutRequest) (*billing.CheckoutSession, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*time.Time, error)
}

// Config holds the redirect targets of the hosted checkout.
type Config struct {
	SuccessURL string
	CancelURL  string
	TrialDays  int64
}

type Tracker struct {
	profiles repository.ProfileRepository
	provider Provider
	mailer   mail.Mailer
	cfg      Config
	log      *zap.Logger
}

func NewTracker(profiles repository.ProfileRepository, provider Provider, mailer mail.Mailer, cfg Config) *Tracker {
	if mailer == nil {
		mailer = mail.Nop{}
	}
	return &Tracker{
		profiles: profiles,
		provider: provider,
		mailer:   mailer,
		cfg:      cfg,
		log:      logger.Named("subscription"),
	}
}

func (t *Tracker) load(ctx context.Context, userID uint) (*models.Profile, error) {
	p, err := t.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, apperr.Internal("failed to load profile", err)
	}
	return p, nil
}

func (t *Tracker) setFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	if err := t.profiles.UpdateFields(ctx, id, fields); err != nil {
		return apperr.Internal("failed to update subscription state", err)
	}
	return nil
}

// transition moves the profile to status. With from set it only applies while
// the stored status is still one of from.
func (t *Tracker) transition(ctx context.Context, id uint, status string, fields map[string]interface{}, from ...string) (bool, error) {
	changed, err := t.profiles.UpdateSubscription(ctx, id, status, fields, from...)
	if err != nil {
		return false, apperr.Internal("failed to update subscription state", err)
	}
	return changed, nil
}

// Status returns the current subscription state of a profile.
func (t *Tracker) Status(ctx context.Context, userID uint) (*models.Profile, error) {
	return t.load(ctx, userID)
}

// StartCheckout opens a hosted checkout for the PRO plan, creating the
// provider customer on first use.
func (t *Tracker) StartCheckout(ctx context.Context, userID uint) (*billing.CheckoutSession, error) {
	p, err := t.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch p.SubscriptionStatus {
	case models.SubscriptionStatusTrialing, models.SubscriptionStatusActive, models.SubscriptionStatusCanceling:
		return nil, ErrAlreadySubscribed
	}

	if p.StripeCustomerID == "" {
		customerID, err := t.provider.CreateCustomer(ctx, p.ID, p.Email, p.Username)
		if err != nil {
			return nil, err
		}
		if err := t.setFields(ctx, p.ID, map[string]interface{}{"stripe_customer_id": customerID}); err != nil {
			return nil, err
		}
		p.StripeCustomerID = customerID
	}

	trial := int64(0)
	if p.SubscriptionStatus == models.SubscriptionStatusNone || p.SubscriptionStatus == "" {
		trial = t.cfg.TrialDays
	}
	return t.provider.CreateSubscriptionCheckout(ctx, billing.SubscriptionCheckoutRequest{
		UserID:     p.ID,
		CustomerID: p.StripeCustomerID,
		SuccessURL: t.cfg.SuccessURL,
		CancelURL:  t.cfg.CancelURL,
		TrialDays:  trial,
	})
}

// RequestCancel schedules the subscription to end with the current period.
// PRO access stays until the provider reports the deletion.
func (t *Tracker) RequestCancel(ctx context.Context, userID uint) (*models.Profile, error) {
	p, err := t.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.SubscriptionID == "" ||
		(p.SubscriptionStatus != models.SubscriptionStatusTrialing && p.SubscriptionStatus != models.SubscriptionStatusActive) {
		return nil, ErrNoActiveSubscription
	}

	cancelAt, err := t.provider.SetCancelAtPeriodEnd(ctx, p.SubscriptionID, true)
	if err != nil {
		return nil, err
	}
	if cancelAt == nil {
		cancelAt = p.TrialEnd
	}

	changed, err := t.transition(ctx, p.ID, models.SubscriptionStatusCanceling,
		map[string]interface{}{"cancel_at": cancelAt},
		models.SubscriptionStatusTrialing, models.SubscriptionStatusActive)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrNoActiveSubscription
	}
	if p, err = t.load(ctx, userID); err != nil {
		return nil, err
	}

	t.log.Info("subscription cancellation requested", zap.Uint("user_id", p.ID))
	t.notify(p, "Your PRO subscription will end", cancelBody(p.CancelAt))
	return p, nil
}

// Reactivate clears a scheduled cancellation.
func (t *Tracker) Reactivate(ctx context.Context, userID uint) (*models.Profile, error) {
	p, err := t.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.SubscriptionStatus != models.SubscriptionStatusCanceling || p.SubscriptionID == "" {
		return nil, ErrNotCancelable
	}

	if _, err := t.provider.SetCancelAtPeriodEnd(ctx, p.SubscriptionID, false); err != nil {
		return nil, err
	}

	changed, err := t.transition(ctx, p.ID, models.SubscriptionStatusActive,
		map[string]interface{}{"cancel_at": nil},
		models.SubscriptionStatusCanceling)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrNotCancelable
	}
	if p, err = t.load(ctx, userID); err != nil {
		return nil, err
	}

	t.log.Info("subscription reactivated", zap.Uint("user_id", p.ID))
	t.notify(p, "Your PRO subscription continues", "<p>Your scheduled cancellation was removed. Enjoy PRO!</p>")
	return p, nil
}

// LinkCheckout stores the customer and subscription ids of a completed
// subscription checkout on the profile named by the client reference.
func (t *Tracker) LinkCheckout(ctx context.Context, co *billing.CheckoutEvent) error {
	userID, err := strconv.ParseUint(co.ClientReferenceID, 10, 64)
	if err != nil || userID == 0 {
		t.log.Warn("checkout without client reference", zap.String("session_id", co.SessionID))
		return nil
	}
	p, err := t.profiles.GetByID(ctx, uint(userID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			t.log.Warn("checkout for unknown profile", zap.Uint64("user_id", userID))
			return nil
		}
		return apperr.Internal("failed to load profile", err)
	}
	fields := map[string]interface{}{}
	if co.CustomerID != "" {
		fields["stripe_customer_id"] = co.CustomerID
	}
	if co.SubscriptionID != "" {
		fields["subscription_id"] = co.SubscriptionID
	}
	return t.setFields(ctx, p.ID, fields)
}

// Apply folds one provider subscription event into the profile state.
// Events for unknown customers are ignored.
func (t *Tracker) Apply(ctx context.Context, ev *billing.SubscriptionEvent) error {
	if ev == nil || ev.CustomerID == "" {
		return nil
	}
	p, err := t.profiles.GetByStripeCustomerID(ctx, ev.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			t.log.Warn("subscription event for unknown customer",
				zap.String("customer_id", ev.CustomerID),
				zap.String("kind", string(ev.Kind)))
			return nil
		}
		return apperr.Internal("failed to load profile", err)
	}

	before := p.SubscriptionStatus
	var (
		status  string
		fields  map[string]interface{}
		from    []string
		subject string
		body    string
	)

	switch ev.Kind {
	case billing.EventSubscriptionDeleted:
		status, fields = models.SubscriptionStatusCanceled, clearedSubscription()
		subject, body = "Your PRO subscription has ended", "<p>Your PRO subscription was canceled. You can subscribe again at any time.</p>"

	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated:
		status = MapProviderStatus(ev.Status, ev.CancelAtPeriodEnd)
		if status == "" {
			t.log.Info("ignoring subscription status", zap.String("status", ev.Status), zap.Uint("user_id", p.ID))
			return nil
		}
		if status == models.SubscriptionStatusCanceled {
			fields = clearedSubscription()
			break
		}
		var cancelAt *time.Time
		if status == models.SubscriptionStatusCanceling {
			cancelAt = ev.CancelAt
		}
		fields = map[string]interface{}{
			"subscription_id": ev.SubscriptionID,
			"trial_end":       ev.TrialEnd,
			"cancel_at":       cancelAt,
		}
		if before != status && ev.Kind == billing.EventSubscriptionCreated {
			subject, body = "Welcome to PRO", "<p>Your PRO subscription is active.</p>"
		}

	case billing.EventInvoicePaid:
		status, from = models.SubscriptionStatusActive, []string{models.SubscriptionStatusPastDue}

	case billing.EventInvoicePaymentFailed:
		if p.SubscriptionID == "" {
			return nil
		}
		status, from = models.SubscriptionStatusPastDue, models.ProSubscriptionStatuses
		subject, body = "Payment failed", "<p>We could not charge your PRO subscription. Please update your payment method.</p>"

	case billing.EventTrialWillEnd:
		t.notify(p, "Your PRO trial ends soon", trialBody(ev.TrialEnd))
		return nil

	default:
		return nil
	}

	changed, err := t.transition(ctx, p.ID, status, fields, from...)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if before != status {
		t.log.Info("subscription state changed",
			zap.Uint("user_id", p.ID),
			zap.String("from", before),
			zap.String("to", status),
			zap.String("kind", string(ev.Kind)))
	}
	if subject != "" {
		t.notify(p, subject, body)
	}
	return nil
}

func clearedSubscription() map[string]interface{} {
	return map[string]interface{}{
		"subscription_id": "",
		"trial_end":       nil,
		"cancel_at":       nil,
	}
}

// MapProviderStatus converts a Stripe subscription status to the local
// state. It returns "" for statuses that should not change local state.
func MapProviderStatus(status string, cancelAtPeriodEnd bool) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		if cancelAtPeriodEnd {
			return models.SubscriptionStatusCanceling
		}
		return models.SubscriptionStatusTrialing
	case "active":
		if cancelAtPeriodEnd {
			return models.SubscriptionStatusCanceling
		}
		return models.SubscriptionStatusActive
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return models.SubscriptionStatusCanceled
	default:
		return ""
	}
}

// notify sends a best-effort email. Failures are logged only.
func (t *Tracker) notify(p *models.Profile, subject, body string) {
	if p.Email == "" {
		return
	}
	if err := t.mailer.Send(p.Email, subject, body); err != nil {
		t.log.Warn("subscription notification failed",
			zap.Uint("user_id", p.ID),
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func cancelBody(at *time.Time) string {
	if at == nil {
		return "<p>Your PRO subscription will end with the current billing period.</p>"
	}
	return fmt.Sprintf("<p>Your PRO subscription will end on %s. You keep PRO access until then.</p>", at.Format("January 2, 2006"))
}

func trialBody(at *time.Time) string {
	if at == nil {
		return "<p>Your PRO trial ends soon.</p>"
	}
	return fmt.Sprintf("<p>Your PRO trial ends on %s.</p>", at.Format("January 2, 2006"))
}
