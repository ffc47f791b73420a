package subscription

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/app/repository/repotest"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/billing"
)

type fakeProvider struct {
	cancelCalls []bool
	cancelAt    *time.Time
	err         error
	checkouts   []billing.SubscriptionCheckoutRequest
	customers   int
	// during runs inside SetCancelAtPeriodEnd, before it returns.
	during func()
}

func (f *fakeProvider) CreateCustomer(_ context.Context, _ uint, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.customers++
	return "cus_new", nil
}

func (f *fakeProvider) CreateSubscriptionCheckout(_ context.Context, req billing.SubscriptionCheckoutRequest) (*billing.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.checkouts = append(f.checkouts, req)
	return &billing.CheckoutSession{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil
}

func (f *fakeProvider) SetCancelAtPeriodEnd(_ context.Context, _ string, cancel bool) (*time.Time, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.cancelCalls = append(f.cancelCalls, cancel)
	if f.during != nil {
		f.during()
	}
	if cancel {
		return f.cancelAt, nil
	}
	return nil, nil
}

type recordingMailer struct {
	sent []string
	err  error
}

func (m *recordingMailer) Send(to, subject, _ string) error {
	m.sent = append(m.sent, subject)
	return m.err
}

type fixture struct {
	store    *repotest.Store
	repos    *repository.Repositories
	provider *fakeProvider
	mailer   *recordingMailer
	tracker  *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repotest.NewStore()
	repos := store.Repositories()
	provider := &fakeProvider{}
	mailer := &recordingMailer{}
	return &fixture{
		store:    store,
		repos:    repos,
		provider: provider,
		mailer:   mailer,
		tracker:  NewTracker(repos.Profile, provider, mailer, Config{TrialDays: DefaultTrialDays}),
	}
}

func (f *fixture) profile(t *testing.T, status, role string) *models.Profile {
	t.Helper()
	p := &models.Profile{
		Username:         "producer",
		Email:            "producer@example.com",
		Role:             role,
		StripeCustomerID: "cus_1",
	}
	if status != models.SubscriptionStatusNone {
		p.SubscriptionID = "sub_1"
	}
	p.ApplySubscriptionStatus(status)
	if role == models.ROLE_ADMIN {
		p.Role = models.ROLE_ADMIN
	}
	require.NoError(t, f.repos.Profile.Create(context.Background(), p))
	return p
}

func (f *fixture) reload(t *testing.T, id uint) *models.Profile {
	t.Helper()
	p, err := f.repos.Profile.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestRequestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("active subscription becomes canceling and keeps pro", func(t *testing.T) {
		f := newFixture(t)
		at := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
		f.provider.cancelAt = &at
		p := f.profile(t, models.SubscriptionStatusActive, models.ROLE_PRO)

		got, err := f.tracker.RequestCancel(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionStatusCanceling, got.SubscriptionStatus)

		stored := f.reload(t, p.ID)
		assert.Equal(t, models.SubscriptionStatusCanceling, stored.SubscriptionStatus)
		assert.Equal(t, models.ROLE_PRO, stored.Role)
		assert.True(t, stored.IsPro)
		require.NotNil(t, stored.CancelAt)
		assert.True(t, stored.CancelAt.Equal(at))
		assert.Equal(t, []bool{true}, f.provider.cancelCalls)
		assert.Len(t, f.mailer.sent, 1)
	})

	t.Run("trialing subscription can be canceled", func(t *testing.T) {
		f := newFixture(t)
		p := f.profile(t, models.SubscriptionStatusTrialing, models.ROLE_PRO)
		_, err := f.tracker.RequestCancel(ctx, p.ID)
		assert.NoError(t, err)
	})

	for _, status := range []string{models.SubscriptionStatusNone, models.SubscriptionStatusCanceling, models.SubscriptionStatusCanceled, models.SubscriptionStatusPastDue} {
		t.Run("rejects "+status, func(t *testing.T) {
			f := newFixture(t)
			p := f.profile(t, status, models.ROLE_FREE)
			_, err := f.tracker.RequestCancel(ctx, p.ID)
			assert.ErrorIs(t, err, ErrNoActiveSubscription)
			assert.Empty(t, f.provider.cancelCalls)
			assert.Equal(t, status, f.reload(t, p.ID).SubscriptionStatus)
		})
	}

	t.Run("provider failure leaves state untouched", func(t *testing.T) {
		f := newFixture(t)
		f.provider.err = apperr.External("", errors.New("timeout"))
		p := f.profile(t, models.SubscriptionStatusActive, models.ROLE_PRO)

		_, err := f.tracker.RequestCancel(ctx, p.ID)
		assert.Equal(t, apperr.KindExternalService, apperr.KindOf(err))
		assert.Equal(t, models.SubscriptionStatusActive, f.reload(t, p.ID).SubscriptionStatus)
	})

	t.Run("mail failure is swallowed", func(t *testing.T) {
		f := newFixture(t)
		f.mailer.err = errors.New("smtp down")
		p := f.profile(t, models.SubscriptionStatusActive, models.ROLE_PRO)
		_, err := f.tracker.RequestCancel(ctx, p.ID)
		assert.NoError(t, err)
	})

	t.Run("unknown profile", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.tracker.RequestCancel(ctx, 404)
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})
}

func TestReactivate(t *testing.T) {
	ctx := context.Background()

	t.Run("canceling becomes active", func(t *testing.T) {
		f := newFixture(t)
		p := f.profile(t, models.SubscriptionStatusCanceling, models.ROLE_PRO)

		_, err := f.tracker.Reactivate(ctx, p.ID)
		require.NoError(t, err)

		stored := f.reload(t, p.ID)
		assert.Equal(t, models.SubscriptionStatusActive, stored.SubscriptionStatus)
		assert.Nil(t, stored.CancelAt)
		assert.Equal(t, []bool{false}, f.provider.cancelCalls)
	})

	for _, status := range []string{models.SubscriptionStatusActive, models.SubscriptionStatusCanceled, models.SubscriptionStatusNone} {
		t.Run("rejects "+status, func(t *testing.T) {
			f := newFixture(t)
			p := f.profile(t, status, models.ROLE_FREE)
			_, err := f.tracker.Reactivate(ctx, p.ID)
			assert.ErrorIs(t, err, ErrNotCancelable)
			assert.Equal(t, 409, apperr.StatusOf(err))
		})
	}
}

func TestReactivate_DeletedWhileProviderCallInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.profile(t, models.SubscriptionStatusCanceling, models.ROLE_PRO)
	f.provider.during = func() {
		require.NoError(t, f.tracker.Apply(ctx, &billing.SubscriptionEvent{
			Kind: billing.EventSubscriptionDeleted, CustomerID: "cus_1", SubscriptionID: "sub_1",
		}))
	}

	_, err := f.tracker.Reactivate(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotCancelable)

	stored := f.reload(t, p.ID)
	assert.Equal(t, models.ROLE_FREE, stored.Role)
	assert.False(t, stored.IsPro)
	assert.Equal(t, models.SubscriptionStatusCanceled, stored.SubscriptionStatus)
	assert.Empty(t, stored.SubscriptionID)
	assert.Nil(t, stored.CancelAt)
}

func TestRequestCancel_DeletedWhileProviderCallInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.profile(t, models.SubscriptionStatusActive, models.ROLE_PRO)
	f.provider.during = func() {
		require.NoError(t, f.tracker.Apply(ctx, &billing.SubscriptionEvent{
			Kind: billing.EventSubscriptionDeleted, CustomerID: "cus_1", SubscriptionID: "sub_1",
		}))
	}

	_, err := f.tracker.RequestCancel(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	stored := f.reload(t, p.ID)
	assert.Equal(t, models.ROLE_FREE, stored.Role)
	assert.Equal(t, models.SubscriptionStatusCanceled, stored.SubscriptionStatus)
	assert.Nil(t, stored.CancelAt)
	assert.Len(t, f.mailer.sent, 1, "only the deletion notice is sent")
}

func TestLinkCheckout_OnlyWritesIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.profile(t, models.SubscriptionStatusActive, models.ROLE_PRO)

	require.NoError(t, f.tracker.LinkCheckout(ctx, &billing.CheckoutEvent{
		SessionID: "cs_2", Mode: "subscription", SubscriptionID: "sub_2", ClientReferenceID: strconv.FormatUint(uint64(p.ID), 10),
	}))
	stored := f.reload(t, p.ID)
	assert.Equal(t, "sub_2", stored.SubscriptionID)
	assert.Equal(t, "cus_1", stored.StripeCustomerID)
	assert.Equal(t, models.SubscriptionStatusActive, stored.SubscriptionStatus)
	assert.Equal(t, models.ROLE_PRO, stored.Role)
}

func TestApply_SubscriptionDeleted(t *testing.T) {
	ctx := context.Background()

	for _, status := range []string{models.SubscriptionStatusActive, models.SubscriptionStatusCanceling, models.SubscriptionStatusPastDue} {
		t.Run("from "+status, func(t *testing.T) {
			f := newFixture(t)
			p := f.profile(t, status, models.ROLE_PRO)

			err := f.tracker.Apply(ctx, &billing.SubscriptionEvent{Kind: billing.EventSubscriptionDeleted, CustomerID: "cus_1", SubscriptionID: "sub_1"})
			require.NoError(t, err)

			stored := f.reload(t, p.ID)
			assert.Equal(t, models.ROLE_FREE, stored.Role)
			assert.False(t, stored.IsPro)
			assert.Equal(t, models.SubscriptionStatusCanceled, stored.SubscriptionStatus)
			assert.Empty(t, stored.SubscriptionID)
			assert.Nil(t, stored.CancelAt)
			assert.Equal(t, "cus_1", stored.StripeCustomerID)
		})
	}

	t.Run("admin keeps admin role", func(t *testing.T) {
		f := newFixture(t)
		p := f.profile(t, models.SubscriptionStatusActive, models.ROLE_ADMIN)

		require.NoError(t, f.tracker.Apply(ctx, &billing.SubscriptionEvent{Kind: billing.EventSubscriptionDeleted, CustomerID: "cus_1"}))
		stored := f.reload(t, p.ID)
		assert.Equal(t, models.ROLE_ADMIN, stored.Role)
		assert.Equal(t, models.SubscriptionStatusCanceled, stored.SubscriptionStatus)
	})
}

func TestApply_SubscriptionUpdated(t *testing.T) {
	ctx := context.Background()
	trialEnd := time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC)

	f := newFixture(t)
	p := f.profile(t, models.SubscriptionStatusNone, models.ROLE_FREE)

	require.NoError(t, f.tracker.Apply(ctx, &billing.SubscriptionEvent{
		Kind: billing.EventSubscriptionCreated, CustomerID: "cus_1", SubscriptionID: "sub_9", Status: "trialing", TrialEnd: &trialEnd,
	}))
	stored := f.reload(t, p.ID)
	assert.Equal(t, models.SubscriptionStatusTrialing, stored.SubscriptionStatus)
	assert.Equal(t, models.ROLE_PRO, stored.Role)
	assert.Equal(t, "sub_9", stored.SubscriptionID)
	assert.Equal(t, []string{"Welcome to PRO"}, f.mailer.sent)

	cancelAt := time.Date(2026, 11, 25, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.tracker.Apply(ctx, &billing.SubscriptionEvent{
		Kind: billing.EventSubscriptionUpdated, CustomerID: "cus_1", SubscriptionID: "sub_9", Status: "active", CancelAtPeriodEnd: true, CancelAt: &cancelAt,
	}))
	stored = f.reload(t, p.ID)
	assert.Equal(t, models.SubscriptionStatusCanceling, stored.SubscriptionStatus)
	assert.Equal(t, models.ROLE_PRO, stored.Role)
	require.NotNil(t, stored.CancelAt)

	require.NoError(t, f.tracker.Apply(ctx, &billing.SubscriptionEvent{
		Kind: billing.EventSubscriptionUpdated, CustomerID: "cus_1", SubscriptionID: "sub_9", Status: "past_due",
	}))
	stored = f.reload(t, p.ID)
	assert.Equal(t, models.SubscriptionStatusPastDue, stored.SubscriptionStatus)
	assert.Equal(t, models.ROLE_FREE, stored.Role)

	require.NoError(t, f.tracker.Apply(ctx, &billing.SubscriptionEvent{
		Kind: billing.EventSubscriptionUpdated, CustomerID: "cus_1", Status: "incomplete",
	}))
	assert.Equal(t, models.SubscriptionStatusPastDue, f.reload(t, p.ID).SubscriptionStatus, "unmapped statuses leave state alone")
}

func TestApply_Invoices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.profile(t, models.SubscriptionStatusActive, models.ROLE_PRO)

	require.NoError(t, f.tracker.Apply(ctx, &billing.SubscriptionEvent{Kind: billing.EventInvoicePaymentFailed, CustomerID: "cus_1"}))
	stored := f.reload(t, p.ID)
	assert.Equal(t, models.SubscriptionStatusPastDue, stored.SubscriptionStatus)
	assert.Equal(t, models.ROLE_FREE, stored.Role)

	require.NoError(t, f.tracker.Apply(ctx, &billing.SubscriptionEvent{Kind: billing.EventInvoicePaid, CustomerID: "cus_1"}))
	stored = f.reload(t, p.ID)
	assert.Equal(t, models.SubscriptionStatusActive, stored.SubscriptionStatus)
	assert.Equal(t, models.ROLE_PRO, stored.Role)

	require.NoError(t, f.tracker.Apply(ctx, &billing.SubscriptionEvent{Kind: billing.EventInvoicePaid, CustomerID: "cus_1"}))
	assert.Equal(t, models.SubscriptionStatusActive, f.reload(t, p.ID).SubscriptionStatus)
}

func TestApply_TrialWillEndOnlyNotifies(t *testing.T) {
	f := newFixture(t)
	p := f.profile(t, models.SubscriptionStatusTrialing, models.ROLE_PRO)

	require.NoError(t, f.tracker.Apply(context.Background(), &billing.SubscriptionEvent{Kind: billing.EventTrialWillEnd, CustomerID: "cus_1"}))
	assert.Equal(t, models.SubscriptionStatusTrialing, f.reload(t, p.ID).SubscriptionStatus)
	assert.Equal(t, []string{"Your PRO trial ends soon"}, f.mailer.sent)
}

func TestApply_UnknownCustomerIsIgnored(t *testing.T) {
	f := newFixture(t)
	err := f.tracker.Apply(context.Background(), &billing.SubscriptionEvent{Kind: billing.EventSubscriptionDeleted, CustomerID: "cus_unknown"})
	assert.NoError(t, err)
}

func TestApply_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.profile(t, models.SubscriptionStatusActive, models.ROLE_PRO)
	f.store.FailOn("Profile.UpdateSubscription", errors.New("connection refused"))

	err := f.tracker.Apply(context.Background(), &billing.SubscriptionEvent{Kind: billing.EventSubscriptionDeleted, CustomerID: "cus_1"})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, 500, apperr.StatusOf(err))
}

func TestStartCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("creates customer and grants trial on first checkout", func(t *testing.T) {
		f := newFixture(t)
		p := &models.Profile{Username: "newbie", Email: "newbie@example.com"}
		require.NoError(t, f.repos.Profile.Create(ctx, p))

		sess, err := f.tracker.StartCheckout(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "cs_1", sess.ID)
		assert.Equal(t, 1, f.provider.customers)
		assert.Equal(t, "cus_new", f.reload(t, p.ID).StripeCustomerID)
		require.Len(t, f.provider.checkouts, 1)
		assert.Equal(t, int64(DefaultTrialDays), f.provider.checkouts[0].TrialDays)
	})

	t.Run("no trial after a previous subscription", func(t *testing.T) {
		f := newFixture(t)
		p := f.profile(t, models.SubscriptionStatusCanceled, models.ROLE_FREE)

		_, err := f.tracker.StartCheckout(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, f.provider.customers)
		assert.Equal(t, int64(0), f.provider.checkouts[0].TrialDays)
	})

	t.Run("already subscribed", func(t *testing.T) {
		f := newFixture(t)
		p := f.profile(t, models.SubscriptionStatusActive, models.ROLE_PRO)
		_, err := f.tracker.StartCheckout(ctx, p.ID)
		assert.ErrorIs(t, err, ErrAlreadySubscribed)
	})
}

func TestLinkCheckout(t *testing.T) {
	f := newFixture(t)
	p := &models.Profile{Username: "newbie", Email: "newbie@example.com"}
	require.NoError(t, f.repos.Profile.Create(context.Background(), p))

	err := f.tracker.LinkCheckout(context.Background(), &billing.CheckoutEvent{
		SessionID: "cs_1", Mode: "subscription", CustomerID: "cus_7", SubscriptionID: "sub_7", ClientReferenceID: "1",
	})
	require.NoError(t, err)
	stored := f.reload(t, p.ID)
	assert.Equal(t, "cus_7", stored.StripeCustomerID)
	assert.Equal(t, "sub_7", stored.SubscriptionID)

	assert.NoError(t, f.tracker.LinkCheckout(context.Background(), &billing.CheckoutEvent{ClientReferenceID: "abc"}))
}

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		status string
		cancel bool
		want   string
	}{
		{"trialing", false, models.SubscriptionStatusTrialing},
		{"active", false, models.SubscriptionStatusActive},
		{"active", true, models.SubscriptionStatusCanceling},
		{"trialing", true, models.SubscriptionStatusCanceling},
		{"past_due", false, models.SubscriptionStatusPastDue},
		{"unpaid", false, models.SubscriptionStatusPastDue},
		{"canceled", true, models.SubscriptionStatusCanceled},
		{"incomplete", false, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapProviderStatus(tt.status, tt.cancel), "%s cancel=%v", tt.status, tt.cancel)
	}
}
