package licensing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/app/repository/repotest"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
)

type stubSigner struct{ err error }

func (s stubSigner) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://cdn.test/" + key + "?sig=abc", nil
}

type countingCounter struct{ hits map[uint]int }

func (c *countingCounter) AddMelodyDownload(_ context.Context, id uint) error {
	c.hits[id]++
	return nil
}

type fixture struct {
	store        *repotest.Store
	repos        *repository.Repositories
	svc          *Service
	counter      *countingCounter
	producer     *models.Profile
	collaborator *models.Profile
	stranger     *models.Profile
	admin        *models.Profile
	melody       *models.Melody
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repotest.NewStore()
	repos := store.Repositories()

	f := &fixture{
		store:        store,
		repos:        repos,
		counter:      &countingCounter{hits: map[uint]int{}},
		producer:     &models.Profile{Username: "producer", Email: "producer@example.com"},
		collaborator: &models.Profile{Username: "collab", Email: "collab@example.com"},
		stranger:     &models.Profile{Username: "stranger", Email: "stranger@example.com"},
		admin:        &models.Profile{Username: "admin", Email: "admin@example.com", Role: models.ROLE_ADMIN},
	}
	for _, p := range []*models.Profile{f.producer, f.collaborator, f.stranger, f.admin} {
		require.NoError(t, repos.Profile.Create(ctx, p))
	}
	f.melody = &models.Melody{ProducerID: f.producer.ID, Title: "Night Keys", AudioKey: "melodies/night.wav", SplitPercentage: 40}
	require.NoError(t, repos.Melody.Create(ctx, f.melody))
	f.svc = NewService(repos, stubSigner{}, f.counter)
	return f
}

func (f *fixture) grant(t *testing.T) *models.CollaborationAgreement {
	t.Helper()
	g, err := f.svc.Grant(context.Background(), f.melody.ID, f.collaborator.ID)
	require.NoError(t, err)
	require.NotNil(t, g.Agreement)
	return g.Agreement
}

func TestGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.svc.Grant(ctx, f.melody.ID, f.collaborator.ID)
	require.NoError(t, err)
	require.NotNil(t, g.Agreement)
	assert.Equal(t, models.AgreementStatusActive, g.Agreement.Status)
	assert.Equal(t, 40, g.Agreement.SplitPercentage)
	assert.Len(t, g.Agreement.TransactionID, 36)
	assert.Contains(t, g.DownloadURL, "melodies/night.wav")

	again, err := f.svc.Grant(ctx, f.melody.ID, f.collaborator.ID)
	require.NoError(t, err)
	assert.Equal(t, g.Agreement.TransactionID, again.Agreement.TransactionID, "active license is reused")
	assert.Equal(t, 2, f.counter.hits[f.melody.ID])

	own, err := f.svc.Grant(ctx, f.melody.ID, f.producer.ID)
	require.NoError(t, err)
	assert.Nil(t, own.Agreement)

	_, err = f.svc.Grant(ctx, 999, f.collaborator.ID)
	assert.ErrorIs(t, err, ErrMelodyNotFound)
}

func TestGrant_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.signer = stubSigner{err: errors.New("s3 down")}

	_, err := f.svc.Grant(context.Background(), f.melody.ID, f.collaborator.ID)
	assert.Equal(t, apperr.KindExternalService, apperr.KindOf(err))
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("producer revokes", func(t *testing.T) {
		f := newFixture(t)
		a := f.grant(t)

		revoked, err := f.svc.Revoke(ctx, a.TransactionID, f.producer.ID, "stolen sample")
		require.NoError(t, err)
		assert.Equal(t, models.AgreementStatusRevoked, revoked.Status)
		assert.NotNil(t, revoked.RevokedAt)

		history, err := f.svc.History(ctx, a.TransactionID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, f.producer.ID, history[0].ActorID)
		assert.Equal(t, "stolen sample", history[0].Reason)
	})

	t.Run("admin revokes", func(t *testing.T) {
		f := newFixture(t)
		a := f.grant(t)
		_, err := f.svc.Revoke(ctx, a.TransactionID, f.admin.ID, "")
		assert.NoError(t, err)
	})

	t.Run("collaborator and stranger are forbidden", func(t *testing.T) {
		f := newFixture(t)
		a := f.grant(t)

		_, err := f.svc.Revoke(ctx, a.TransactionID, f.collaborator.ID, "")
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.svc.Revoke(ctx, a.TransactionID, f.stranger.ID, "")
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Equal(t, 403, apperr.StatusOf(err))
		assert.Empty(t, f.store.Revocations())

		v, err := f.svc.Verify(ctx, a.TransactionID)
		require.NoError(t, err)
		assert.True(t, v.Valid)
	})

	t.Run("unknown license", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Revoke(ctx, "00000000-0000-0000-0000-000000000000", f.producer.ID, "")
		assert.ErrorIs(t, err, ErrLicenseNotFound)
		_, err = f.svc.Revoke(ctx, "", f.producer.ID, "")
		assert.ErrorIs(t, err, ErrLicenseNotFound)
	})

	t.Run("revoking twice is a conflict", func(t *testing.T) {
		f := newFixture(t)
		a := f.grant(t)
		_, err := f.svc.Revoke(ctx, a.TransactionID, f.producer.ID, "")
		require.NoError(t, err)

		_, err = f.svc.Revoke(ctx, a.TransactionID, f.producer.ID, "")
		assert.ErrorIs(t, err, ErrAlreadyRevoked)
		assert.Len(t, f.store.Revocations(), 1)
	})

	t.Run("revocation is permanent", func(t *testing.T) {
		f := newFixture(t)
		a := f.grant(t)
		_, err := f.svc.Revoke(ctx, a.TransactionID, f.producer.ID, "")
		require.NoError(t, err)

		g, err := f.svc.Grant(ctx, f.melody.ID, f.collaborator.ID)
		require.NoError(t, err)
		assert.NotEqual(t, a.TransactionID, g.Agreement.TransactionID, "a new license is issued, the old one stays revoked")

		v, err := f.svc.Verify(ctx, a.TransactionID)
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Equal(t, models.AgreementStatusRevoked, v.Status)
	})

	t.Run("history write failure leaves license active", func(t *testing.T) {
		f := newFixture(t)
		a := f.grant(t)
		f.store.FailOn("Agreement.AppendRevocation", errors.New("disk full"))

		_, err := f.svc.Revoke(ctx, a.TransactionID, f.producer.ID, "")
		assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

		v, err := f.svc.Verify(ctx, a.TransactionID)
		require.NoError(t, err)
		assert.True(t, v.Valid)
	})
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	a := f.grant(t)

	v, err := f.svc.Verify(context.Background(), a.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "Night Keys", v.MelodyTitle)
	assert.Equal(t, "producer", v.Producer)
	assert.Equal(t, "collab", v.Collaborator)
	assert.Equal(t, 40, v.SplitPercentage)
	assert.True(t, v.Valid)

	_, err = f.svc.Verify(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}
