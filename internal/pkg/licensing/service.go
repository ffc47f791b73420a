// Package licensing manages collaboration licenses on melodies.
package licensing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/logger"
)

var (
	ErrLicenseNotFound = apperr.NotFound("license not found")
	ErrMelodyNotFound  = apperr.NotFound("melody not found")
	ErrForbidden       = apperr.Forbidden("only the melody's producer or an admin can revoke this license")
	ErrAlreadyRevoked  = apperr.Conflict("license is already revoked")
)

// DownloadURLTTL is how long a licensed download link stays valid.
const DownloadURLTTL = 15 * time.Minute

// URLSigner issues short-lived download links for stored objects.
type URLSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DownloadCounter records melody downloads.
type DownloadCounter interface {
	AddMelodyDownload(ctx context.Context, melodyID uint) error
}

// Verification is the public view of a license.
type Verification struct {
	TransactionID   string     `json:"transaction_id"`
	Status          string     `json:"status"`
	Valid           bool       `json:"valid"`
	MelodyID        uint       `json:"melody_id"`
	MelodyTitle     string     `json:"melody_title"`
	Producer        string     `json:"producer"`
	Collaborator    string     `json:"collaborator"`
	SplitPercentage int        `json:"split_percentage"`
	IssuedAt        time.Time  `json:"issued_at"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
}

// Grant is a licensed download.
type Grant struct {
	Agreement   *models.CollaborationAgreement `json:"license,omitempty"`
	DownloadURL string                         `json:"download_url"`
	ExpiresAt   time.Time                      `json:"expires_at"`
}

type Service struct {
	agreements repository.AgreementRepository
	melodies   repository.MelodyRepository
	profiles   repository.ProfileRepository
	signer     URLSigner
	counter    DownloadCounter
	now        func() time.Time
	log        *zap.Logger
}

func NewService(repos *repository.Repositories, signer URLSigner, counter DownloadCounter) *Service {
	return &Service{
		agreements: repos.Agreement,
		melodies:   repos.Melody,
		profiles:   repos.Profile,
		signer:     signer,
		counter:    counter,
		now:        time.Now,
		log:        logger.Named("licensing"),
	}
}

func (s *Service) loadByTransaction(ctx context.Context, transactionID string) (*models.CollaborationAgreement, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, ErrLicenseNotFound
	}
	a, err := s.agreements.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, apperr.Internal("failed to load license", err)
	}
	return a, nil
}

// Revoke ends a license for good. A history row is written before the
// status flips so every attempt that passed authorization is on record.
func (s *Service) Revoke(ctx context.Context, transactionID string, actorID uint, reason string) (*models.CollaborationAgreement, error) {
	a, err := s.loadByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.canRevoke(ctx, a, actorID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrForbidden
	}
	if !a.IsActive() {
		return nil, ErrAlreadyRevoked
	}

	entry := &models.LicenseRevocation{
		AgreementID:   a.ID,
		TransactionID: a.TransactionID,
		ActorID:       actorID,
		Reason:        strings.TrimSpace(reason),
	}
	if err := s.agreements.AppendRevocation(ctx, entry); err != nil {
		return nil, apperr.Internal("failed to record revocation", err)
	}

	at := s.now()
	changed, err := s.agreements.MarkRevoked(ctx, a.ID, at)
	if err != nil {
		return nil, apperr.Internal("failed to revoke license", err)
	}
	if !changed {
		return nil, ErrAlreadyRevoked
	}

	s.log.Info("license revoked",
		zap.String("transaction_id", a.TransactionID),
		zap.Uint("actor_id", actorID))

	a.Status = models.AgreementStatusRevoked
	a.RevokedAt = &at
	return a, nil
}

func (s *Service) canRevoke(ctx context.Context, a *models.CollaborationAgreement, actorID uint) (bool, error) {
	if actorID == 0 {
		return false, nil
	}
	melody, err := s.melodies.GetByID(ctx, a.MelodyID)
	switch {
	case err == nil:
		if melody.ProducerID == actorID {
			return true, nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, apperr.Internal("failed to load melody", err)
	}

	actor, err := s.profiles.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, apperr.Internal("failed to load profile", err)
	}
	return actor.IsAdmin(), nil
}

// History returns the revocation log of a license, oldest first.
func (s *Service) History(ctx context.Context, transactionID string) ([]models.LicenseRevocation, error) {
	entries, err := s.agreements.ListRevocations(ctx, strings.TrimSpace(transactionID))
	if err != nil {
		return nil, apperr.Internal("failed to load revocation history", err)
	}
	return entries, nil
}

// Verify returns the public verification payload of a license.
func (s *Service) Verify(ctx context.Context, transactionID string) (*Verification, error) {
	a, err := s.loadByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	v := &Verification{
		TransactionID:   a.TransactionID,
		Status:          a.Status,
		Valid:           a.IsActive(),
		MelodyID:        a.MelodyID,
		SplitPercentage: a.SplitPercentage,
		IssuedAt:        a.CreatedAt,
		RevokedAt:       a.RevokedAt,
	}
	if m, err := s.melodies.GetByID(ctx, a.MelodyID); err == nil {
		v.MelodyTitle = m.Title
	}
	if p, err := s.profiles.GetByID(ctx, a.ProducerID); err == nil {
		v.Producer = p.Username
	}
	if p, err := s.profiles.GetByID(ctx, a.CollaboratorID); err == nil {
		v.Collaborator = p.Username
	}
	return v, nil
}

// Grant hands out a signed download link for a melody. Collaborators get an
// active license, reusing the existing one; the producer needs none.
func (s *Service) Grant(ctx context.Context, melodyID, collaboratorID uint) (*Grant, error) {
	melody, err := s.melodies.GetByID(ctx, melodyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMelodyNotFound
		}
		return nil, apperr.Internal("failed to load melody", err)
	}

	var agreement *models.CollaborationAgreement
	if melody.ProducerID != collaboratorID {
		agreement, err = s.findOrCreate(ctx, melody, collaboratorID)
		if err != nil {
			return nil, err
		}
	}

	url, err := s.signer.SignedURL(ctx, melody.AudioKey, DownloadURLTTL)
	if err != nil {
		return nil, apperr.External("storage unavailable", err)
	}

	if s.counter != nil {
		if err := s.counter.AddMelodyDownload(ctx, melody.ID); err != nil {
			s.log.Warn("failed to count melody download", zap.Uint("melody_id", melody.ID), zap.Error(err))
		}
	}

	return &Grant{
		Agreement:   agreement,
		DownloadURL: url,
		ExpiresAt:   s.now().Add(DownloadURLTTL),
	}, nil
}

func (s *Service) findOrCreate(ctx context.Context, melody *models.Melody, collaboratorID uint) (*models.CollaborationAgreement, error) {
	existing, err := s.agreements.FindActive(ctx, melody.ID, collaboratorID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal("failed to load license", err)
	}

	split := melody.SplitPercentage
	if split < 1 || split > 100 {
		split = 50
	}
	agreement := &models.CollaborationAgreement{
		MelodyID:        melody.ID,
		ProducerID:      melody.ProducerID,
		CollaboratorID:  collaboratorID,
		SplitPercentage: split,
		Status:          models.AgreementStatusActive,
		TransactionID:   uuid.NewString(),
	}
	if err := s.agreements.Create(ctx, agreement); err != nil {
		return nil, apperr.Internal("failed to create license", err)
	}
	s.log.Info("license granted",
		zap.String("transaction_id", agreement.TransactionID),
		zap.Uint("melody_id", melody.ID),
		zap.Uint("collaborator_id", collaboratorID))
	return agreement, nil
}
