package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/Melodex/app/models"
	"gorm.io/gorm"
)

type agreementRepository struct {
	db *gorm.DB
}

// NewAgreementRepository creates the collaboration license repository
func NewAgreementRepository(db *gorm.DB) AgreementRepository {
	return &agreementRepository{db: db}
}

func (r *agreementRepository) Create(ctx context.Context, agreement *models.CollaborationAgreement) error {
	return r.db.WithContext(ctx).Create(agreement).Error
}

func (r *agreementRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.CollaborationAgreement, error) {
	var agreement models.CollaborationAgreement
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&agreement).Error
	if err != nil {
		return nil, err
	}
	return &agreement, nil
}

func (r *agreementRepository) FindActive(ctx context.Context, melodyID, collaboratorID uint) (*models.CollaborationAgreement, error) {
	var agreement models.CollaborationAgreement
	err := r.db.WithContext(ctx).
		Where("melody_id = ? AND collaborator_id = ? AND status = ?", melodyID, collaboratorID, models.AgreementStatusActive).
		First(&agreement).Error
	if err != nil {
		return nil, err
	}
	return &agreement, nil
}

func (r *agreementRepository) MarkRevoked(ctx context.Context, id uint, at time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.CollaborationAgreement{}).
		Where("id = ? AND status = ?", id, models.AgreementStatusActive).
		Updates(map[string]any{
			"status":     models.AgreementStatusRevoked,
			"revoked_at": at,
			"updated_at": at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *agreementRepository) AppendRevocation(ctx context.Context, entry *models.LicenseRevocation) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *agreementRepository) ListRevocations(ctx context.Context, transactionID string) ([]models.LicenseRevocation, error) {
	var entries []models.LicenseRevocation
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("created_at ASC, id ASC").Find(&entries).Error
	return entries, err
}

func (r *agreementRepository) CountByProducer(ctx context.Context, producerID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CollaborationAgreement{}).
		Where("producer_id = ? AND status = ?", producerID, models.AgreementStatusActive).
		Count(&count).Error
	return count, err
}
