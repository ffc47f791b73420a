package repository

import (
	"context"
	"strings"

	"github.com/ManuelReschke/Melodex/app/models"
	"gorm.io/gorm"
)

type melodyRepository struct {
	db *gorm.DB
}

// NewMelodyRepository creates a new melody repository instance
func NewMelodyRepository(db *gorm.DB) MelodyRepository {
	return &melodyRepository{db: db}
}

func (r *melodyRepository) Create(ctx context.Context, melody *models.Melody) error {
	return r.db.WithContext(ctx).Create(melody).Error
}

func (r *melodyRepository) GetByID(ctx context.Context, id uint) (*models.Melody, error) {
	var melody models.Melody
	if err := r.db.WithContext(ctx).First(&melody, id).Error; err != nil {
		return nil, err
	}
	return &melody, nil
}

func (r *melodyRepository) List(ctx context.Context, filter MelodyFilter, page Page) ([]models.Melody, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Melody{})
	if s := strings.TrimSpace(filter.Search); s != "" {
		q = q.Where("title ILIKE ?", "%"+s+"%")
	}
	if g := strings.TrimSpace(filter.Genre); g != "" {
		q = q.Where("genre ILIKE ?", g)
	}
	if filter.ProducerID != 0 {
		q = q.Where("producer_id = ?", filter.ProducerID)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var melodies []models.Melody
	err := q.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit).Find(&melodies).Error
	return melodies, total, err
}

func (r *melodyRepository) CountByProducer(ctx context.Context, producerID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Melody{}).Where("producer_id = ?", producerID).Count(&count).Error
	return count, err
}

// IncrementDownloads applies a batched counter delta.
func (r *melodyRepository) IncrementDownloads(ctx context.Context, id uint, by int64) error {
	return r.db.WithContext(ctx).Model(&models.Melody{}).
		Where("id = ?", id).
		UpdateColumn("download_count", gorm.Expr("download_count + ?", by)).Error
}
