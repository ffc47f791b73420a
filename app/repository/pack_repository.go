package repository

import (
	"context"
	"strings"

	"github.com/ManuelReschke/Melodex/app/models"
	"gorm.io/gorm"
)

type packRepository struct {
	db *gorm.DB
}

// NewPackRepository creates a repository for packs and sample packs
func NewPackRepository(db *gorm.DB) PackRepository {
	return &packRepository{db: db}
}

func (r *packRepository) table(ctx context.Context, line models.ProductLine) *gorm.DB {
	return r.db.WithContext(ctx).Table(line.ItemTable())
}

func (r *packRepository) Create(ctx context.Context, line models.ProductLine, pack *models.Pack) error {
	return r.table(ctx, line).Create(pack).Error
}

func (r *packRepository) GetByID(ctx context.Context, line models.ProductLine, id uint) (*models.Pack, error) {
	var pack models.Pack
	if err := r.table(ctx, line).Where("id = ?", id).First(&pack).Error; err != nil {
		return nil, err
	}
	return &pack, nil
}

// List searches titles and descriptions case-insensitively.
func (r *packRepository) List(ctx context.Context, line models.ProductLine, filter PackFilter, page Page) ([]models.Pack, int64, error) {
	q := r.table(ctx, line)
	if s := strings.TrimSpace(filter.Search); s != "" {
		pattern := "%" + s + "%"
		q = q.Where("title ILIKE ? OR description ILIKE ?", pattern, pattern)
	}
	if filter.CategoryID != 0 {
		q = q.Where("category_id = ?", filter.CategoryID)
	}
	if filter.ProducerID != 0 {
		q = q.Where("producer_id = ?", filter.ProducerID)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var packs []models.Pack
	err := q.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit).Find(&packs).Error
	return packs, total, err
}

func (r *packRepository) CountByProducer(ctx context.Context, line models.ProductLine, producerID uint) (int64, error) {
	var count int64
	err := r.table(ctx, line).Where("producer_id = ?", producerID).Count(&count).Error
	return count, err
}
