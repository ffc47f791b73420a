package repository

import (
	"context"

	"github.com/ManuelReschke/Melodex/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type followRepository struct {
	db *gorm.DB
}

// NewFollowRepository creates a new follow repository instance
func NewFollowRepository(db *gorm.DB) FollowRepository {
	return &followRepository{db: db}
}

func (r *followRepository) Exists(ctx context.Context, followerID, producerID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProducerFollow{}).
		Where("follower_id = ? AND producer_id = ?", followerID, producerID).
		Count(&count).Error
	return count > 0, err
}

// Create ignores a concurrent duplicate of the same pair.
func (r *followRepository) Create(ctx context.Context, follow *models.ProducerFollow) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "follower_id"}, {Name: "producer_id"}},
		DoNothing: true,
	}).Create(follow).Error
}

func (r *followRepository) Delete(ctx context.Context, followerID, producerID uint) (bool, error) {
	tx := r.db.WithContext(ctx).
		Where("follower_id = ? AND producer_id = ?", followerID, producerID).
		Delete(&models.ProducerFollow{})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *followRepository) CountFollowers(ctx context.Context, producerID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProducerFollow{}).Where("producer_id = ?", producerID).Count(&count).Error
	return count, err
}
