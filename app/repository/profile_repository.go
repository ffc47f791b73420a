package repository

import (
	"context"
	"strings"

	"github.com/ManuelReschke/Melodex/app/models"
	"gorm.io/gorm"
)

// profileRepository implements the ProfileRepository interface
type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository instance
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

// Create creates a new profile in the database
func (r *profileRepository) Create(ctx context.Context, profile *models.Profile) error {
	return r.db.WithContext(ctx).Create(profile).Error
}

// GetByID retrieves a profile by its ID
func (r *profileRepository) GetByID(ctx context.Context, id uint) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).First(&profile, id).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetByStripeCustomerID resolves a Stripe customer to the local profile
func (r *profileRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	trimmed := strings.TrimSpace(customerID)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var profile models.Profile
	err := r.db.WithContext(ctx).Where("stripe_customer_id = ?", trimmed).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateFields updates the given columns of an existing profile
func (r *profileRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateSubscription writes the billing columns in a single conditional statement
func (r *profileRepository) UpdateSubscription(ctx context.Context, id uint, status string, fields map[string]interface{}, from ...string) (bool, error) {
	values := map[string]interface{}{
		"subscription_status": status,
		"is_pro":              models.SubscriptionGrantsPro(status),
		"role":                gorm.Expr("CASE WHEN role = ? THEN role ELSE ? END", models.ROLE_ADMIN, models.SubscriptionRole(status)),
	}
	for col, v := range fields {
		values[col] = v
	}

	q := r.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("subscription_status IN ?", from)
	}
	res := q.Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetAdmin grants or revokes the admin role
func (r *profileRepository) SetAdmin(ctx context.Context, id uint, admin bool) error {
	q := r.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", id)
	if admin {
		return q.Update("role", models.ROLE_ADMIN).Error
	}
	return q.Where("role = ?", models.ROLE_ADMIN).
		Update("role", gorm.Expr("CASE WHEN subscription_status IN ? THEN ? ELSE ? END",
			models.ProSubscriptionStatuses, models.ROLE_PRO, models.ROLE_FREE)).Error
}

// List returns a page of profiles, optionally filtered by username or email
func (r *profileRepository) List(ctx context.Context, query string, page Page) ([]models.Profile, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Profile{})
	if s := strings.TrimSpace(query); s != "" {
		pattern := "%" + s + "%"
		q = q.Where("username ILIKE ? OR email ILIKE ?", pattern, pattern)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var profiles []models.Profile
	err := q.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit).Find(&profiles).Error
	return profiles, total, err
}
