package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/Melodex/app/models"
	"gorm.io/gorm"
)

type saleRepository struct {
	db *gorm.DB
}

// NewSaleRepository creates the ledger repository for both sales tables
func NewSaleRepository(db *gorm.DB) SaleRepository {
	return &saleRepository{db: db}
}

func (r *saleRepository) table(ctx context.Context, line models.ProductLine) *gorm.DB {
	return r.db.WithContext(ctx).Table(line.SalesTable())
}

func (r *saleRepository) Create(ctx context.Context, line models.ProductLine, sale *models.Sale) error {
	return r.table(ctx, line).Create(sale).Error
}

func (r *saleRepository) GetByID(ctx context.Context, line models.ProductLine, id uint) (*models.Sale, error) {
	var sale models.Sale
	if err := r.table(ctx, line).Where("id = ?", id).First(&sale).Error; err != nil {
		return nil, err
	}
	return &sale, nil
}

func (r *saleRepository) GetByProviderTransactionID(ctx context.Context, line models.ProductLine, ref string) (*models.Sale, error) {
	if ref == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var sale models.Sale
	if err := r.table(ctx, line).Where("provider_transaction_id = ?", ref).First(&sale).Error; err != nil {
		return nil, err
	}
	return &sale, nil
}

func (r *saleRepository) SetProviderTransactionID(ctx context.Context, line models.ProductLine, id uint, ref string) error {
	tx := r.table(ctx, line).
		Where("id = ? AND status = ?", id, models.SaleStatusPending).
		Updates(map[string]any{"provider_transaction_id": ref, "updated_at": time.Now()})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *saleRepository) HasCompleted(ctx context.Context, line models.ProductLine, buyerID, itemID uint) (bool, error) {
	var count int64
	err := r.table(ctx, line).
		Where("buyer_id = ? AND item_id = ? AND status = ?", buyerID, itemID, models.SaleStatusCompleted).
		Count(&count).Error
	return count > 0, err
}

// TransitionStatus is a single conditional UPDATE so concurrent callers
// cannot both apply the same transition.
func (r *saleRepository) TransitionStatus(ctx context.Context, line models.ProductLine, id uint, from []string, to string, at time.Time) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": at}
	switch to {
	case models.SaleStatusCompleted:
		updates["completed_at"] = at
	case models.SaleStatusRefunded:
		updates["refunded_at"] = at
	}
	tx := r.table(ctx, line).Where("id = ? AND status IN ?", id, from).Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *saleRepository) ListByBuyer(ctx context.Context, line models.ProductLine, buyerID uint, filter SaleFilter, page Page) ([]models.Sale, int64, error) {
	return r.list(ctx, line, "buyer_id", buyerID, filter, page)
}

func (r *saleRepository) ListByProducer(ctx context.Context, line models.ProductLine, producerID uint, filter SaleFilter, page Page) ([]models.Sale, int64, error) {
	return r.list(ctx, line, "producer_id", producerID, filter, page)
}

func (r *saleRepository) list(ctx context.Context, line models.ProductLine, column string, userID uint, filter SaleFilter, page Page) ([]models.Sale, int64, error) {
	q := r.table(ctx, line).Where(column+" = ?", userID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sales []models.Sale
	err := q.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit).Find(&sales).Error
	return sales, total, err
}

func (r *saleRepository) TotalsByProducer(ctx context.Context, line models.ProductLine, producerID uint) (*SaleTotals, error) {
	var totals SaleTotals
	err := r.table(ctx, line).
		Select("COUNT(*) AS count, COALESCE(SUM(gross_amount), 0) AS gross, COALESCE(SUM(commission_amount), 0) AS commission, COALESCE(SUM(net_amount), 0) AS net").
		Where("producer_id = ? AND status = ?", producerID, models.SaleStatusCompleted).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return &totals, nil
}
