package models

import "time"

const (
	PaymentProviderPaypal = "paypal"
	PaymentProviderStripe = "stripe"
)

const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
	SaleStatusFailed    = "failed"
	SaleStatusRefunded  = "refunded"
)

// Sale is one purchase attempt. Rows live in "pack_sales" or
// "sample_pack_sales" (see migrations for indexes); CommissionAmount +
// NetAmount always equals GrossAmount.
type Sale struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	ItemID                uint       `gorm:"not null" json:"item_id"`
	BuyerID               uint       `gorm:"not null" json:"buyer_id"`
	ProducerID            uint       `gorm:"not null" json:"producer_id"`
	GrossAmount           int64      `gorm:"not null" json:"gross_amount"`
	CommissionAmount      int64      `gorm:"not null" json:"commission_amount"`
	NetAmount             int64      `gorm:"not null" json:"net_amount"`
	Currency              string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status                string     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Provider              string     `gorm:"type:varchar(20);not null" json:"provider"`
	ProviderTransactionID *string    `gorm:"type:varchar(191)" json:"provider_transaction_id,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	RefundedAt            *time.Time `json:"refunded_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether no provider callback may change the sale any more.
func (s *Sale) IsTerminal() bool {
	return s.Status == SaleStatusFailed || s.Status == SaleStatusRefunded
}
