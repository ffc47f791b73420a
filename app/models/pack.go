package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// ProductLine separates the two storefronts. Each line has its own item and
// sales table and its own payment provider.
type ProductLine string

const (
	LinePack       ProductLine = "pack"
	LineSamplePack ProductLine = "sample_pack"
)

func (l ProductLine) Valid() bool {
	return l == LinePack || l == LineSamplePack
}

func (l ProductLine) ItemTable() string {
	if l == LineSamplePack {
		return "sample_packs"
	}
	return "packs"
}

func (l ProductLine) SalesTable() string {
	if l == LineSamplePack {
		return "sample_pack_sales"
	}
	return "pack_sales"
}

// Provider is the payment provider that settles sales on this line.
func (l ProductLine) Provider() string {
	if l == LineSamplePack {
		return PaymentProviderStripe
	}
	return PaymentProviderPaypal
}

// ParseProductLine accepts the URL forms "packs" and "sample-packs" as well as the canonical names.
func ParseProductLine(raw string) (ProductLine, bool) {
	switch raw {
	case "pack", "packs":
		return LinePack, true
	case "sample_pack", "sample-pack", "sample-packs", "sample_packs":
		return LineSamplePack, true
	default:
		return "", false
	}
}

// Pack is a sellable bundle. The same shape is stored in "packs" and "sample_packs".
type Pack struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ProducerID  uint      `gorm:"not null;index" json:"producer_id"`
	CategoryID  *uint     `gorm:"index" json:"category_id,omitempty"`
	Title       string    `gorm:"type:varchar(150);not null" json:"title" validate:"required,min=3,max=150"`
	Description string    `gorm:"type:text" json:"description" validate:"max=5000"`
	PriceCents  int64     `gorm:"not null" json:"price_cents" validate:"gte=99"`
	Currency    string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currency" validate:"len=3"`
	FileKey     string    `gorm:"type:varchar(255);not null" json:"-"`
	CoverURL    string    `gorm:"type:varchar(255)" json:"cover_url,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Pack) Validate() error {
	v := validator.New()

	return v.Struct(p)
}
