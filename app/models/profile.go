package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ROLE_FREE  = "free"
	ROLE_PRO   = "pro"
	ROLE_ADMIN = "admin"
)

const (
	SubscriptionStatusNone      = "none"
	SubscriptionStatusTrialing  = "trialing"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCanceling = "canceling"
	SubscriptionStatusCanceled  = "canceled"
	SubscriptionStatusPastDue   = "past_due"
)

// Profile is a marketplace account. Producers and buyers share the table.
type Profile struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Username           string     `gorm:"type:varchar(50);uniqueIndex" json:"username" validate:"required,min=3,max=50"`
	Email              string     `gorm:"type:varchar(200);uniqueIndex" json:"email" validate:"required,email,max=200"`
	Role               string     `gorm:"type:varchar(20);not null;default:'free';index" json:"role" validate:"oneof=free pro admin"`
	IsPro              bool       `gorm:"not null;default:false" json:"is_pro"`
	Bio                string     `gorm:"type:text" json:"bio" validate:"max=1000"`
	AvatarURL          string     `gorm:"type:varchar(255)" json:"avatar_url" validate:"max=255"`
	PaypalEmail        string     `gorm:"type:varchar(200)" json:"paypal_email,omitempty" validate:"omitempty,email,max=200"`
	StripeCustomerID   string     `gorm:"type:varchar(100);index" json:"-"`
	StripeAccountID    string     `gorm:"type:varchar(100)" json:"-"`
	SubscriptionID     string     `gorm:"type:varchar(100);index" json:"-"`
	SubscriptionStatus string     `gorm:"type:varchar(20);not null;default:'none'" json:"subscription_status" validate:"oneof=none trialing active canceling canceled past_due"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	CancelAt           *time.Time `json:"cancel_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Profile) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

func (p *Profile) IsAdmin() bool {
	return p.Role == ROLE_ADMIN
}

// HasProAccess reports whether the profile may use PRO features.
func (p *Profile) HasProAccess() bool {
	return p.Role == ROLE_PRO || p.Role == ROLE_ADMIN
}

// HasPayoutAccount reports whether the producer can be paid for a sale on line.
func (p *Profile) HasPayoutAccount(line ProductLine) bool {
	switch line {
	case LinePack:
		return p.PaypalEmail != ""
	case LineSamplePack:
		return p.StripeAccountID != ""
	default:
		return false
	}
}

// PayoutAccount returns the payee reference used by the payment provider of line.
func (p *Profile) PayoutAccount(line ProductLine) string {
	if line == LineSamplePack {
		return p.StripeAccountID
	}
	return p.PaypalEmail
}

// ProSubscriptionStatuses are the subscription states that grant PRO.
var ProSubscriptionStatuses = []string{SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusCanceling}

// SubscriptionGrantsPro reports whether status is one of ProSubscriptionStatuses.
func SubscriptionGrantsPro(status string) bool {
	for _, s := range ProSubscriptionStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// SubscriptionRole is the role a non-admin profile holds in status.
func SubscriptionRole(status string) string {
	if SubscriptionGrantsPro(status) {
		return ROLE_PRO
	}
	return ROLE_FREE
}

// BillingRole is the role the profile falls back to without admin rights.
func (p *Profile) BillingRole() string {
	return SubscriptionRole(p.SubscriptionStatus)
}

// ApplySubscriptionStatus sets the status and keeps Role/IsPro consistent with it.
// Admins keep their role regardless of billing state.
func (p *Profile) ApplySubscriptionStatus(status string) {
	p.SubscriptionStatus = status
	p.IsPro = SubscriptionGrantsPro(status)
	if p.Role != ROLE_ADMIN {
		p.Role = SubscriptionRole(status)
	}
}

// ClearSubscription drops the provider subscription identifiers and schedule.
func (p *Profile) ClearSubscription() {
	p.SubscriptionID = ""
	p.CancelAt = nil
	p.TrialEnd = nil
}
