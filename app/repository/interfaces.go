package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/Melodex/app/models"
	"gorm.io/gorm"
)

// ProfileRepository defines the interface for profile-related database operations
type ProfileRepository interface {
	Create(ctx context.Context, profile *models.Profile) error
	GetByID(ctx context.Context, id uint) (*models.Profile, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.Profile, error)
	// UpdateFields writes only the named columns of a profile.
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	// UpdateSubscription sets subscription_status together with the role and
	// is_pro it implies, plus the extra billing columns in fields. With from
	// set, the row is written only while its status is one of from. It
	// reports whether a row changed.
	UpdateSubscription(ctx context.Context, id uint, status string, fields map[string]interface{}, from ...string) (bool, error)
	// SetAdmin grants the admin role or revokes it back to the billing role.
	SetAdmin(ctx context.Context, id uint, admin bool) error
	List(ctx context.Context, query string, page Page) ([]models.Profile, int64, error)
}

// PackRepository stores packs and sample packs; line selects the table.
type PackRepository interface {
	Create(ctx context.Context, line models.ProductLine, pack *models.Pack) error
	GetByID(ctx context.Context, line models.ProductLine, id uint) (*models.Pack, error)
	List(ctx context.Context, line models.ProductLine, filter PackFilter, page Page) ([]models.Pack, int64, error)
	CountByProducer(ctx context.Context, line models.ProductLine, producerID uint) (int64, error)
}

// SaleRepository is the persistence side of the sale ledger.
type SaleRepository interface {
	Create(ctx context.Context, line models.ProductLine, sale *models.Sale) error
	GetByID(ctx context.Context, line models.ProductLine, id uint) (*models.Sale, error)
	GetByProviderTransactionID(ctx context.Context, line models.ProductLine, ref string) (*models.Sale, error)
	SetProviderTransactionID(ctx context.Context, line models.ProductLine, id uint, ref string) error
	HasCompleted(ctx context.Context, line models.ProductLine, buyerID, itemID uint) (bool, error)
	// TransitionStatus moves a sale to "to" only while its status is one of
	// "from". It reports whether a row changed.
	TransitionStatus(ctx context.Context, line models.ProductLine, id uint, from []string, to string, at time.Time) (bool, error)
	ListByBuyer(ctx context.Context, line models.ProductLine, buyerID uint, filter SaleFilter, page Page) ([]models.Sale, int64, error)
	ListByProducer(ctx context.Context, line models.ProductLine, producerID uint, filter SaleFilter, page Page) ([]models.Sale, int64, error)
	TotalsByProducer(ctx context.Context, line models.ProductLine, producerID uint) (*SaleTotals, error)
}

// MelodyRepository defines the interface for melody-related database operations
type MelodyRepository interface {
	Create(ctx context.Context, melody *models.Melody) error
	GetByID(ctx context.Context, id uint) (*models.Melody, error)
	List(ctx context.Context, filter MelodyFilter, page Page) ([]models.Melody, int64, error)
	CountByProducer(ctx context.Context, producerID uint) (int64, error)
	IncrementDownloads(ctx context.Context, id uint, by int64) error
}

// AgreementRepository stores collaboration licenses and their revocation history.
type AgreementRepository interface {
	Create(ctx context.Context, agreement *models.CollaborationAgreement) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.CollaborationAgreement, error)
	FindActive(ctx context.Context, melodyID, collaboratorID uint) (*models.CollaborationAgreement, error)
	// MarkRevoked flips an active agreement to revoked and reports whether a row changed.
	MarkRevoked(ctx context.Context, id uint, at time.Time) (bool, error)
	AppendRevocation(ctx context.Context, entry *models.LicenseRevocation) error
	ListRevocations(ctx context.Context, transactionID string) ([]models.LicenseRevocation, error)
	CountByProducer(ctx context.Context, producerID uint) (int64, error)
}

// FollowRepository defines the interface for producer follow relationships
type FollowRepository interface {
	Exists(ctx context.Context, followerID, producerID uint) (bool, error)
	Create(ctx context.Context, follow *models.ProducerFollow) error
	Delete(ctx context.Context, followerID, producerID uint) (bool, error)
	CountFollowers(ctx context.Context, producerID uint) (int64, error)
}

// CategoryRepository defines the interface for pack categories
type CategoryRepository interface {
	List(ctx context.Context) ([]models.Category, error)
	GetByID(ctx context.Context, id uint) (*models.Category, error)
}

// SaleFilter narrows ledger listings. Zero values mean "no filter".
type SaleFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
}

// PackFilter narrows catalog listings.
type PackFilter struct {
	Search     string
	CategoryID uint
	ProducerID uint
}

// MelodyFilter narrows melody listings.
type MelodyFilter struct {
	Search     string
	Genre      string
	ProducerID uint
}

// SaleTotals aggregates completed sales of a producer on one product line.
type SaleTotals struct {
	Count      int64 `json:"count"`
	Gross      int64 `json:"gross"`
	Commission int64 `json:"commission"`
	Net        int64 `json:"net"`
}

// Repositories struct holds all repository instances
type Repositories struct {
	Profile   ProfileRepository
	Pack      PackRepository
	Sale      SaleRepository
	Melody    MelodyRepository
	Agreement AgreementRepository
	Follow    FollowRepository
	Category  CategoryRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Profile:   NewProfileRepository(db),
		Pack:      NewPackRepository(db),
		Sale:      NewSaleRepository(db),
		Melody:    NewMelodyRepository(db),
		Agreement: NewAgreementRepository(db),
		Follow:    NewFollowRepository(db),
		Category:  NewCategoryRepository(db),
	}
}
