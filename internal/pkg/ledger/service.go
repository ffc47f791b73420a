// Package ledger records marketplace sales for both product lines.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/commission"
	"github.com/ManuelReschke/Melodex/internal/pkg/logger"
	"github.com/ManuelReschke/Melodex/internal/pkg/metrics"
)

var (
	ErrSelfPurchase                = apperr.Conflict("you cannot buy your own item")
	ErrAlreadyOwned                = apperr.Conflict("you already own this item")
	ErrProducerPayoutNotConfigured = apperr.Validation("producer has not configured a payout account")
	ErrSaleNotFound                = apperr.NotFound("sale not found")
	ErrItemNotFound                = apperr.NotFound("item not found")
	ErrInvalidLine                 = apperr.Validation("unknown product line")
	ErrInvalidStatus               = apperr.Validation("status must be completed, failed or refunded")
)

// PaymentPayload is everything a payment provider needs to charge a pending sale.
type PaymentPayload struct {
	SaleID      uint   `json:"sale_id"`
	Line        string `json:"line"`
	Provider    string `json:"provider"`
	Amount      int64  `json:"amount"`
	Commission  int64  `json:"commission"`
	Net         int64  `json:"net"`
	Currency    string `json:"currency"`
	Payee       string `json:"-"`
	Description string `json:"description"`
}

// ConfirmInput identifies a sale by id or by provider reference.
type ConfirmInput struct {
	SaleID                uint
	ProviderTransactionID string
	Status                string
}

// SalePage is one page of a ledger listing.
type SalePage struct {
	Sales      []models.Sale         `json:"sales"`
	Pagination repository.Pagination `json:"pagination"`
}

type Service struct {
	packs    repository.PackRepository
	sales    repository.SaleRepository
	profiles repository.ProfileRepository
	now      func() time.Time
	log      *zap.Logger
}

func NewService(repos *repository.Repositories) *Service {
	return &Service{
		packs:    repos.Pack,
		sales:    repos.Sale,
		profiles: repos.Profile,
		now:      time.Now,
		log:      logger.Named("ledger"),
	}
}

// RateFor returns the commission rate charged on line.
func RateFor(line models.ProductLine) commission.Rate {
	if line == models.LineSamplePack {
		return commission.SamplePackCheckoutRate
	}
	return commission.PackMarketplaceRate
}

// Initiate validates a purchase and records it as pending. No provider is called.
func (s *Service) Initiate(ctx context.Context, line models.ProductLine, buyerID, itemID uint) (*PaymentPayload, error) {
	if !line.Valid() {
		return nil, ErrInvalidLine
	}

	item, err := s.packs.GetByID(ctx, line, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, apperr.Internal("failed to load item", err)
	}

	if item.ProducerID == buyerID {
		return nil, ErrSelfPurchase
	}

	owned, err := s.sales.HasCompleted(ctx, line, buyerID, itemID)
	if err != nil {
		return nil, apperr.Internal("failed to check ownership", err)
	}
	if owned {
		return nil, ErrAlreadyOwned
	}

	producer, err := s.profiles.GetByID(ctx, item.ProducerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProducerPayoutNotConfigured
		}
		return nil, apperr.Internal("failed to load producer", err)
	}
	if !producer.HasPayoutAccount(line) {
		return nil, ErrProducerPayoutNotConfigured
	}

	split, err := commission.Split(item.PriceCents, RateFor(line))
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(item.Currency)
	if currency == "" {
		currency = "USD"
	}
	sale := &models.Sale{
		ItemID:           item.ID,
		BuyerID:          buyerID,
		ProducerID:       item.ProducerID,
		GrossAmount:      split.Gross,
		CommissionAmount: split.Commission,
		NetAmount:        split.Net,
		Currency:         currency,
		Status:           models.SaleStatusPending,
		Provider:         line.Provider(),
	}
	if err := s.sales.Create(ctx, line, sale); err != nil {
		return nil, apperr.Internal("failed to record sale", err)
	}

	s.log.Info("sale initiated",
		zap.String("line", string(line)),
		zap.Uint("sale_id", sale.ID),
		zap.Uint("item_id", item.ID),
		zap.Int64("gross", split.Gross),
		zap.Int64("commission", split.Commission))

	return &PaymentPayload{
		SaleID:      sale.ID,
		Line:        string(line),
		Provider:    sale.Provider,
		Amount:      split.Gross,
		Commission:  split.Commission,
		Net:         split.Net,
		Currency:    currency,
		Payee:       producer.PayoutAccount(line),
		Description: item.Title,
	}, nil
}

// AttachProviderReference stores the provider order or session id on a pending sale.
func (s *Service) AttachProviderReference(ctx context.Context, line models.ProductLine, saleID uint, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return apperr.Validation("provider reference is required")
	}
	if err := s.sales.SetProviderTransactionID(ctx, line, saleID, ref); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSaleNotFound
		}
		return apperr.Internal("failed to attach provider reference", err)
	}
	return nil
}

// Get returns one sale.
func (s *Service) Get(ctx context.Context, line models.ProductLine, saleID uint) (*models.Sale, error) {
	sale, err := s.sales.GetByID(ctx, line, saleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, apperr.Internal("failed to load sale", err)
	}
	return sale, nil
}

// allowedFrom lists the states a sale may leave to reach status.
func allowedFrom(status string) ([]string, error) {
	switch status {
	case models.SaleStatusCompleted, models.SaleStatusFailed:
		return []string{models.SaleStatusPending}, nil
	case models.SaleStatusRefunded:
		return []string{models.SaleStatusPending, models.SaleStatusCompleted}, nil
	default:
		return nil, ErrInvalidStatus
	}
}

// Confirm applies a provider outcome to a sale. Repeating a confirmation is
// harmless: only the call that actually moves the row reports changed=true.
func (s *Service) Confirm(ctx context.Context, line models.ProductLine, in ConfirmInput) (*models.Sale, bool, error) {
	from, err := allowedFrom(in.Status)
	if err != nil {
		return nil, false, err
	}

	var sale *models.Sale
	switch {
	case in.SaleID != 0:
		sale, err = s.sales.GetByID(ctx, line, in.SaleID)
	case strings.TrimSpace(in.ProviderTransactionID) != "":
		sale, err = s.sales.GetByProviderTransactionID(ctx, line, strings.TrimSpace(in.ProviderTransactionID))
	default:
		return nil, false, apperr.Validation("sale id or provider transaction id is required")
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrSaleNotFound
		}
		return nil, false, apperr.Internal("failed to load sale", err)
	}

	if sale.Status == in.Status {
		return sale, false, nil
	}

	changed, err := s.sales.TransitionStatus(ctx, line, sale.ID, from, in.Status, s.now())
	if err != nil {
		return nil, false, apperr.Internal("failed to update sale", err)
	}

	fresh, err := s.sales.GetByID(ctx, line, sale.ID)
	if err != nil {
		return nil, false, apperr.Internal("failed to reload sale", err)
	}
	if changed {
		s.log.Info("sale status changed",
			zap.String("line", string(line)),
			zap.Uint("sale_id", sale.ID),
			zap.String("from", sale.Status),
			zap.String("to", in.Status))
		metrics.IncSaleTransition(string(line), in.Status)
		if in.Status == models.SaleStatusCompleted {
			metrics.AddCommission(string(line), fresh.Currency, fresh.CommissionAmount)
		}
	}
	return fresh, changed, nil
}

// ListForBuyer returns a page of the buyer's purchases, newest first.
func (s *Service) ListForBuyer(ctx context.Context, line models.ProductLine, buyerID uint, filter repository.SaleFilter, page repository.Page) (*SalePage, error) {
	if !line.Valid() {
		return nil, ErrInvalidLine
	}
	sales, total, err := s.sales.ListByBuyer(ctx, line, buyerID, filter, page)
	if err != nil {
		return nil, apperr.Internal("failed to list purchases", err)
	}
	return &SalePage{Sales: sales, Pagination: page.Result(total)}, nil
}

// ListForProducer returns a page of the producer's sales, newest first.
func (s *Service) ListForProducer(ctx context.Context, line models.ProductLine, producerID uint, filter repository.SaleFilter, page repository.Page) (*SalePage, error) {
	if !line.Valid() {
		return nil, ErrInvalidLine
	}
	sales, total, err := s.sales.ListByProducer(ctx, line, producerID, filter, page)
	if err != nil {
		return nil, apperr.Internal("failed to list sales", err)
	}
	return &SalePage{Sales: sales, Pagination: page.Result(total)}, nil
}
