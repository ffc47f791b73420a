// Package entitlements answers whether a profile may use a feature or
// download an item. Checks have no side effects.
package entitlements

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
)

type Kind string

const (
	KindPackDownload         Kind = "pack-download"
	KindAnalyticsDashboard   Kind = "analytics-dashboard"
	KindAdminPage            Kind = "admin-page"
	KindCollaborationLicense Kind = "collaboration-license"
)

// Resource is the thing access is checked against. ItemID and Line are
// used by pack downloads, TransactionID by collaboration licenses.
type Resource struct {
	Kind          Kind
	Line          models.ProductLine
	ItemID        uint
	TransactionID string
}

func PackDownload(line models.ProductLine, itemID uint) Resource {
	return Resource{Kind: KindPackDownload, Line: line, ItemID: itemID}
}

func AnalyticsDashboard() Resource { return Resource{Kind: KindAnalyticsDashboard} }

func AdminPage() Resource { return Resource{Kind: KindAdminPage} }

func CollaborationLicense(transactionID string) Resource {
	return Resource{Kind: KindCollaborationLicense, TransactionID: transactionID}
}

// ParseKind accepts the public kind names.
func ParseKind(raw string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindPackDownload, KindAnalyticsDashboard, KindAdminPage, KindCollaborationLicense:
		return k, true
	default:
		return "", false
	}
}

// Upload limits per role.
const (
	FreeMaxUploadBytes int64 = 50 << 20
	ProMaxUploadBytes  int64 = 500 << 20
)

// MaxUploadBytes returns the largest file a profile with role may upload.
func MaxUploadBytes(role string) int64 {
	switch role {
	case models.ROLE_PRO, models.ROLE_ADMIN:
		return ProMaxUploadBytes
	default:
		return FreeMaxUploadBytes
	}
}

// Gate answers access questions. It never writes.
type Gate struct {
	profiles   repository.ProfileRepository
	packs      repository.PackRepository
	sales      repository.SaleRepository
	agreements repository.AgreementRepository
}

func NewGate(repos *repository.Repositories) *Gate {
	return &Gate{
		profiles:   repos.Profile,
		packs:      repos.Pack,
		sales:      repos.Sale,
		agreements: repos.Agreement,
	}
}

// CanAccess reports whether userID may use res. Unknown users and missing
// resources are denied, not errors; only store failures return an error.
func (g *Gate) CanAccess(ctx context.Context, userID uint, res Resource) (bool, error) {
	switch res.Kind {
	case KindPackDownload:
		return g.canDownload(ctx, userID, res)
	case KindAnalyticsDashboard:
		p, err := g.profile(ctx, userID)
		if p == nil || err != nil {
			return false, err
		}
		return p.HasProAccess(), nil
	case KindAdminPage:
		p, err := g.profile(ctx, userID)
		if p == nil || err != nil {
			return false, err
		}
		return p.IsAdmin(), nil
	case KindCollaborationLicense:
		if strings.TrimSpace(res.TransactionID) == "" {
			return false, nil
		}
		a, err := g.agreements.GetByTransactionID(ctx, res.TransactionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}
			return false, apperr.Internal("failed to load license", err)
		}
		return a.IsActive(), nil
	default:
		return false, apperr.Validation("unknown resource kind")
	}
}

func (g *Gate) profile(ctx context.Context, userID uint) (*models.Profile, error) {
	if userID == 0 {
		return nil, nil
	}
	p, err := g.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.Internal("failed to load profile", err)
	}
	return p, nil
}

func (g *Gate) canDownload(ctx context.Context, userID uint, res Resource) (bool, error) {
	if userID == 0 || !res.Line.Valid() {
		return false, nil
	}
	item, err := g.packs.GetByID(ctx, res.Line, res.ItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, apperr.Internal("failed to load item", err)
	}
	if item.ProducerID == userID {
		return true, nil
	}
	owned, err := g.sales.HasCompleted(ctx, res.Line, userID, res.ItemID)
	if err != nil {
		return false, apperr.Internal("failed to check ownership", err)
	}
	return owned, nil
}
