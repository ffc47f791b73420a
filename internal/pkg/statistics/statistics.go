package statistics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ManuelReschke/Melodex/app/models"
	"github.com/ManuelReschke/Melodex/app/repository"
	"github.com/ManuelReschke/Melodex/internal/pkg/apperr"
	"github.com/ManuelReschke/Melodex/internal/pkg/cache"
	"github.com/ManuelReschke/Melodex/internal/pkg/logger"
)

const (
	CacheKeyDashboard = "statistics:dashboard:%d" // Format with user id
	CacheExpiration   = 30 * time.Minute
)

// DashboardStats is the producer analytics summary.
type DashboardStats struct {
	Packs           repository.SaleTotals `json:"packs"`
	SamplePacks     repository.SaleTotals `json:"sample_packs"`
	PackCount       int64                 `json:"pack_count"`
	SamplePackCount int64                 `json:"sample_pack_count"`
	MelodyCount     int64                 `json:"melody_count"`
	LicenseCount    int64                 `json:"license_count"`
	Followers       int64                 `json:"followers"`
	GeneratedAt     time.Time             `json:"generated_at"`
}

type Service struct {
	repos *repository.Repositories
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
}

func NewService(repos *repository.Repositories, store cache.Store) *Service {
	return &Service{
		repos: repos,
		store: store,
		ttl:   CacheExpiration,
		now:   time.Now,
		log:   logger.Named("statistics"),
	}
}

func dashboardKey(userID uint) string {
	return fmt.Sprintf(CacheKeyDashboard, userID)
}

// Dashboard returns the cached stats of a producer, computing them on a miss.
// Cache failures fall back to computing.
func (s *Service) Dashboard(ctx context.Context, userID uint) (*DashboardStats, error) {
	key := dashboardKey(userID)
	raw, err := s.store.Get(ctx, key)
	if err == nil {
		var stats DashboardStats
		if jerr := json.Unmarshal(raw, &stats); jerr == nil {
			return &stats, nil
		}
		s.log.Warn("discarding unreadable cache entry", zap.String("key", key))
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("stats cache read failed", zap.String("key", key), zap.Error(err))
	}

	stats, err := s.compute(ctx, userID)
	if err != nil {
		return nil, err
	}

	if b, jerr := json.Marshal(stats); jerr == nil {
		if serr := s.store.Set(ctx, key, b, s.ttl); serr != nil {
			s.log.Warn("stats cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return stats, nil
}

// Invalidate drops the cached stats of a producer.
func (s *Service) Invalidate(ctx context.Context, userID uint) {
	if err := s.store.Delete(ctx, dashboardKey(userID)); err != nil {
		s.log.Warn("stats cache delete failed", zap.Uint("user_id", userID), zap.Error(err))
	}
}

func (s *Service) compute(ctx context.Context, userID uint) (*DashboardStats, error) {
	stats := &DashboardStats{GeneratedAt: s.now().UTC()}

	packs, err := s.repos.Sale.TotalsByProducer(ctx, models.LinePack, userID)
	if err != nil {
		return nil, apperr.Internal("failed to load pack sales", err)
	}
	samples, err := s.repos.Sale.TotalsByProducer(ctx, models.LineSamplePack, userID)
	if err != nil {
		return nil, apperr.Internal("failed to load sample pack sales", err)
	}
	stats.Packs = *packs
	stats.SamplePacks = *samples

	if stats.PackCount, err = s.repos.Pack.CountByProducer(ctx, models.LinePack, userID); err != nil {
		return nil, apperr.Internal("failed to count packs", err)
	}
	if stats.SamplePackCount, err = s.repos.Pack.CountByProducer(ctx, models.LineSamplePack, userID); err != nil {
		return nil, apperr.Internal("failed to count sample packs", err)
	}
	if stats.MelodyCount, err = s.repos.Melody.CountByProducer(ctx, userID); err != nil {
		return nil, apperr.Internal("failed to count melodies", err)
	}
	if stats.LicenseCount, err = s.repos.Agreement.CountByProducer(ctx, userID); err != nil {
		return nil, apperr.Internal("failed to count licenses", err)
	}
	if stats.Followers, err = s.repos.Follow.CountFollowers(ctx, userID); err != nil {
		return nil, apperr.Internal("failed to count followers", err)
	}
	return stats, nil
}
