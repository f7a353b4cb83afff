package credits

import (
	"context"
	"encoding/json"
	"time"

	"photogen-controlplane/pkg/db/option"
	"photogen-controlplane/pkg/rediskey"

	"go.uber.org/zap"
)

const (
	analyticsPeriod   = 30 * 24 * time.Hour
	analyticsCacheTTL = 60 * time.Second
	recentTxLimit     = 10
)

// PeriodUsage aggregates ledger activity over one time window.
type PeriodUsage struct {
	CreditsSpent    int64   `json:"creditsSpent"`
	CreditsEarned   int64   `json:"creditsEarned"`
	ImagesGenerated int64   `json:"imagesGenerated"`
	ModelsCreated   int64   `json:"modelsCreated"`
	PercentUsed     float64 `json:"percentUsed"`
}

// DailyUsage is one bucket of the 30-day trend series.
type DailyUsage struct {
	Date   string `json:"date"`
	Spent  int64  `json:"spent"`
	Earned int64  `json:"earned"`
}

// UsageAnalytics is the ledger-derived usage report. The USD figure is
// a display estimate at a fixed conversion rate, not a financial record.
type UsageAnalytics struct {
	CurrentPeriod      PeriodUsage          `json:"currentPeriod"`
	AllTimeSpent       int64                `json:"allTimeSpent"`
	AllTimeEarned      int64                `json:"allTimeEarned"`
	EstimatedSpentUSD  float64              `json:"estimatedSpentUsd"`
	RecentTransactions []*CreditTransaction `json:"recentTransactions"`
	DailyTrend         []DailyUsage         `json:"dailyTrend"`
}

// GetUsageAnalytics aggregates the user's ledger into a usage report.
// Results are cached briefly in redis; every successful write
// invalidates the cache.
func (s *Service) GetUsageAnalytics(ctx context.Context, userID string) (*UsageAnalytics, error) {
	cacheKey := rediskey.BuildUsageAnalyticsKey(userID)
	if s.redis != nil {
		if raw, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached UsageAnalytics
			if json.Unmarshal(raw, &cached) == nil {
				return &cached, nil
			}
		}
	}

	analytics, err := s.computeUsageAnalytics(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if raw, err := json.Marshal(analytics); err == nil {
			if err := s.redis.Set(ctx, cacheKey, raw, analyticsCacheTTL).Err(); err != nil {
				zap.L().Warn("failed to cache usage analytics", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
	return analytics, nil
}

type signedSums struct {
	Spent  int64
	Earned int64
}

func (s *Service) sumAmounts(ctx context.Context, userID string, since *time.Time) (signedSums, error) {
	var sums signedSums
	tx := s.db.WithContext(ctx).Model(&CreditTransaction{}).
		Select("COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS spent, "+
			"COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS earned").
		Where("user_id = ?", userID)
	if since != nil {
		tx = tx.Where("created_at >= ?", *since)
	}
	err := tx.Scan(&sums).Error
	return sums, err
}

func (s *Service) countSpendsByEntity(ctx context.Context, userID, entityType string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&CreditTransaction{}).
		Where("user_id = ? AND amount < 0 AND related_entity_type = ? AND created_at >= ?",
			userID, entityType, since).
		Count(&count).Error
	return count, err
}

func (s *Service) computeUsageAnalytics(ctx context.Context, userID string) (*UsageAnalytics, error) {
	since := time.Now().Add(-analyticsPeriod)

	period, err := s.sumAmounts(ctx, userID, &since)
	if err != nil {
		return nil, err
	}
	allTime, err := s.sumAmounts(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	images, err := s.countSpendsByEntity(ctx, userID, "image", since)
	if err != nil {
		return nil, err
	}
	models, err := s.countSpendsByEntity(ctx, userID, "model", since)
	if err != nil {
		return nil, err
	}

	recent, err := s.transactions.Find(ctx, &CreditTransaction{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "DESC",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(recentTxLimit),
	)
	if err != nil {
		return nil, err
	}

	trend, err := s.dailyTrend(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	analytics := &UsageAnalytics{
		CurrentPeriod: PeriodUsage{
			CreditsSpent:    period.Spent,
			CreditsEarned:   period.Earned,
			ImagesGenerated: images,
			ModelsCreated:   models,
		},
		AllTimeSpent:       allTime.Spent,
		AllTimeEarned:      allTime.Earned,
		EstimatedSpentUSD:  float64(allTime.Spent) * usdPerCredit,
		RecentTransactions: recent,
		DailyTrend:         trend,
	}

	if quota := s.monthlyQuota(ctx, userID); quota > 0 {
		analytics.CurrentPeriod.PercentUsed = float64(period.Spent) / float64(quota) * 100
	}
	return analytics, nil
}

func (s *Service) dailyTrend(ctx context.Context, userID string, since time.Time) ([]DailyUsage, error) {
	rows := []struct {
		Day    string
		Spent  int64
		Earned int64
	}{}

	err := s.db.WithContext(ctx).Model(&CreditTransaction{}).
		Select("DATE(created_at) AS day, "+
			"COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0) AS spent, "+
			"COALESCE(SUM(CASE WHEN amount > 0 THEN amount ELSE 0 END), 0) AS earned").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Group("DATE(created_at)").
		Order("day ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	trend := make([]DailyUsage, 0, len(rows))
	for _, row := range rows {
		trend = append(trend, DailyUsage{Date: row.Day, Spent: row.Spent, Earned: row.Earned})
	}
	return trend, nil
}

func (s *Service) monthlyQuota(ctx context.Context, userID string) int64 {
	user, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil || user == nil || user.PlanID == "" {
		return 0
	}
	plan, err := s.plans.FindOne(ctx, &Plan{ID: user.PlanID})
	if err != nil || plan == nil {
		return 0
	}
	return plan.MonthlyCredits
}

func (s *Service) invalidateAnalytics(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	keys := []string{
		rediskey.BuildUsageAnalyticsKey(userID),
		rediskey.BuildUsageLimitsKey(userID),
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		zap.L().Warn("failed to invalidate usage cache", zap.String("user_id", userID), zap.Error(err))
	}
}
