package credits

import (
	"context"
	"encoding/json"
	"fmt"

	"photogen-controlplane/pkg/rediskey"

	"go.uber.org/zap"
)

// ModelCounter reports how many trained models a user currently has.
// Implemented by the training service; kept as an interface so the
// ledger does not depend on training internals.
type ModelCounter interface {
	CountActiveModels(ctx context.Context, userID string) (int64, error)
}

// UsageLimits is the plan-quota view for gating billable actions.
type UsageLimits struct {
	CreditsRemaining int64 `json:"creditsRemaining"`
	MonthlyQuota     int64 `json:"monthlyQuota"`
	MaxModels        int64 `json:"maxModels"`
	ActiveModels     int64 `json:"activeModels"`
	CanCreateModel   bool  `json:"canCreateModel"`
	CanGenerateImage bool  `json:"canGenerateImage"`
	IsNearLimit      bool  `json:"isNearLimit"`
}

// CheckUsageLimits combines the user's plan quota with current counts.
// IsNearLimit trips when remaining credits drop to 10% of the monthly
// quota or below.
func (s *Service) CheckUsageLimits(ctx context.Context, userID string, models ModelCounter) (*UsageLimits, error) {
	cacheKey := rediskey.BuildUsageLimitsKey(userID)
	if s.redis != nil {
		if raw, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached UsageLimits
			if json.Unmarshal(raw, &cached) == nil {
				return &cached, nil
			}
		}
	}

	user, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}

	limits := &UsageLimits{
		CreditsRemaining: user.Credits,
		CanGenerateImage: user.Credits >= CreditCostImageGeneration,
	}

	if user.PlanID != "" {
		plan, err := s.plans.FindOne(ctx, &Plan{ID: user.PlanID})
		if err != nil {
			return nil, err
		}
		if plan != nil {
			limits.MonthlyQuota = plan.MonthlyCredits
			limits.MaxModels = plan.MaxModels
		}
	}

	if models != nil {
		count, err := models.CountActiveModels(ctx, userID)
		if err != nil {
			zap.L().Warn("failed to count active models", zap.String("user_id", userID), zap.Error(err))
		} else {
			limits.ActiveModels = count
		}
	}

	limits.CanCreateModel = user.Credits >= CreditCostModelTraining &&
		(limits.MaxModels == 0 || limits.ActiveModels < limits.MaxModels)

	if limits.MonthlyQuota > 0 {
		threshold := float64(limits.MonthlyQuota) * nearLimitRatio
		limits.IsNearLimit = float64(user.Credits) <= threshold
	}

	if s.redis != nil {
		if raw, err := json.Marshal(limits); err == nil {
			if err := s.redis.Set(ctx, cacheKey, raw, analyticsCacheTTL).Err(); err != nil {
				zap.L().Warn("failed to cache usage limits", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
	return limits, nil
}
