package credits

import (
	"context"
	"encoding/json"
	"fmt"

	"photogen-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Low-balance notification thresholds, in credits.
const (
	criticalBalance   int64 = 5
	lowCreditBalance  int64 = 20
	usdPerCredit            = 0.01
	nearLimitRatio          = 0.10
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	redis *redis.Client

	users        repository.Repository[User]
	plans        repository.Repository[Plan]
	transactions repository.Repository[CreditTransaction]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Redis *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		redis: p.Redis,

		users:        repository.ProvideStore[User](p.DB),
		plans:        repository.ProvideStore[Plan](p.DB),
		transactions: repository.ProvideStore[CreditTransaction](p.DB),
	}
}

// RecordTransaction applies one signed balance adjustment and appends
// the matching ledger row in a single all-or-nothing unit of work.
//
// The balance mutation is a conditional UPDATE that refuses to take the
// balance negative; two concurrent spends against the same user race on
// the row and the loser sees zero rows affected. BalanceAfter is read
// back inside the same transaction, so it reflects this mutation and no
// concurrent one.
func (s *Service) RecordTransaction(ctx context.Context, input TransactionInput) TransactionResult {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", input.UserID),
		zap.Int64("amount", input.Amount),
		zap.String("type", string(input.Type)),
	}

	if !input.Type.Valid() {
		return TransactionResult{Error: fmt.Sprintf("invalid transaction type %q", input.Type), Kind: FailInvalidInput}
	}

	var result TransactionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&User{}).
			Where("id = ? AND credits + ? >= 0", input.UserID, input.Amount).
			Update("credits", gorm.Expr("credits + ?", input.Amount))
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			user, err := s.users.WithTrx(tx).FindOne(ctx, &User{ID: input.UserID})
			if err != nil {
				return err
			}
			if user == nil {
				result = TransactionResult{Error: "User not found", Kind: FailUserMissing}
				return nil
			}
			result = TransactionResult{
				NewBalance: user.Credits,
				Error: fmt.Sprintf("Insufficient credits. Required: %d, Available: %d",
					-input.Amount, user.Credits),
				Kind: FailInsufficient,
			}
			return nil
		}

		user, err := s.users.WithTrx(tx).FindOne(ctx, &User{ID: input.UserID})
		if err != nil {
			return err
		}

		entry := &CreditTransaction{
			ID:                s.node.Generate().String(),
			UserID:            input.UserID,
			Amount:            input.Amount,
			Type:              input.Type,
			Description:       input.Description,
			RelatedEntityType: input.RelatedEntityType,
			RelatedEntityID:   input.RelatedEntityID,
			BalanceAfter:      user.Credits,
		}
		if input.Metadata != nil {
			raw, _ := json.Marshal(input.Metadata)
			entry.Metadata = datatypes.JSON(raw)
		}
		if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
			return err
		}

		result = TransactionResult{
			Success:       true,
			NewBalance:    user.Credits,
			TransactionID: entry.ID,
		}
		return nil
	})
	if err != nil {
		zap.L().With(opts...).Error("credit transaction aborted", zap.Error(err))
		return TransactionResult{Error: err.Error(), Kind: FailInternal}
	}

	if result.Success {
		s.invalidateAnalytics(ctx, input.UserID)
	}
	return result
}

// SpendCredits debits a user for a billable action. The pre-check gives
// a friendly required-vs-available message without writing anything;
// the decrement itself re-validates atomically, so concurrent spends
// cannot jointly overdraw even when both pass the pre-check.
func (s *Service) SpendCredits(ctx context.Context, userID string, amount int64, description, relatedEntityType, relatedEntityID string, metadata map[string]any) TransactionResult {
	if amount <= 0 {
		return TransactionResult{Error: "amount must be positive", Kind: FailInvalidInput}
	}

	user, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil {
		return TransactionResult{Error: err.Error(), Kind: FailInternal}
	}
	if user == nil {
		return TransactionResult{Error: "User not found", Kind: FailUserMissing}
	}
	if user.Credits < amount {
		return TransactionResult{
			NewBalance: user.Credits,
			Error: fmt.Sprintf("Insufficient credits. Required: %d, Available: %d",
				amount, user.Credits),
			Kind: FailInsufficient,
		}
	}

	return s.RecordTransaction(ctx, TransactionInput{
		UserID:            userID,
		Amount:            -amount,
		Type:              TypeSpent,
		Description:       description,
		RelatedEntityType: relatedEntityType,
		RelatedEntityID:   relatedEntityID,
		Metadata:          metadata,
	})
}

// AddCredits credits a user. The returned balance comes from the ledger
// write itself, never a later re-read.
func (s *Service) AddCredits(ctx context.Context, userID string, amount int64, txType TransactionType, description, relatedEntityType, relatedEntityID string) TransactionResult {
	if amount <= 0 {
		return TransactionResult{Error: "amount must be positive", Kind: FailInvalidInput}
	}
	if txType == TypeSpent || !txType.Valid() {
		return TransactionResult{Error: fmt.Sprintf("invalid credit type %q", txType), Kind: FailInvalidInput}
	}

	return s.RecordTransaction(ctx, TransactionInput{
		UserID:            userID,
		Amount:            amount,
		Type:              txType,
		Description:       description,
		RelatedEntityType: relatedEntityType,
		RelatedEntityID:   relatedEntityID,
	})
}

// RefundGeneration returns credits for a failed billable action.
func (s *Service) RefundGeneration(ctx context.Context, userID string, amount int64, relatedEntityType, relatedEntityID string) TransactionResult {
	return s.AddCredits(ctx, userID, amount, TypeRefund,
		"Refund for failed generation", relatedEntityType, relatedEntityID)
}

// GetBalance returns the user's current credit balance.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	user, err := s.users.FindOne(ctx, &User{ID: userID})
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, fmt.Errorf("user %s not found", userID)
	}
	return user.Credits, nil
}

// CanAfford reports whether a user can pay the given cost right now.
// Advisory only; the actual spend re-validates atomically.
func (s *Service) CanAfford(ctx context.Context, userID string, cost int64) (bool, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= cost, nil
}

// GetLowCreditNotification returns an advisory banner when the balance
// is running out, nil otherwise.
func (s *Service) GetLowCreditNotification(ctx context.Context, userID string) (*LowCreditNotification, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch {
	case balance <= criticalBalance:
		return &LowCreditNotification{
			Severity: "critical",
			Balance:  balance,
			Message:  fmt.Sprintf("Only %d credits left. Top up now to keep generating images.", balance),
		}, nil
	case balance <= lowCreditBalance:
		return &LowCreditNotification{
			Severity: "warning",
			Balance:  balance,
			Message:  fmt.Sprintf("You are running low on credits (%d left). Consider upgrading your plan.", balance),
		}, nil
	}
	return nil, nil
}
