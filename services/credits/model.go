package credits

import (
	"time"

	"gorm.io/datatypes"
)

// Credit costs per billable action.
const (
	CreditCostImageGeneration int64 = 1
	CreditCostModelTraining   int64 = 100
)

// User carries the mutable balance. Credits is the single source of
// truth for affordability checks and must never go negative.
type User struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Email     string    `gorm:"column:email;uniqueIndex"`
	Credits   int64     `gorm:"column:credits;not null;default:0"`
	PlanID    string    `gorm:"column:plan_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string { return "users" }

// Plan is the subscription tier quota definition.
type Plan struct {
	ID             string `gorm:"column:id;primaryKey"`
	Name           string `gorm:"column:name"`
	MonthlyCredits int64  `gorm:"column:monthly_credits"`
	MaxModels      int64  `gorm:"column:max_models"`
}

func (Plan) TableName() string { return "plans" }

// TransactionType is the closed set of ledger entry kinds. Spends are
// stored with a negative amount, everything else positive.
type TransactionType string

const (
	TypeEarned              TransactionType = "earned"
	TypeSpent               TransactionType = "spent"
	TypePurchased           TransactionType = "purchased"
	TypeSubscriptionRenewal TransactionType = "subscription_renewal"
	TypeRefund              TransactionType = "refund"
	TypeAdminAdjustment     TransactionType = "admin_adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeEarned, TypeSpent, TypePurchased, TypeSubscriptionRenewal, TypeRefund, TypeAdminAdjustment:
		return true
	}
	return false
}

// CreditTransaction is an append-only ledger row. Rows are created once
// and never mutated or deleted; BalanceAfter snapshots the balance
// immediately after the row was applied so history can be audited
// without replaying the whole ledger.
type CreditTransaction struct {
	ID                string          `gorm:"column:id;primaryKey"`
	UserID            string          `gorm:"column:user_id;index"`
	Amount            int64           `gorm:"column:amount;not null"`
	Type              TransactionType `gorm:"column:type"`
	Description       string          `gorm:"column:description"`
	RelatedEntityType string          `gorm:"column:related_entity_type"`
	RelatedEntityID   string          `gorm:"column:related_entity_id"`
	BalanceAfter      int64           `gorm:"column:balance_after"`
	Metadata          datatypes.JSON  `gorm:"column:metadata"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime;index"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

// TransactionInput is the write request for one ledger entry.
type TransactionInput struct {
	UserID            string
	Amount            int64
	Type              TransactionType
	Description       string
	RelatedEntityType string
	RelatedEntityID   string
	Metadata          map[string]any
}

// FailureKind distinguishes why a balance mutation was refused, so a
// transport can answer "top up" for an insufficient balance and "try
// again" for an infrastructure fault.
type FailureKind string

const (
	FailNone         FailureKind = ""
	FailInvalidInput FailureKind = "invalid_input"
	FailUserMissing  FailureKind = "user_not_found"
	FailInsufficient FailureKind = "insufficient_credits"
	FailInternal     FailureKind = "internal"
)

// TransactionResult reports the outcome of a balance mutation. Business
// failures (insufficient credits, missing user) are returned here, not
// as Go errors, so callers always get the unchanged balance to display.
type TransactionResult struct {
	Success       bool        `json:"success"`
	NewBalance    int64       `json:"newBalance"`
	TransactionID string      `json:"transactionId,omitempty"`
	Error         string      `json:"error,omitempty"`
	Kind          FailureKind `json:"-"`
}

// LowCreditNotification is the advisory banner payload for users close
// to running out of credits.
type LowCreditNotification struct {
	Severity string `json:"severity"`
	Balance  int64  `json:"balance"`
	Message  string `json:"message"`
}
