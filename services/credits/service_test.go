package credits

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"photogen-controlplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &User{}, &Plan{}, &CreditTransaction{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func seedUser(t *testing.T, svc *Service, id string, balance int64) {
	t.Helper()
	require.NoError(t, svc.users.Create(context.Background(), &User{
		ID: id, Email: id + "@example.com", Credits: balance,
	}))
}

// sumLedger replays the full ledger for one user.
func sumLedger(t *testing.T, svc *Service, userID string) int64 {
	t.Helper()
	rows, err := svc.transactions.Find(context.Background(), &CreditTransaction{UserID: userID})
	require.NoError(t, err)

	var sum int64
	for _, row := range rows {
		sum += row.Amount
	}
	return sum
}

func TestAddCredits(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "u1", 10)

	result := svc.AddCredits(context.Background(), "u1", 500, TypeSubscriptionRenewal, "Monthly renewal", "subscription", "sub-1")
	require.True(t, result.Success)
	require.EqualValues(t, 510, result.NewBalance)
	require.NotEmpty(t, result.TransactionID)

	rows, err := svc.transactions.Find(context.Background(), &CreditTransaction{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 500, rows[0].Amount)
	require.Equal(t, TypeSubscriptionRenewal, rows[0].Type)
	require.EqualValues(t, 510, rows[0].BalanceAfter)
}

func TestSpendCreditsSuccess(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "u1", 10)

	result := svc.SpendCredits(context.Background(), "u1", 3, "Image generation", "image", "img-1", map[string]any{"size": "1024"})
	require.True(t, result.Success)
	require.EqualValues(t, 7, result.NewBalance)

	rows, err := svc.transactions.Find(context.Background(), &CreditTransaction{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, -3, rows[0].Amount)
	require.Equal(t, TypeSpent, rows[0].Type)
	require.EqualValues(t, 7, rows[0].BalanceAfter)
	require.Equal(t, "image", rows[0].RelatedEntityType)
}

func TestSpendCreditsInsufficient(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "u1", 5)

	result := svc.SpendCredits(context.Background(), "u1", 10, "Video generation", "video", "v-1", nil)
	require.False(t, result.Success)
	require.EqualValues(t, 5, result.NewBalance)
	require.Contains(t, result.Error, "Insufficient credits")
	require.Contains(t, result.Error, "Required: 10")
	require.Contains(t, result.Error, "Available: 5")
	require.Equal(t, FailInsufficient, result.Kind)

	// Failed spends leave no ledger entry.
	rows, err := svc.transactions.Find(context.Background(), &CreditTransaction{UserID: "u1"})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestSpendCreditsUserNotFound(t *testing.T) {
	svc := newTestService(t)

	result := svc.SpendCredits(context.Background(), "ghost", 1, "x", "", "", nil)
	require.False(t, result.Success)
	require.Equal(t, "User not found", result.Error)
	require.Equal(t, FailUserMissing, result.Kind)
	require.Zero(t, result.NewBalance)
}

func TestRecordTransactionStorageFaultIsInternal(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "u1", 10)

	sqlDB, err := svc.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	result := svc.SpendCredits(context.Background(), "u1", 5, "x", "", "", nil)
	require.False(t, result.Success)
	require.Equal(t, FailInternal, result.Kind)
}

func TestRecordTransactionRejectsInvalidType(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "u1", 10)

	result := svc.RecordTransaction(context.Background(), TransactionInput{
		UserID: "u1", Amount: 5, Type: "bogus",
	})
	require.False(t, result.Success)
	require.Contains(t, result.Error, "invalid transaction type")
}

func TestAddCreditsRejectsSpentType(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "u1", 10)

	result := svc.AddCredits(context.Background(), "u1", 5, TypeSpent, "x", "", "")
	require.False(t, result.Success)
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "u1", 5)

	const spenders = 4
	results := make([]TransactionResult, spenders)

	var wg sync.WaitGroup
	for i := 0; i < spenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.SpendCredits(context.Background(), "u1", 2, "Image generation", "image", "img", nil)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, r := range results {
		if r.Success {
			successes++
		} else {
			require.Contains(t, r.Error, "Insufficient credits")
		}
	}
	// 5 credits fit exactly two spends of 2.
	require.Equal(t, 2, successes)

	balance, err := svc.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	require.EqualValues(t, 1, balance)
	require.EqualValues(t, -4, sumLedger(t, svc, "u1"))
}

func TestLedgerConservation(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "u1", 100)

	ctx := context.Background()
	svc.SpendCredits(ctx, "u1", 30, "spend", "image", "a", nil)
	svc.AddCredits(ctx, "u1", 50, TypePurchased, "top up", "", "")
	svc.SpendCredits(ctx, "u1", 500, "too big", "video", "b", nil) // fails
	svc.SpendCredits(ctx, "u1", 100, "spend", "model", "c", nil)
	svc.RefundGeneration(ctx, "u1", 30, "image", "a")

	balance, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(100)+sumLedger(t, svc, "u1"), balance)
	require.EqualValues(t, 50, balance)
}

func TestCanAfford(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "u1", 5)

	ok, err := svc.CanAfford(context.Background(), "u1", 5)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.CanAfford(context.Background(), "u1", 6)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetLowCreditNotification(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "critical", 3)
	seedUser(t, svc, "warning", 15)
	seedUser(t, svc, "healthy", 200)

	n, err := svc.GetLowCreditNotification(context.Background(), "critical")
	require.NoError(t, err)
	require.Equal(t, "critical", n.Severity)
	require.EqualValues(t, 3, n.Balance)

	n, err = svc.GetLowCreditNotification(context.Background(), "warning")
	require.NoError(t, err)
	require.Equal(t, "warning", n.Severity)

	n, err = svc.GetLowCreditNotification(context.Background(), "healthy")
	require.NoError(t, err)
	require.Nil(t, n)
}

func TestRefundRestoresBalance(t *testing.T) {
	svc := newTestService(t)
	seedUser(t, svc, "u1", 10)

	spend := svc.SpendCredits(context.Background(), "u1", 10, "Video", "video", "v-1", nil)
	require.True(t, spend.Success)
	require.Zero(t, spend.NewBalance)

	refund := svc.RefundGeneration(context.Background(), "u1", 10, "video", "v-1")
	require.True(t, refund.Success)
	require.EqualValues(t, 10, refund.NewBalance)

	rows, err := svc.transactions.Find(context.Background(), &CreditTransaction{UserID: "u1", Type: TypeRefund})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 10, rows[0].BalanceAfter)
}
