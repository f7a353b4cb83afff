package httpapi

import (
	"errors"
	"net/http"
	"time"

	"photogen-controlplane/pkg/db/option"
	"photogen-controlplane/pkg/db/pagination"
	"photogen-controlplane/pkg/errutil"
	"photogen-controlplane/pkg/repository"
	"photogen-controlplane/services/cleanup"
	"photogen-controlplane/services/credits"
	"photogen-controlplane/services/training"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	training *training.Service
	credits  *credits.Service
	cleanup  *cleanup.Service

	transactions repository.Repository[credits.CreditTransaction]
}

type HandlerParams struct {
	fx.In
	DB       *gorm.DB
	Training *training.Service
	Credits  *credits.Service
	Cleanup  *cleanup.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		training:     p.Training,
		credits:      p.Credits,
		cleanup:      p.Cleanup,
		transactions: repository.ProvideStore[credits.CreditTransaction](p.DB),
	}
}

func RegisterRoutes(engine *gin.Engine, h *Handler) {
	v1 := engine.Group("/v1")

	models := v1.Group("/models")
	models.GET("/:trainingId/training-details", h.getTrainingDetails)
	models.GET("/:trainingId/training-pipeline", h.getTrainingPipeline)

	users := v1.Group("/users")
	users.GET("/:userId/credits", h.getCredits)
	users.GET("/:userId/credits/analytics", h.getUsageAnalytics)
	users.GET("/:userId/credits/limits", h.getUsageLimits)
	users.GET("/:userId/credits/transactions", h.listTransactions)
	users.POST("/:userId/credits/spend", h.spendCredits)
	users.POST("/:userId/credits/add", h.addCredits)
	users.POST("/:userId/credits/refund", h.refundCredits)

	admin := v1.Group("/admin")
	admin.POST("/cleanup/zips", h.runCleanup)
	admin.GET("/storage/stats", h.getStorageStats)
}

func (h *Handler) getTrainingDetails(c *gin.Context) {
	status, err := h.training.GetTrainingDetails(c.Request.Context(), c.Param("trainingId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) getTrainingPipeline(c *gin.Context) {
	stages, err := h.training.GetTrainingPipeline(c.Request.Context(), c.Param("trainingId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": stages})
}

func (h *Handler) getCredits(c *gin.Context) {
	userID := c.Param("userId")

	balance, err := h.credits.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.Error(errutil.NotFound("user not found", err))
		return
	}

	notification, err := h.credits.GetLowCreditNotification(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"credits":      balance,
		"notification": notification,
	})
}

func (h *Handler) getUsageAnalytics(c *gin.Context) {
	analytics, err := h.credits.GetUsageAnalytics(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

func (h *Handler) getUsageLimits(c *gin.Context) {
	limits, err := h.credits.CheckUsageLimits(c.Request.Context(), c.Param("userId"), h.training)
	if err != nil {
		c.Error(errutil.NotFound("user not found", err))
		return
	}
	c.JSON(http.StatusOK, limits)
}

func (h *Handler) listTransactions(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}
	if page.Limit <= 0 {
		page.Limit = 10
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "DESC",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(page.Limit + 1),
	}
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			c.Error(errutil.BadRequest("invalid cursor", err))
			return
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LT,
			Value:    cursor.CreatedAt,
		}))
	}

	rows, err := h.transactions.Find(c.Request.Context(),
		&credits.CreditTransaction{UserID: c.Param("userId")}, opts...)
	if err != nil {
		c.Error(err)
		return
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, int32(page.Limit), func(tx *credits.CreditTransaction) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: tx.CreatedAt.Format(time.RFC3339Nano),
			ID:        tx.ID,
		})
		return cursor
	})
	if len(rows) > page.Limit {
		rows = rows[:page.Limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": rows,
		"page":         pageInfo,
	})
}

type spendRequest struct {
	Amount            int64          `json:"amount" binding:"required,gt=0"`
	Description       string         `json:"description" binding:"required"`
	RelatedEntityType string         `json:"relatedEntityType"`
	RelatedEntityID   string         `json:"relatedEntityId"`
	Metadata          map[string]any `json:"metadata"`
}

func (h *Handler) spendCredits(c *gin.Context) {
	var req spendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid spend request", err))
		return
	}

	result := h.credits.SpendCredits(c.Request.Context(), c.Param("userId"),
		req.Amount, req.Description, req.RelatedEntityType, req.RelatedEntityID, req.Metadata)
	writeCreditResult(c, result)
}

// writeCreditResult maps a ledger result onto an HTTP response. 402 is
// reserved for insufficient balance so the UI can offer a top-up;
// infrastructure faults go through the error middleware as 500 so the
// UI offers a retry instead.
func writeCreditResult(c *gin.Context, result credits.TransactionResult) {
	if result.Success {
		c.JSON(http.StatusOK, result)
		return
	}
	switch result.Kind {
	case credits.FailInsufficient:
		c.JSON(http.StatusPaymentRequired, result)
	case credits.FailUserMissing:
		c.JSON(http.StatusNotFound, result)
	case credits.FailInternal:
		c.Error(errutil.Internal("credit transaction failed", errors.New(result.Error)))
	default:
		c.JSON(http.StatusBadRequest, result)
	}
}

type addRequest struct {
	Amount            int64                   `json:"amount" binding:"required,gt=0"`
	Type              credits.TransactionType `json:"type" binding:"required"`
	Description       string                  `json:"description" binding:"required"`
	RelatedEntityType string                  `json:"relatedEntityType"`
	RelatedEntityID   string                  `json:"relatedEntityId"`
}

func (h *Handler) addCredits(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid add request", err))
		return
	}

	result := h.credits.AddCredits(c.Request.Context(), c.Param("userId"),
		req.Amount, req.Type, req.Description, req.RelatedEntityType, req.RelatedEntityID)
	writeCreditResult(c, result)
}

type refundRequest struct {
	Amount            int64  `json:"amount" binding:"required,gt=0"`
	RelatedEntityType string `json:"relatedEntityType"`
	RelatedEntityID   string `json:"relatedEntityId"`
}

func (h *Handler) refundCredits(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid refund request", err))
		return
	}

	result := h.credits.RefundGeneration(c.Request.Context(), c.Param("userId"),
		req.Amount, req.RelatedEntityType, req.RelatedEntityID)
	writeCreditResult(c, result)
}

type cleanupRequest struct {
	DryRun *bool `json:"dryRun"`
}

func (h *Handler) runCleanup(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.Error(errutil.BadRequest("invalid cleanup request", err))
		return
	}

	var (
		result *cleanup.CleanupResult
		err    error
	)
	if req.DryRun != nil {
		result, err = h.cleanup.CleanupOrphanedZips(c.Request.Context(), *req.DryRun)
	} else {
		result, err = h.cleanup.Run(c.Request.Context())
	}
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getStorageStats(c *gin.Context) {
	stats, err := h.cleanup.GetStorageStats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
