package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/producttest-backend/internal/config"
	"github.com/ignatzorin/producttest-backend/internal/http/handlers"
	"github.com/ignatzorin/producttest-backend/internal/http/middleware"
	"github.com/ignatzorin/producttest-backend/internal/models"
	"github.com/ignatzorin/producttest-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	sessionHandler *handlers.SessionHandler,
	cancellationHandler *handlers.CancellationHandler,
	disputeHandler *handlers.DisputeHandler,
	walletHandler *handlers.WalletHandler,
	rulesHandler *handlers.RulesHandler,
	notificationHandler *handlers.NotificationHandler,
	proofHandler *handlers.ProofHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.StaticFS("/proofs", http.Dir(cfg.ProofStoragePath))

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))

	// Публичные маршруты
	api.GET("/ws", wsHandler.Handle)
	api.GET("/rules", rulesHandler.GetRules)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		// Жизненный цикл тестовой сессии
		protected.POST("/test-sessions/:id/apply", middleware.UUIDValidator("id"), sessionHandler.Apply)
		protected.GET("/test-sessions/my", sessionHandler.ListMySessions)
		protected.GET("/test-sessions/campaigns/:campaignId", middleware.UUIDValidator("campaignId"), sessionHandler.ListCampaignSessions)
		protected.GET("/test-sessions/:id", middleware.UUIDValidator("id"), sessionHandler.GetSession)
		protected.POST("/test-sessions/:id/accept", middleware.UUIDValidator("id"), sessionHandler.Accept)
		protected.POST("/test-sessions/:id/reject", middleware.UUIDValidator("id"), sessionHandler.Reject)
		protected.POST("/test-sessions/:id/validate-price", middleware.UUIDValidator("id"), sessionHandler.ValidatePrice)
		protected.POST("/test-sessions/:id/submit-purchase", middleware.UUIDValidator("id"), sessionHandler.SubmitPurchase)
		protected.POST("/test-sessions/:id/validate-purchase", middleware.UUIDValidator("id"), sessionHandler.ValidatePurchase)
		protected.POST("/test-sessions/:id/reject-purchase", middleware.UUIDValidator("id"), sessionHandler.RejectPurchase)
		protected.POST("/test-sessions/:id/steps/:stepId/complete", middleware.UUIDValidator("id"), middleware.UUIDValidator("stepId"), sessionHandler.CompleteStep)
		protected.POST("/test-sessions/:id/submit-test", middleware.UUIDValidator("id"), sessionHandler.SubmitTest)
		protected.POST("/test-sessions/:id/complete", middleware.UUIDValidator("id"), sessionHandler.Complete)
		protected.POST("/test-sessions/:id/cancel", middleware.UUIDValidator("id"), sessionHandler.Cancel)
		protected.POST("/test-sessions/:id/proofs", middleware.UUIDValidator("id"), proofHandler.UploadProof)

		// Отмена кампаний
		protected.GET("/cancellations/campaigns/:id/impact", middleware.UUIDValidator("id"), cancellationHandler.Impact)
		protected.POST("/cancellations/campaigns/:id/cancel", middleware.UUIDValidator("id"), cancellationHandler.Cancel)

		// Споры
		protected.POST("/disputes/sessions/:id/dispute", middleware.UUIDValidator("id"), disputeHandler.CreateDispute)
		protected.GET("/disputes/sessions/:id", middleware.UUIDValidator("id"), disputeHandler.GetSessionDispute)
		protected.GET("/disputes", disputeHandler.ListDisputes)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), disputeHandler.GetDispute)

		// Кошелёк
		protected.GET("/wallet", walletHandler.GetMyWallet)
		protected.GET("/wallet/transactions", walletHandler.ListMyTransactions)

		// Уведомления
		protected.GET("/notifications", notificationHandler.List)
		protected.GET("/notifications/unread/count", notificationHandler.CountUnread)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkAsRead)
		protected.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
	}

	// Маршруты арбитра
	arbiter := api.Group("/")
	arbiter.Use(middleware.AuthMiddleware(tokenManager), middleware.RequireRole(models.RoleArbiter))
	{
		arbiter.POST("/cancellations/campaigns/:id/admin-cancel", middleware.UUIDValidator("id"), cancellationHandler.AdminCancel)
		arbiter.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), disputeHandler.ResolveDispute)
		arbiter.GET("/wallet/platform", walletHandler.PlatformBalance)
		arbiter.PUT("/rules", rulesHandler.UpdateRules)
	}

	return r
}
