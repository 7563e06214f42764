package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/producttest-backend/internal/config"
	"github.com/ignatzorin/producttest-backend/internal/db"
	"github.com/ignatzorin/producttest-backend/internal/gateway"
	"github.com/ignatzorin/producttest-backend/internal/goroutine"
	httpHandlers "github.com/ignatzorin/producttest-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/producttest-backend/internal/http/router"
	"github.com/ignatzorin/producttest-backend/internal/logger"
	"github.com/ignatzorin/producttest-backend/internal/repository"
	"github.com/ignatzorin/producttest-backend/internal/service"
	"github.com/ignatzorin/producttest-backend/internal/storage"
	"github.com/ignatzorin/producttest-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, 24*time.Hour)

	proofStorage, err := storage.NewProofStorage(cfg.ProofStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)

	// Репозитории.
	sessionRepo := repository.NewSessionRepository(dbConn)
	campaignRepo := repository.NewCampaignRepository(dbConn)
	profileRepo := repository.NewProfileRepository(dbConn)
	ledgerRepo := repository.NewLedgerRepository(dbConn)
	rulesRepo := repository.NewRulesRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Вебсокеты и уведомления.
	notificationService := service.NewNotificationService(notificationRepo)
	hub := ws.NewHub(ctx, logger.Log)
	hub.SetNotificationSaver(ws.NewNotificationServiceAdapter(notificationService))
	go hub.Run()
	notifier := ws.NewHubNotifier(hub, logger.Log)

	// Сервисы.
	rulesService := service.NewRulesService(rulesRepo)
	settlementService := service.NewSettlementService(ledgerRepo, gatewayClient, logger.Log)
	sessionService := service.NewSessionService(sessionRepo, campaignRepo, profileRepo, rulesService, settlementService, notifier, logger.Log)
	cancellationService := service.NewCancellationService(campaignRepo, sessionRepo, profileRepo, rulesService, settlementService, notifier, logger.Log)
	disputeService := service.NewDisputeService(disputeRepo, sessionRepo, campaignRepo, profileRepo, settlementService, notifier, logger.Log)
	walletService := service.NewWalletService(ledgerRepo, settlementService)

	// Фоновая сверка незакрытых выплат.
	reconciler := service.NewReconciler(ledgerRepo, settlementService, sessionRepo, campaignRepo, profileRepo, rulesService, cfg.ReconcileInterval, logger.Log)
	recovery := goroutine.NewRecoveryHandler(logger.Log)
	recovery.SafeGoWithContext(ctx, reconciler.Run)

	// HTTP хэндлеры.
	sessionHandler := httpHandlers.NewSessionHandler(sessionService)
	cancellationHandler := httpHandlers.NewCancellationHandler(cancellationService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	walletHandler := httpHandlers.NewWalletHandler(walletService)
	rulesHandler := httpHandlers.NewRulesHandler(rulesService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	proofHandler := httpHandlers.NewProofHandler(sessionService, proofStorage)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	engine := httpRouter.SetupRouter(
		cfg,
		sessionHandler,
		cancellationHandler,
		disputeHandler,
		walletHandler,
		rulesHandler,
		notificationHandler,
		proofHandler,
		wsHandler,
		healthHandler,
		tokenManager,
	)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
