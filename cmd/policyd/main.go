package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/healops-policy-engine/internal/audit"
	"github.com/xela07ax/healops-policy-engine/internal/console/handler"
	"github.com/xela07ax/healops-policy-engine/internal/console/server"
	"github.com/xela07ax/healops-policy-engine/internal/console/service"
	"github.com/xela07ax/healops-policy-engine/internal/engine"
	"github.com/xela07ax/healops-policy-engine/internal/infra"
	"github.com/xela07ax/healops-policy-engine/internal/infra/auth"
	"github.com/xela07ax/healops-policy-engine/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	// 2. Инфраструктура и ресурсы
	if cfg.Database.URL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Fatal("invalid database url", zap.Error(err))
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("failed to create pg pool", zap.Error(err))
	}
	defer pool.Close()

	policyRepo := postgres.NewPolicyRepo(pool)
	auditRepo := postgres.NewAuditRepo(pool)

	// Проверяем соединение с таймаутом
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := policyRepo.Ping(pingCtx); err != nil {
		cancel()
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// 3. Метрики и аудит
	registry := prometheus.NewRegistry()
	metrics := engine.NewMetrics(registry)

	trail := audit.NewTrail(auditRepo, logger,
		cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval,
		metrics.AuditBufferFill)
	trail.Start()

	// 4. Движок оценки
	cache := engine.NewRedisDecisionCache(rdb, logger)
	evaluator := engine.NewEvaluator(policyRepo, cache, trail, metrics, logger, cfg.Engine.CacheTTL)

	// 5. Слои консоли (Dependency Injection)
	policyService := service.NewPolicyService(policyRepo, rdb, logger)
	auditService := service.NewAuditService(auditRepo)

	evaluateHandler := handler.NewEvaluateHandler(evaluator)
	policyHandler := handler.NewPolicyHandler(policyService)
	auditHandler := handler.NewAuditHandler(auditService)

	// Токены выпускает внешний auth-сервис, здесь только проверка подписи
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("failed to parse auth public key", zap.Error(err))
		}
		validator = auth.NewBaseValidator(pubKey)
	}

	api := server.New(cfg, logger, validator, registry,
		evaluateHandler, policyHandler, auditHandler)

	// 6. Запуск сервера
	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("policy engine started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 7. Graceful shutdown: сервер → дренаж аудита → соединения
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}

	// Аудит останавливаем после сервера: все принятые запросы уже
	// положили свои записи в буфер
	trail.Stop()

	logger.Info("policy engine stopped")
}
