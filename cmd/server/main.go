package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"yardstick/internal/database"
	"yardstick/internal/router"
	"yardstick/internal/services"
	"yardstick/pkg/config"
	"yardstick/pkg/logger"
	"yardstick/pkg/mailer"

	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger := logger.GetLogger()
	appLogger.Info("Starting yardstick notes service...")

	// 初始化数据库
	if err := database.Initialize(cfg); err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			appLogger.Error("Failed to close database:", err)
		}
		if err := database.CloseRedis(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	// 执行数据库迁移
	if err := database.Migrate(database.GetDB()); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// Redis 为可选依赖
	redisClient := database.GetRedisClient()
	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			appLogger.Fatalf("Failed to connect Redis: %v", err)
		}
		appLogger.Info("Redis connected, using distributed tenant lock and mail outbox")
	}

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	deps := router.NewDependencies(cfg, database.GetDB(), redisClient, mailer.NewFromConfig(cfg.Mail))

	// 执行种子数据初始化
	if cfg.Seed.Enabled {
		if err := seedData(context.Background(), deps); err != nil {
			appLogger.Fatalf("Failed to initialize seed data: %v", err)
		}
	}

	// 启动邮件投递器
	if err := deps.Mail.Start(cfg.Mail.DrainCron); err != nil {
		appLogger.Errorf("Failed to start mail dispatcher: %v", err)
	}
	defer deps.Mail.Stop()

	// 启动邀请过期调度器
	inviteScheduler := services.NewInviteExpiryScheduler(deps.Invitations, cfg.Invite.SweepCron)
	if err := inviteScheduler.Start(); err != nil {
		appLogger.Errorf("Failed to start invite expiry scheduler: %v", err)
		// 不影响主服务启动，过期邀请仍会在读取时被标记
	}
	defer inviteScheduler.Stop()

	r := router.SetupRouter(deps)

	// 启动服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}
	appLogger.Info("Server exited")
}
