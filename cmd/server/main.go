package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"groupbuy/internal/config"
	"groupbuy/internal/handler"
	"groupbuy/internal/infrastructure/cache"
	"groupbuy/internal/infrastructure/database"
	"groupbuy/internal/infrastructure/logger"
	"groupbuy/internal/infrastructure/mq"
	"groupbuy/internal/job"
	"groupbuy/internal/repository"
	"groupbuy/internal/service"
	"groupbuy/pkg/clock"
	"groupbuy/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "服务启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer log.Close()

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	db, err := database.OpenAndMigrate(&cfg.Database, log.Logger)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		log.Info("Redis 连接成功")
	}

	var publisher mq.Publisher = mq.NewLogPublisher(log.Named("event").Logger)
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		publisher = mq.NewKafkaPublisher(producer)
		log.Info("Kafka 生产者初始化成功", zap.Strings("brokers", cfg.Kafka.Brokers))
	}
	defer publisher.Close()

	clk := clock.System{}
	goodsRepo := repository.NewGoodsRepository(db)
	userRepo := repository.NewUserRepository(db)

	walletService := service.NewWalletService(db, cfg, log, clk)
	orderService := service.NewOrderService(db, log, clk, walletService)
	groupBuyService := service.NewGroupBuyService(db, cfg, log, clk, goodsRepo, userRepo)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := job.NewGroupExpiryJob(db, redisClient, cfg, log, clk, walletService)
	go sweeper.Start(ctx)

	outboxSender := job.NewOutboxSender(db, publisher, cfg, log)
	go outboxSender.Start(ctx)

	h := handler.NewHandler(groupBuyService, orderService, walletService, sweeper, log)
	router := handler.SetupRouter(h, log, cfg.Server.Mode)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("正在关闭服务...", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("HTTP 服务异常退出: %w", err)
	}

	// 停止后台任务
	sweeper.Stop()
	outboxSender.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭异常", zap.Error(err))
	}

	log.Info("服务已关闭")
	return nil
}
