package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"judgecore/internal/common/bootstrap"
	"judgecore/internal/judge/queue"
	"judgecore/internal/submit/controller"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/submit_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, appCfg); err != nil {
		logger.Error(context.Background(), "submit service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, appCfg *AppConfig) error {
	redisCache, err := bootstrap.OpenCache(appCfg.Infra.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	if redisCache != nil {
		defer func() {
			_ = redisCache.Close()
		}()
	}

	stores, err := bootstrap.OpenStores(ctx, appCfg.Infra.Database, redisCache)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer stores.Close()

	sources, err := bootstrap.OpenSourceStore(ctx, appCfg.Infra.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	broker, err := bootstrap.OpenBroker(appCfg.Infra.Broker)
	if err != nil {
		return fmt.Errorf("init broker: %w", err)
	}
	defer func() {
		_ = broker.Close()
	}()
	if appCfg.Infra.Broker.Driver == bootstrap.DriverMemory {
		logger.Warn(ctx, "memory broker has no consumer in this process; run judge-service with api.enabled instead")
	}

	jobs := queue.New(broker, appCfg.Queue)
	health := controller.NewHealthController(bootstrap.HealthDeps(stores, broker, redisCache))
	router := bootstrap.NewRouter()
	err = bootstrap.MountSubmitAPI(router, bootstrap.SubmitAPI{
		Stores:   stores,
		Queue:    jobs,
		Sources:  sources,
		Cache:    redisCache,
		Settings: appCfg.Submit,
		Stream:   appCfg.Stream,
		Health:   health,
	})
	if err != nil {
		return fmt.Errorf("init submit api: %w", err)
	}
	logger.Info(ctx, "submit service started", zap.String("addr", appCfg.Server.Addr), zap.String("topic", jobs.Config().Topic))
	return bootstrap.Serve(ctx, appCfg.Server, router)
}
