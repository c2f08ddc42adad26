package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"judgecore/internal/common/bootstrap"
	"judgecore/internal/common/mq"
	"judgecore/internal/judge/queue"
	"judgecore/internal/judge/sandbox"
	"judgecore/internal/judge/service"
	"judgecore/internal/submit/controller"
	"judgecore/pkg/utils/logger"

	zredis "github.com/zeromicro/go-zero/core/stores/redis"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

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
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
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

	executor, err := sandbox.NewExecutor(appCfg.Sandbox, nil)
	if err != nil {
		return fmt.Errorf("init sandbox: %w", err)
	}

	judgeCfg := service.Config{
		Submissions:      stores.Submissions,
		Problems:         stores.Problems,
		Sandbox:          executor,
		PersistTimeout:   appCfg.Judge.PersistTimeout,
		DefaultTimeLimit: appCfg.Judge.DefaultTimeLimit,
	}
	if sources != nil {
		judgeCfg.Sources = sources
	}
	judgeSvc, err := service.NewService(judgeCfg)
	if err != nil {
		return fmt.Errorf("init judge service: %w", err)
	}

	jobs := queue.New(broker, appCfg.Queue)
	limits, err := buildLimits(appCfg)
	if err != nil {
		return err
	}
	if err := jobs.Consume(ctx, judgeSvc, limits); err != nil {
		return fmt.Errorf("subscribe judge queue: %w", err)
	}
	if err := broker.Start(); err != nil {
		return fmt.Errorf("start judge consumer: %w", err)
	}
	defer func() {
		_ = broker.Stop()
	}()
	logger.Info(ctx, "judge worker started",
		zap.String("topic", jobs.Config().Topic),
		zap.Int("concurrency", jobs.Config().Concurrency),
		zap.Int("max_attempts", jobs.Config().MaxAttempts),
	)

	health := controller.NewHealthController(bootstrap.HealthDeps(stores, broker, redisCache))
	router := bootstrap.NewRouter()
	if appCfg.API.Enabled {
		err := bootstrap.MountSubmitAPI(router, bootstrap.SubmitAPI{
			Stores:   stores,
			Queue:    jobs,
			Sources:  sources,
			Cache:    redisCache,
			Settings: appCfg.API.Submit,
			Stream:   appCfg.API.Stream,
			Health:   health,
		})
		if err != nil {
			return fmt.Errorf("init submit api: %w", err)
		}
		logger.Info(ctx, "submission api mounted in worker process")
	} else {
		router.GET("/healthz", health.Live)
		router.GET("/readyz", health.Ready)
	}
	return bootstrap.Serve(ctx, appCfg.Server, router)
}

func buildLimits(appCfg *AppConfig) (queue.Limits, error) {
	limits := queue.Limits{InFlight: mq.NewTokenLimiter(appCfg.Queue.Concurrency)}
	if appCfg.Limits.StartRate < 0 {
		return limits, nil
	}
	if !appCfg.Limits.Distributed {
		limits.StartRate = mq.NewRateLimiter(appCfg.Limits.StartRate, appCfg.Limits.StartBurst)
		return limits, nil
	}
	store, err := zredis.NewRedis(zredis.RedisConf{
		Host: appCfg.Infra.Redis.Addr,
		Type: zredis.NodeType,
		Pass: appCfg.Infra.Redis.Password,
	})
	if err != nil {
		return limits, fmt.Errorf("init distributed rate limiter: %w", err)
	}
	perSecond := int(appCfg.Limits.StartRate)
	if perSecond < 1 {
		perSecond = 1
	}
	limits.StartRate = mq.NewRedisRateLimiter(store, appCfg.Limits.RateKey, perSecond, appCfg.Limits.StartBurst, 0)
	return limits, nil
}
