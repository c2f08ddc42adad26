package bootstrap

import (
	"context"
	"fmt"
	"os"

	"judgecore/internal/common/cache"
	"judgecore/internal/common/db"
	"judgecore/internal/common/mq"
	"judgecore/internal/common/storage"
	"judgecore/internal/judge/model"
	"judgecore/internal/judge/repository"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stores groups the repositories backed by one database.
type Stores struct {
	Submissions repository.SubmissionRepository
	Problems    repository.ProblemRepository
	Scores      repository.ScoreRepository
	Database    Pinger
	closers     []func() error
}

// Close releases the connections held by the stores.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// OpenCache connects to Redis, or returns nil when no address is configured.
func OpenCache(cfg cache.RedisConfig) (cache.Cache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	redisCache, err := cache.NewRedisCacheWithConfig(&cfg)
	if err != nil {
		return nil, err
	}
	return redisCache, nil
}

// OpenStores opens the configured database and builds the repositories on it.
// redisCache may be nil.
func OpenStores(ctx context.Context, cfg DatabaseConfig, redisCache cache.Cache) (*Stores, error) {
	if cfg.Driver == DriverMemory {
		mem := repository.NewMemoryStore()
		if cfg.SeedFile != "" {
			if err := seedMemory(mem, cfg.SeedFile); err != nil {
				return nil, err
			}
		}
		logger.Warn(ctx, "using in-memory store; data is lost on restart")
		return &Stores{Submissions: mem, Problems: mem, Scores: mem, Database: mem}, nil
	}

	database, err := db.Open(&cfg.Config)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := repository.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
	}
	submissions := repository.NewSQLSubmissionRepository(database)
	var problems repository.ProblemRepository = repository.NewSQLProblemRepository(database)
	if redisCache != nil {
		problems = repository.NewCachedProblemRepository(problems, redisCache, cfg.ProblemCacheTTL, 0)
	}
	logger.Info(ctx, "database ready", zap.String("driver", database.Dialect().Name()))
	return &Stores{
		Submissions: submissions,
		Problems:    problems,
		Scores:      submissions,
		Database:    database,
		closers:     []func() error{database.Close},
	}, nil
}

// OpenBroker connects the configured message queue.
func OpenBroker(cfg BrokerConfig) (mq.MessageQueue, error) {
	switch cfg.Driver {
	case DriverKafka:
		return mq.NewKafkaQueue(cfg.Kafka.toMQConfig())
	default:
		return mq.NewMemoryQueue(), nil
	}
}

// OpenSourceStore builds the source archive, or returns nil when sources stay inline.
func OpenSourceStore(ctx context.Context, cfg StorageConfig) (*repository.SourceStore, error) {
	var objects storage.ObjectStorage
	switch cfg.Driver {
	case "":
		return nil, nil
	case DriverMinIO:
		minioStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := minioStorage.EnsureBucket(ctx, cfg.Bucket); err != nil {
			return nil, err
		}
		objects = minioStorage
	case DriverLocal:
		local, err := storage.NewLocalStorage(cfg.LocalRoot)
		if err != nil {
			return nil, err
		}
		objects = local
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	return repository.NewSourceStore(objects, cfg.Bucket)
}

type seedProblem struct {
	model.Problem `yaml:",inline"`
	Cases         []struct {
		Input          string `yaml:"input"`
		ExpectedOutput string `yaml:"expectedOutput"`
	} `yaml:"cases"`
}

func seedMemory(mem *repository.MemoryStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file failed: %w", err)
	}
	var seed struct {
		Problems []seedProblem `yaml:"problems"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file failed: %w", err)
	}
	for _, p := range seed.Problems {
		cases := make([]model.TestCase, 0, len(p.Cases))
		for i, c := range p.Cases {
			cases = append(cases, model.TestCase{ProblemID: p.ID, Ordinal: i, Input: c.Input, ExpectedOutput: c.ExpectedOutput})
		}
		mem.PutProblem(p.Problem, cases)
	}
	return nil
}
