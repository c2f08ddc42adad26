package main

import (
	"fmt"
	"time"

	"judgecore/internal/common/bootstrap"
	"judgecore/internal/judge/queue"
	"judgecore/internal/judge/sandbox"
	"judgecore/internal/judge/stream"
	"judgecore/internal/submit/service"
	"judgecore/pkg/utils/logger"
)

const (
	defaultHTTPAddr       = "0.0.0.0:8085"
	defaultPersistTimeout = 5 * time.Second
	defaultStartRate      = 20
	defaultRateKey        = "judge:start-rate"
)

// LimitConfig caps job starts.
type LimitConfig struct {
	// StartRate is jobs per second; StartBurst is the bucket size.
	StartRate  float64 `yaml:"startRate"`
	StartBurst int     `yaml:"startBurst"`
	// Distributed shares the bucket across workers through Redis.
	Distributed bool   `yaml:"distributed"`
	RateKey     string `yaml:"rateKey"`
}

// JudgeConfig holds worker settings.
type JudgeConfig struct {
	PersistTimeout   time.Duration `yaml:"persistTimeout"`
	DefaultTimeLimit time.Duration `yaml:"defaultTimeLimit"`
}

// APIConfig mounts the submission API in the worker process, for single-node setups.
type APIConfig struct {
	Enabled bool             `yaml:"enabled"`
	Submit  service.Settings `yaml:"submit"`
	Stream  stream.Config    `yaml:"stream"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server  bootstrap.ServerConfig `yaml:"server"`
	Logger  logger.Config          `yaml:"logger"`
	Infra   bootstrap.Infra        `yaml:",inline"`
	Queue   queue.Config           `yaml:"queue"`
	Limits  LimitConfig            `yaml:"limits"`
	Sandbox sandbox.Config         `yaml:"sandbox"`
	Judge   JudgeConfig            `yaml:"judge"`
	API     APIConfig              `yaml:"api"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := bootstrap.LoadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Infra.ApplyDefaults(); err != nil {
		return nil, err
	}
	cfg.Server.ApplyDefaults(defaultHTTPAddr)
	if cfg.Judge.PersistTimeout == 0 {
		cfg.Judge.PersistTimeout = defaultPersistTimeout
	}
	if cfg.Limits.StartRate == 0 {
		cfg.Limits.StartRate = defaultStartRate
	}
	if cfg.Limits.StartBurst <= 0 {
		cfg.Limits.StartBurst = int(cfg.Limits.StartRate)
		if cfg.Limits.StartBurst < 1 {
			cfg.Limits.StartBurst = 1
		}
	}
	if cfg.Limits.RateKey == "" {
		cfg.Limits.RateKey = defaultRateKey
	}
	if cfg.Limits.Distributed && cfg.Infra.Redis.Addr == "" {
		return nil, fmt.Errorf("distributed start rate requires redis")
	}
	if cfg.API.Enabled && cfg.Infra.Broker.Driver != bootstrap.DriverMemory && cfg.Infra.Database.Driver == bootstrap.DriverMemory {
		return nil, fmt.Errorf("memory database cannot be shared with a separate broker consumer")
	}
	return &cfg, nil
}
