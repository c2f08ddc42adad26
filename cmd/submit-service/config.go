package main

import (
	"judgecore/internal/common/bootstrap"
	"judgecore/internal/judge/queue"
	"judgecore/internal/judge/stream"
	"judgecore/internal/submit/service"
	"judgecore/pkg/utils/logger"
)

const defaultHTTPAddr = "0.0.0.0:8086"

// AppConfig holds submit-service config.
type AppConfig struct {
	Server bootstrap.ServerConfig `yaml:"server"`
	Logger logger.Config          `yaml:"logger"`
	Infra  bootstrap.Infra        `yaml:",inline"`
	Queue  queue.Config           `yaml:"queue"`
	Submit service.Settings       `yaml:"submit"`
	Stream stream.Config          `yaml:"stream"`
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
	return &cfg, nil
}
