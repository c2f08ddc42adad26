// Package bootstrap builds the shared infrastructure of the service binaries from YAML config.
package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"time"

	"judgecore/internal/common/cache"
	"judgecore/internal/common/db"
	"judgecore/internal/common/mq"
	"judgecore/internal/common/storage"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultReadTimeout = 5 * time.Second
	defaultIdleTimeout = 60 * time.Second

	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverKafka    = "kafka"
	DriverMinIO    = "minio"
	DriverLocal    = "local"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// ApplyDefaults fills unset timeouts and the listen address.
func (s *ServerConfig) ApplyDefaults(addr string) {
	if s.Addr == "" {
		s.Addr = addr
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = defaultReadTimeout
	}
	// WriteTimeout stays unlimited when unset; result streams hold the response open.
	if s.IdleTimeout == 0 {
		s.IdleTimeout = defaultIdleTimeout
	}
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	db.Config `yaml:",inline"`
	// Migrate applies the embedded schema on startup.
	Migrate bool `yaml:"migrate"`
	// SeedFile loads problems and test cases into the memory driver.
	SeedFile string `yaml:"seedFile"`
	// ProblemCacheTTL enables the Redis problem cache when Redis is configured.
	ProblemCacheTTL time.Duration `yaml:"problemCacheTTL"`
}

// KafkaConfig holds Kafka settings as they appear in YAML.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	MinBytes     int           `yaml:"minBytes"`
	MaxBytes     int           `yaml:"maxBytes"`
	MaxWait      time.Duration `yaml:"maxWait"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
}

// BrokerConfig selects the job transport.
type BrokerConfig struct {
	Driver string      `yaml:"driver"`
	Kafka  KafkaConfig `yaml:"kafka"`
}

// StorageConfig selects where source archives live. An empty driver keeps sources inline.
type StorageConfig struct {
	Driver    string              `yaml:"driver"`
	Bucket    string              `yaml:"bucket"`
	MinIO     storage.MinIOConfig `yaml:"minio"`
	LocalRoot string              `yaml:"localRoot"`
}

// Infra is the config shared by every service binary.
type Infra struct {
	Database DatabaseConfig    `yaml:"database"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Broker   BrokerConfig      `yaml:"broker"`
	Storage  StorageConfig     `yaml:"storage"`
}

// ApplyDefaults normalizes drivers and fills defaults.
func (i *Infra) ApplyDefaults() error {
	i.Database.Driver = strings.ToLower(strings.TrimSpace(i.Database.Driver))
	switch i.Database.Driver {
	case "", DriverMemory:
		i.Database.Driver = DriverMemory
	case DriverMySQL, DriverPostgres, "postgresql":
		if i.Database.DSN == "" {
			return fmt.Errorf("database dsn is required")
		}
		i.Database.ApplyDefaults()
	default:
		return fmt.Errorf("unsupported database driver %q", i.Database.Driver)
	}
	if i.Database.ProblemCacheTTL == 0 {
		i.Database.ProblemCacheTTL = 5 * time.Minute
	}
	if i.Redis.Addr != "" {
		i.Redis.ApplyDefaults()
	}

	i.Broker.Driver = strings.ToLower(strings.TrimSpace(i.Broker.Driver))
	switch i.Broker.Driver {
	case "", DriverMemory:
		i.Broker.Driver = DriverMemory
	case DriverKafka:
		if len(i.Broker.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required")
		}
	default:
		return fmt.Errorf("unsupported broker driver %q", i.Broker.Driver)
	}

	i.Storage.Driver = strings.ToLower(strings.TrimSpace(i.Storage.Driver))
	switch i.Storage.Driver {
	case "":
	case DriverMinIO:
		if i.Storage.Bucket == "" {
			i.Storage.Bucket = i.Storage.MinIO.Bucket
		}
	case DriverLocal:
		if i.Storage.LocalRoot == "" {
			i.Storage.LocalRoot = "data/objects"
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", i.Storage.Driver)
	}
	if i.Storage.Driver != "" && i.Storage.Bucket == "" {
		i.Storage.Bucket = "judge-sources"
	}
	return nil
}

// LoadYAML reads path into out.
func LoadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	cfg := mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
	}
	cfg.Compression = parseCompression(k.Compression)
	return cfg
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
