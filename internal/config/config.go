package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when WALLET_CONFIG is unset.
const DefaultPath = "internal/config/config.yaml"

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects the gorm dialect: postgres, mysql or sqlite.
type DatabaseConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	PrepareStmt bool   `yaml:"prepare_stmt"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// WalletConfig tunes the balance consistency protocol.
type WalletConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	LockEnabled    bool          `yaml:"lock_enabled"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	LockRetry      time.Duration `yaml:"lock_retry"`
	LockMaxRetries int           `yaml:"lock_max_retries"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Path returns the config file location, honouring WALLET_CONFIG.
func Path() string {
	if p := os.Getenv("WALLET_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes yaml, applies env overrides and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	applyDefaults(&cfg)
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" && cfg.Database.Driver == "postgres" {
		cfg.Database.DSN = strings.TrimSpace(cfg.Database.DSN) + " password=" + pw
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "wallet-events"
	}
	if cfg.Kafka.PollInterval <= 0 {
		cfg.Kafka.PollInterval = time.Second
	}
	if cfg.Kafka.BatchSize <= 0 {
		cfg.Kafka.BatchSize = 100
	}
	if cfg.RateLimit.RPS <= 0 {
		cfg.RateLimit.RPS = 50
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 100
	}
	if cfg.Wallet.MaxRetries <= 0 {
		cfg.Wallet.MaxRetries = 3
	}
	if cfg.Wallet.CacheTTL <= 0 {
		cfg.Wallet.CacheTTL = 5 * time.Minute
	}
	if cfg.Wallet.LockTTL <= 0 {
		cfg.Wallet.LockTTL = 30 * time.Second
	}
	if cfg.Wallet.LockRetry <= 0 {
		cfg.Wallet.LockRetry = 100 * time.Millisecond
	}
	if cfg.Wallet.LockMaxRetries <= 0 {
		cfg.Wallet.LockMaxRetries = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
