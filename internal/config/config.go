package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort       string `yaml:"http_port"`
	GRPCHealthPort string `yaml:"grpc_health_port"`

	// StoreDriver is "memory" or "mongo".
	StoreDriver   string `yaml:"store_driver"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	RedisAddr    string        `yaml:"redis_addr"`
	CartCacheTTL time.Duration `yaml:"cart_cache_ttl"`

	KafkaBrokers []string      `yaml:"kafka_brokers"`
	KafkaTopic   string        `yaml:"kafka_topic"`
	KafkaGroupID string        `yaml:"kafka_group_id"`
	OutboxTick   time.Duration `yaml:"outbox_tick"`

	LedgerDialect string `yaml:"ledger_dialect"`
	LedgerDSN     string `yaml:"ledger_dsn"`

	TokenSecret string        `yaml:"token_secret"`
	TokenIssuer string        `yaml:"token_issuer"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	// BootstrapAdmin is promoted to administrator at startup when set.
	BootstrapAdmin string `yaml:"bootstrap_admin"`

	StockPolicy string `yaml:"stock_policy"`
	ReceiptDir  string `yaml:"receipt_dir"`

	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`

	LogLevel    string `yaml:"log_level"`
	Development bool   `yaml:"development"`
}

func defaults() *Config {
	return &Config{
		HTTPPort:           "8080",
		GRPCHealthPort:     "50051",
		StoreDriver:        "memory",
		MongoURI:           "mongodb://localhost:27017/?replicaSet=rs0",
		MongoDatabase:      "storefront",
		CartCacheTTL:       15 * time.Minute,
		KafkaTopic:         "storefront-orders",
		KafkaGroupID:       "storefront-ledger",
		OutboxTick:         time.Second,
		LedgerDialect:      "sqlite",
		LedgerDSN:          "file:ledger.db",
		TokenIssuer:        "storefront",
		TokenTTL:           24 * time.Hour,
		StockPolicy:        "strict",
		ReceiptDir:         "receipts",
		RequestTimeout:     30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		MaxRequestBodySize: 1 << 20, // 1MB
		LogLevel:           "info",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.GRPCHealthPort = getEnv("GRPC_HEALTH_PORT", c.GRPCHealthPort)
	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.MongoURI = getEnv("MONGO_URI", c.MongoURI)
	c.MongoDatabase = getEnv("MONGO_DATABASE", c.MongoDatabase)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.KafkaBrokers = getEnvList("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)
	c.KafkaGroupID = getEnv("KAFKA_GROUP_ID", c.KafkaGroupID)
	c.LedgerDialect = getEnv("LEDGER_DIALECT", c.LedgerDialect)
	c.LedgerDSN = getEnv("LEDGER_DSN", c.LedgerDSN)
	c.TokenSecret = getEnv("TOKEN_SECRET", c.TokenSecret)
	c.TokenIssuer = getEnv("TOKEN_ISSUER", c.TokenIssuer)
	c.BootstrapAdmin = getEnv("BOOTSTRAP_ADMIN", c.BootstrapAdmin)
	c.StockPolicy = getEnv("STOCK_POLICY", c.StockPolicy)
	c.ReceiptDir = getEnv("RECEIPT_DIR", c.ReceiptDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	var err error
	if c.CartCacheTTL, err = getEnvDuration("CART_CACHE_TTL", c.CartCacheTTL); err != nil {
		return err
	}
	if c.OutboxTick, err = getEnvDuration("OUTBOX_TICK", c.OutboxTick); err != nil {
		return err
	}
	if c.TokenTTL, err = getEnvDuration("TOKEN_TTL", c.TokenTTL); err != nil {
		return err
	}
	if c.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}
	if v := os.Getenv("MAX_REQUEST_BODY_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_REQUEST_BODY_SIZE %q: %w", v, err)
		}
		c.MaxRequestBodySize = n
	}
	if v := os.Getenv("DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEVELOPMENT %q: %w", v, err)
		}
		c.Development = b
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "mongo":
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if len(c.TokenSecret) < 32 {
		return errors.New("TOKEN_SECRET must be at least 32 bytes")
	}
	if c.MaxRequestBodySize <= 0 {
		return errors.New("max request body size must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

// getEnvList splits a comma separated variable.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
