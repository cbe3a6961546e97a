package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	MySQLDSN      string
	RunMigrations bool

	RedisAddr      string
	LedgerCacheTTL time.Duration

	KafkaBrokers   []string
	KafkaTopic     string
	EventWorkers   int
	EventQueueSize int

	OtelEndpoint string
	LogLevel     string
	LogFormat    string

	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Load reads an optional .env file and then the environment. Malformed
// numbers and durations are reported rather than silently defaulted.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	p := &parser{}
	cfg := &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:       getEnv("GRPC_ADDR", ":50051"),
		MySQLDSN:       getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/stockledger?parseTime=true"),
		RunMigrations:  p.bool("RUN_MIGRATIONS", false),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		LedgerCacheTTL: p.duration("LEDGER_CACHE_TTL", 24*time.Hour),
		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "stock.deducted"),
		EventWorkers:   p.int("EVENT_WORKERS", 4),
		EventQueueSize: p.int("EVENT_QUEUE_SIZE", 1024),
		OtelEndpoint:   getEnv("OTEL_ENDPOINT", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		MaxAttempts:    p.int("DEDUCT_MAX_ATTEMPTS", 5),
		RetryBaseDelay: p.duration("DEDUCT_RETRY_BASE_DELAY", 20*time.Millisecond),
		RetryMaxDelay:  p.duration("DEDUCT_RETRY_MAX_DELAY", 500*time.Millisecond),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.MySQLDSN == "" {
		errs = append(errs, errors.New("MYSQL_DSN cannot be empty"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("DEDUCT_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts))
	}
	if c.RetryBaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("DEDUCT_RETRY_BASE_DELAY must be positive, got %s", c.RetryBaseDelay))
	}
	if c.RetryMaxDelay <= 0 {
		errs = append(errs, fmt.Errorf("DEDUCT_RETRY_MAX_DELAY must be positive, got %s", c.RetryMaxDelay))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("DEDUCT_RETRY_MAX_DELAY (%s) is below DEDUCT_RETRY_BASE_DELAY (%s)", c.RetryMaxDelay, c.RetryBaseDelay))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC cannot be empty when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
}
