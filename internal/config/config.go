package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hakimelghazi/confidential-book/internal/engine"
	"github.com/hakimelghazi/confidential-book/internal/market"
)

type PairConfig struct {
	ID     uint64 `yaml:"id"`
	Base   string `yaml:"base"`
	Quote  string `yaml:"quote"`
	Active bool   `yaml:"active"`
}

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	DatabaseURL string   `yaml:"database_url"`
	JWTSecret   string   `yaml:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins"`

	Book struct {
		Capacity      int           `yaml:"capacity"`
		MaxTrades     int           `yaml:"max_trades"`
		MatchInterval time.Duration `yaml:"match_interval"`
	} `yaml:"book"`

	OutboxDir       string        `yaml:"outbox_dir"`
	PublishInterval time.Duration `yaml:"publish_interval"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`

	Pairs []PairConfig `yaml:"pairs"`
}

func defaults() *Config {
	cfg := &Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		OutboxDir:       "data/outbox",
		PublishInterval: 250 * time.Millisecond,
		CORSOrigins:     []string{"http://localhost:3000"},
	}
	cfg.Book.Capacity = engine.DefaultCapacity
	cfg.Book.MaxTrades = engine.DefaultMaxTrades
	cfg.Kafka.Topic = "book.events"
	return cfg
}

// Load applies defaults, then the YAML file at path (skipped when path is
// empty), then .env, then the environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		log.Println("[config] .env file not found, using environment")
	}
	applyEnv(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.GRPCAddr, "GRPC_ADDR")
	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	setString(&cfg.OutboxDir, "OUTBOX_DIR")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if len(c.Pairs) == 0 {
		return errors.New("at least one trading pair is required")
	}
	seen := make(map[uint64]bool, len(c.Pairs))
	for _, p := range c.Pairs {
		if seen[p.ID] {
			return fmt.Errorf("duplicate pair id %d", p.ID)
		}
		seen[p.ID] = true
		if p.Base == "" || p.Quote == "" {
			return fmt.Errorf("pair %d needs base and quote", p.ID)
		}
	}
	return nil
}

func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Capacity:      c.Book.Capacity,
		MaxTrades:     c.Book.MaxTrades,
		MatchInterval: c.Book.MatchInterval,
	}
}

func (c *Config) MarketPairs() []market.Pair {
	out := make([]market.Pair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		out = append(out, market.Pair{ID: p.ID, Base: p.Base, Quote: p.Quote, Active: p.Active})
	}
	return out
}
