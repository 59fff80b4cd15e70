package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Server struct {
	Addr                  string        `env:"ADDR"                    envDefault:":8080"`
	OpenAIAPIKey          string        `env:"OPENAI_API_KEY"`
	OpenAIModel           string        `env:"OPENAI_MODEL"`
	OpenAIBaseURL         string        `env:"OPENAI_BASE_URL"`
	OpenAIFlexTier        bool          `env:"OPENAI_FLEX_TIER"        envDefault:"true"`
	OpenAITimeout         time.Duration `env:"OPENAI_TIMEOUT"          envDefault:"90s"`
	RateLimitWindow       time.Duration `env:"RATE_LIMIT_WINDOW"       envDefault:"1h"`
	RateLimitMax          int           `env:"RATE_LIMIT_MAX"          envDefault:"10"`
	PruneSpec             string        `env:"PRUNE_SPEC"              envDefault:"* * * * *"`
	FetchTimeout          time.Duration `env:"FETCH_TIMEOUT"           envDefault:"20s"`
	DomainRPS             float64       `env:"DOMAIN_RPS"              envDefault:"1"`
	TrustProxyHeaders     bool          `env:"TRUST_PROXY_HEADERS"     envDefault:"true"`
	AllowPrivateAddresses bool          `env:"ALLOW_PRIVATE_ADDRESSES" envDefault:"false"`
}

type Client struct {
	ServerURL       string        `env:"SERVER_URL"        envDefault:"http://localhost:8080"`
	StoreBackend    string        `env:"STORE_BACKEND"     envDefault:"sqlite"`
	DBPath          string        `env:"DB_PATH"           envDefault:"pagesum.sqlite"`
	RedisURL        string        `env:"REDIS_URL"         envDefault:"redis://localhost:6379/0"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1h"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX"    envDefault:"10"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"   envDefault:"2m"`
}

// LoadServer reads the server settings, applying a .env file first when one exists.
func LoadServer() (Server, error) {
	if err := loadDotEnv(); err != nil {
		return Server{}, err
	}

	cfg, err := env.ParseAs[Server]()
	if err != nil {
		return Server{}, fmt.Errorf("parse server config: %w", err)
	}

	if cfg.RateLimitWindow <= 0 || cfg.RateLimitMax < 0 {
		return Server{}, fmt.Errorf("invalid rate limit: window %s, max %d", cfg.RateLimitWindow, cfg.RateLimitMax)
	}

	return cfg, nil
}

func LoadClient() (Client, error) {
	if err := loadDotEnv(); err != nil {
		return Client{}, err
	}

	cfg, err := env.ParseAs[Client]()
	if err != nil {
		return Client{}, fmt.Errorf("parse client config: %w", err)
	}

	switch cfg.StoreBackend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return Client{}, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.RateLimitWindow <= 0 || cfg.RateLimitMax < 0 {
		return Client{}, fmt.Errorf("invalid rate limit: window %s, max %d", cfg.RateLimitWindow, cfg.RateLimitMax)
	}

	return cfg, nil
}

// loadDotEnv never overrides variables that are already set.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
