package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	BaseURL              string        `mapstructure:"BASE_URL"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant        string        `mapstructure:"DEFAULT_TENANT"`
	SearchParametersFile string        `mapstructure:"SEARCH_PARAMETERS_FILE"`
	TenantParametersDir  string        `mapstructure:"TENANT_PARAMETERS_DIR"`
	DefaultPageSize      int           `mapstructure:"DEFAULT_PAGE_SIZE"`
	MaxPageSize          int           `mapstructure:"MAX_PAGE_SIZE"`
	MaxIncludes          int           `mapstructure:"MAX_INCLUDES"`
	MaxChainDepth        int           `mapstructure:"MAX_CHAIN_DEPTH"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
	IndexCacheSize       int           `mapstructure:"INDEX_CACHE_SIZE"`
	RegistryCacheTTL     time.Duration `mapstructure:"REGISTRY_CACHE_TTL"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "BASE_URL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "SEARCH_PARAMETERS_FILE", "TENANT_PARAMETERS_DIR",
	"DEFAULT_PAGE_SIZE", "MAX_PAGE_SIZE", "MAX_INCLUDES", "MAX_CHAIN_DEPTH",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "INDEX_CACHE_SIZE", "REGISTRY_CACHE_TTL", "CORS_ORIGINS",
}

// Load reads the environment, falling back to a .env file in the working
// directory. An empty DATABASE_URL selects the in-memory store.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BASE_URL", "http://localhost:8000/fhir")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("DEFAULT_PAGE_SIZE", 10)
	v.SetDefault("MAX_PAGE_SIZE", 1000)
	v.SetDefault("MAX_INCLUDES", 1000)
	v.SetDefault("MAX_CHAIN_DEPTH", 8)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("INDEX_CACHE_SIZE", 65536)
	v.SetDefault("REGISTRY_CACHE_TTL", "1m")
	v.SetDefault("CORS_ORIGINS", "*")

	// Bind explicitly so Unmarshal sees variables without defaults.
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UsesDatabase reports whether resources live in PostgreSQL.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute URL, got %q", c.BaseURL)
	}
	if c.DefaultPageSize < 1 {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be at least 1, got %d", c.DefaultPageSize)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("MAX_PAGE_SIZE (%d) must not be below DEFAULT_PAGE_SIZE (%d)", c.MaxPageSize, c.DefaultPageSize)
	}
	if c.MaxIncludes < 1 {
		return fmt.Errorf("MAX_INCLUDES must be at least 1, got %d", c.MaxIncludes)
	}
	if c.MaxChainDepth < 1 {
		return fmt.Errorf("MAX_CHAIN_DEPTH must be at least 1, got %d", c.MaxChainDepth)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}
	if c.IndexCacheSize < 1 {
		return fmt.Errorf("INDEX_CACHE_SIZE must be at least 1, got %d", c.IndexCacheSize)
	}
	if c.RegistryCacheTTL <= 0 {
		return fmt.Errorf("REGISTRY_CACHE_TTL must be positive, got %s", c.RegistryCacheTTL)
	}
	if c.UsesDatabase() {
		if c.DBMaxConns < 1 {
			return fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns)
		}
		if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
		}
	}
	return nil
}
