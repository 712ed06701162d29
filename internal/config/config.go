package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	DB      DBConfig      `mapstructure:"db"`
	Storage StorageConfig `mapstructure:"storage"`
	Search  SearchConfig  `mapstructure:"search"`
	Log     LogConfig     `mapstructure:"log"`
}

type HTTPConfig struct {
	Port string `mapstructure:"port"`
}

type DBConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	PoolSize int    `mapstructure:"poolsize"`
	// Migrate applies the versioned schema migrations at startup instead of
	// the idempotent bootstrap statements.
	Migrate bool `mapstructure:"migrate"`
}

type StorageConfig struct {
	// Distributed stores each index in its own relation instead of a
	// partition of the shared data relation.
	Distributed bool `mapstructure:"distributed"`
}

type SearchConfig struct {
	Workers         int    `mapstructure:"workers"`
	TempPrefix      string `mapstructure:"tempprefix"`
	MappingCacheLen int    `mapstructure:"mappingcache"`
	// RateLimit caps search requests per second. Zero disables the limit.
	RateLimit float64 `mapstructure:"ratelimit"`
	Burst     int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	// libpq-style variables are honoured as defaults for older deployments.
	v.SetDefault("http.port", getEnv("PORT", "3000"))
	v.SetDefault("db.url", os.Getenv("DATABASE_URL"))
	v.SetDefault("db.host", getEnv("PGHOST", "localhost"))
	v.SetDefault("db.port", getEnv("PGPORT", "5432"))
	v.SetDefault("db.user", getEnv("PGUSER", "postgres"))
	v.SetDefault("db.password", os.Getenv("PGPASSWORD"))
	v.SetDefault("db.name", getEnv("PGDATABASE", "postgres"))
	v.SetDefault("db.sslmode", getEnv("PGSSLMODE", "disable"))
	v.SetDefault("db.poolsize", 10)
	v.SetDefault("db.migrate", false)
	v.SetDefault("storage.distributed", false)
	v.SetDefault("search.workers", 32)
	v.SetDefault("search.tempprefix", "espg_tmp")
	v.SetDefault("search.mappingcache", 1024)
	v.SetDefault("search.ratelimit", 0)
	v.SetDefault("search.burst", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads an optional .env file and then every environment variable
// carrying prefix. ESPG_DB_HOST becomes db.host.
func Load(prefix string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || !strings.HasPrefix(key, prefixUpper) {
			continue
		}
		propKey := strings.TrimPrefix(key, prefixUpper)
		propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
		propKey = strings.TrimPrefix(propKey, ".")
		v.Set(propKey, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// ConnString builds the pgxpool connection string.
func (c *Config) ConnString() string {
	if c.DB.URL != "" {
		return c.DB.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode, c.DB.PoolSize)
}

// MigrationURL is the postgres:// URL the migration runner connects with.
func (c *Config) MigrationURL() string {
	if strings.HasPrefix(c.DB.URL, "postgres://") || strings.HasPrefix(c.DB.URL, "postgresql://") {
		return c.DB.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     net.JoinHostPort(c.DB.Host, c.DB.Port),
		Path:     "/" + c.DB.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.DB.SSLMode),
	}
	return u.String()
}
