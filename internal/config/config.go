package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sethvargo/go-envconfig"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Environment string `toml:"environment"`
	Host        string
	Port        int
	MetricsHost string `toml:"metrics_host"`
	MetricsPort int    `toml:"metrics_port"`
	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	// log file rotation, ignored when logs_path is empty
	LogMaxSizeMB  int  `toml:"log_max_size_mb"`
	LogMaxBackups int  `toml:"log_max_backups"`
	LogMaxAgeDays int  `toml:"log_max_age_days"`
	LogCompress   bool `toml:"log_compress"`
	// storage
	Storage        string `toml:"storage"`
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresUser   string `toml:"postgres_user"`
	PostgresDBName string `toml:"postgres_db_name"`
	RedisHost      string `toml:"redis_host"`
	RedisPort      string `toml:"redis_port"`
	// analytics
	DefaultTimezone    string `toml:"default_timezone"`
	AnalysisWindowDays int    `toml:"analysis_window_days"`
	// export
	ExportCacheSizeMB     int `toml:"export_cache_size_mb"`
	ExportCacheTTLSeconds int `toml:"export_cache_ttl_seconds"`
	// http
	AllowedOrigins        []string `toml:"allowed_origins"`
	LoginRateLimitPerMin  int      `toml:"login_rate_limit_per_min"`
	ExportRateLimitPerMin int      `toml:"export_rate_limit_per_min"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

// Load reads the TOML file at path and returns the section for env,
// with defaults applied.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return fromToml(&t, env)
}

// Parse is Load for an in-memory TOML document.
func Parse(env, data string) (*Config, error) {
	var t Toml
	if _, err := toml.Decode(data, &t); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return fromToml(&t, env)
}

func fromToml(t *Toml, env string) (*Config, error) {
	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config section for env [%s] missing", env)
	}
	if cfg.Environment == "" {
		cfg.Environment = strings.ToLower(env)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 2112
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 50
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 10
	}
	if c.Storage == "" {
		c.Storage = StoragePostgres
	}
	if c.PostgresUser == "" {
		c.PostgresUser = "postgres"
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = "UTC"
	}
	if c.AnalysisWindowDays == 0 {
		c.AnalysisWindowDays = 90
	}
	if c.ExportCacheSizeMB == 0 {
		c.ExportCacheSizeMB = 16
	}
	if c.ExportCacheTTLSeconds == 0 {
		c.ExportCacheTTLSeconds = 900
	}
	if c.LoginRateLimitPerMin == 0 {
		c.LoginRateLimitPerMin = 10
	}
	if c.ExportRateLimitPerMin == 0 {
		c.ExportRateLimitPerMin = 20
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Storage != StoragePostgres && c.Storage != StorageMemory {
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}
	if c.Storage == StoragePostgres && (c.PostgresHost == "" || c.PostgresDBName == "") {
		errs = append(errs, errors.New("postgres storage needs postgres_host and postgres_db_name"))
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("default_timezone: %w", err))
	}
	if c.AnalysisWindowDays < 14 {
		errs = append(errs, fmt.Errorf("analysis_window_days must be at least 14, got %d", c.AnalysisWindowDays))
	}
	if c.LogMaxSizeMB < 0 || c.LogMaxBackups < 0 || c.LogMaxAgeDays < 0 {
		errs = append(errs, errors.New("log_max_size_mb, log_max_backups and log_max_age_days must not be negative"))
	}
	if c.Port == c.MetricsPort {
		errs = append(errs, errors.New("port and metrics_port must differ"))
	}
	return errors.Join(errs...)
}

// Secrets are never kept in the config file.
type Secrets struct {
	PostgresPassword string `env:"REPCOUNT_DB_PASS"`
	RedisPassword    string `env:"REPCOUNT_REDIS_PASS"`
	SentryDSN        string `env:"SENTRY_DSN"`
	HoneycombEnabled bool   `env:"HONEYCOMB_ENABLED, default=false"`
	HoneycombAPIKey  string `env:"HONEYCOMB_API_KEY"`
	OtelServiceName  string `env:"OTEL_SERVICE_NAME, default=repcount"`
	// seeds a "dev" user when storage is memory
	DevPassword string `env:"REPCOUNT_DEV_PASS"`
}

func LoadSecrets(ctx context.Context) (*Secrets, error) {
	return LoadSecretsWith(ctx, envconfig.OsLookuper())
}

func LoadSecretsWith(ctx context.Context, lookuper envconfig.Lookuper) (*Secrets, error) {
	var s Secrets
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &s,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("process env secrets: %w", err)
	}
	return &s, nil
}
