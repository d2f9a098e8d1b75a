package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Vault     VaultConfig
	Provider  ProviderConfig
	RateLimit RateLimitConfig
	Tasks     TasksConfig
	Benefits  BenefitsConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsAuto bool
}

type JWTConfig struct {
	Secret string
}

type VaultConfig struct {
	// MasterKey is the secret the per-record AES key is derived from.
	// Any non-empty string; derivation happens in the vault package.
	MasterKey string
}

type ProviderConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type RateLimitConfig struct {
	SyncPerMinute int
	LinkPerMinute int
	RetryAfter    time.Duration
}

type TasksConfig struct {
	WorkerCount int
	QueueSize   int
}

type BenefitsConfig struct {
	WebhookURL string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

// Load reads configuration from the environment (BANKFEED_ prefix) with an
// optional config file pointed at by BANKFEED_CONFIG.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "bankfeed")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "bankfeed")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrationsauto", true)
	v.SetDefault("provider.baseurl", "https://production.plaid.com")
	v.SetDefault("provider.timeout", "60s")
	v.SetDefault("ratelimit.syncperminute", 6)
	v.SetDefault("ratelimit.linkperminute", 10)
	v.SetDefault("ratelimit.retryafter", "30s")
	v.SetDefault("tasks.workercount", 4)
	v.SetDefault("tasks.queuesize", 100)
	v.SetDefault("benefits.webhookurl", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.servicename", "bankfeed-api")
	v.SetDefault("telemetry.environment", "dev")
	v.SetDefault("telemetry.otlpendpoint", "localhost:4317")
	v.SetDefault("telemetry.metricsport", "9464")

	v.SetEnvPrefix("BANKFEED")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("BANKFEED_JWT_SECRET is required")
	}
	if cfg.Vault.MasterKey == "" {
		return nil, fmt.Errorf("BANKFEED_VAULT_MASTERKEY is required")
	}
	if cfg.Provider.ClientID == "" || cfg.Provider.ClientSecret == "" {
		return nil, fmt.Errorf("BANKFEED_PROVIDER_CLIENTID and BANKFEED_PROVIDER_CLIENTSECRET are required")
	}

	return &cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
