package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pilab-dev/idsync/domain"
)

// Config holds all configuration for the sync service. It is built once at
// process start and passed explicitly into constructors; nothing reads the
// environment after startup.
// Tags use mapstructure for Viper unmarshalling.
type Config struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	// Identity directory surface.
	DirectoryBaseURL  string `mapstructure:"DIRECTORY_BASE_URL"`
	DirectoryAPIKey   string `mapstructure:"DIRECTORY_API_KEY"`
	DirectoryPageSize int    `mapstructure:"DIRECTORY_PAGE_SIZE"`

	// Profile table surface.
	ProfileBaseURL string `mapstructure:"PROFILE_BASE_URL"`
	ProfileAPIKey  string `mapstructure:"PROFILE_API_KEY"`

	// Timeouts, in seconds/minutes to keep env values simple.
	RemoteTimeoutSec int `mapstructure:"REMOTE_TIMEOUT_SEC"`
	BulkTimeoutMin   int `mapstructure:"BULK_TIMEOUT_MIN"`
	ListCacheTTLSec  int `mapstructure:"LIST_CACHE_TTL_SEC"`

	// Bulk run worker pool and shared rate limit.
	WorkerCount int     `mapstructure:"WORKER_COUNT"`
	RatePerSec  float64 `mapstructure:"RATE_PER_SEC"`

	// Role defaults.
	DefaultRoleName     string `mapstructure:"DEFAULT_ROLE_NAME"`
	DefaultAccountScope string `mapstructure:"DEFAULT_ACCOUNT_SCOPE"`

	// Event bridge queue capacity.
	EventQueueSize int `mapstructure:"EVENT_QUEUE_SIZE"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults, in that order of increasing precedence for env vars.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/idsync/")
	v.AddConfigPath("$HOME/.idsync")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/idsync_dev")
	v.SetDefault("MONGO_DB_NAME", "idsync_dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	// Credentials default empty so the keys are registered and env-only
	// values survive Unmarshal; Validate rejects the empties.
	v.SetDefault("DIRECTORY_BASE_URL", "")
	v.SetDefault("DIRECTORY_API_KEY", "")
	v.SetDefault("PROFILE_BASE_URL", "")
	v.SetDefault("PROFILE_API_KEY", "")
	v.SetDefault("DIRECTORY_PAGE_SIZE", 100)
	v.SetDefault("REMOTE_TIMEOUT_SEC", 5)
	v.SetDefault("BULK_TIMEOUT_MIN", 10)
	v.SetDefault("LIST_CACHE_TTL_SEC", 30)
	v.SetDefault("WORKER_COUNT", 8)
	v.SetDefault("RATE_PER_SEC", 20.0)
	v.SetDefault("DEFAULT_ROLE_NAME", domain.RoleMember)
	v.SetDefault("DEFAULT_ACCOUNT_SCOPE", "default")
	v.SetDefault("EVENT_QUEUE_SIZE", 256)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}

// Validate checks every required endpoint and credential before any remote
// call is made. Absence is a configuration error, never a per-call failure.
func (c *Config) Validate() error {
	missing := make([]string, 0, 4)
	if c.DirectoryBaseURL == "" {
		missing = append(missing, "DIRECTORY_BASE_URL")
	}
	if c.DirectoryAPIKey == "" {
		missing = append(missing, "DIRECTORY_API_KEY")
	}
	if c.ProfileBaseURL == "" {
		missing = append(missing, "PROFILE_BASE_URL")
	}
	if c.ProfileAPIKey == "" {
		missing = append(missing, "PROFILE_API_KEY")
	}
	if c.MongoURI == "" {
		missing = append(missing, "MONGO_URI")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfigurationMissing, strings.Join(missing, ", "))
	}
	return nil
}

// RemoteTimeout is the bounded timeout applied to each single remote call.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutSec) * time.Second
}

// BulkTimeout bounds one full bulk run.
func (c *Config) BulkTimeout() time.Duration {
	return time.Duration(c.BulkTimeoutMin) * time.Minute
}

// ListCacheTTL bounds how long a directory list snapshot may serve
// FindByEmail lookups.
func (c *Config) ListCacheTTL() time.Duration {
	return time.Duration(c.ListCacheTTLSec) * time.Second
}
