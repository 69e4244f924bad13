package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "ATTENDANCE"
	defaultHTTPAddress     = "127.0.0.1:8710"
	defaultDatabasePath    = "attendance.db"
	defaultLogLevel        = "info"
	defaultRemoteTimeout   = 15 * time.Second
	defaultSyncInterval    = 5 * time.Minute
	defaultSyncBatchSize   = 50
	defaultBackoffBase     = 30 * time.Second
	defaultBackoffCeiling  = time.Hour
	defaultPullWindowDays  = 30
	defaultAutoPunchPeriod = time.Minute
)

// AppConfig captures runtime configuration for the attendance agent.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	RemoteBaseURL   string
	RemoteAuthToken string
	RemoteTimeout   time.Duration
	SyncInterval    time.Duration
	SyncBatchSize   int
	BackoffBase     time.Duration
	BackoffCeiling  time.Duration
	PullWindowDays  int
	AutoPunchPeriod time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("remote.timeout", defaultRemoteTimeout)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.batch_size", defaultSyncBatchSize)
	configViper.SetDefault("sync.backoff_base", defaultBackoffBase)
	configViper.SetDefault("sync.backoff_ceiling", defaultBackoffCeiling)
	configViper.SetDefault("sync.pull_window_days", defaultPullWindowDays)
	configViper.SetDefault("auto_punch.period", defaultAutoPunchPeriod)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		RemoteBaseURL:   configViper.GetString("remote.base_url"),
		RemoteAuthToken: configViper.GetString("remote.auth_token"),
		RemoteTimeout:   configViper.GetDuration("remote.timeout"),
		SyncInterval:    configViper.GetDuration("sync.interval"),
		SyncBatchSize:   configViper.GetInt("sync.batch_size"),
		BackoffBase:     configViper.GetDuration("sync.backoff_base"),
		BackoffCeiling:  configViper.GetDuration("sync.backoff_ceiling"),
		PullWindowDays:  configViper.GetInt("sync.pull_window_days"),
		AutoPunchPeriod: configViper.GetDuration("auto_punch.period"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if strings.TrimSpace(c.RemoteAuthToken) == "" {
		return fmt.Errorf("remote.auth_token is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	return nil
}
