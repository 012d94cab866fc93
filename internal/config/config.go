package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/raaihank/logsort/internal/classifier"
)

// EnvPrefix is the prefix for environment variable overrides, e.g. LOGSORT_SERVER_PORT
const EnvPrefix = "LOGSORT"

// Loader reads configuration from file and environment and can watch for changes
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. An empty configPath searches the default locations.
func NewLoader(configPath string) *Loader {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/logsort/")
	v.AddConfigPath("$HOME/.logsort/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	registerDefaults(v, GetDefaults())

	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads, unmarshals and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.decode()
}

// ConfigFileUsed returns the path of the file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with each valid reloaded configuration and onError
// when a reload is rejected. The previous configuration stays in effect on error.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload of %s rejected: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	cfg := GetDefaults()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// registerDefaults makes scalar keys known to viper so env overrides apply
// even when the key is absent from the config file.
func registerDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.cors.enabled", d.Server.CORS.Enabled)
	v.SetDefault("classifier.unclassified_label", d.Classifier.UnclassifiedLabel)
	v.SetDefault("batch.batch_size", d.Batch.BatchSize)
	v.SetDefault("batch.worker_count", d.Batch.WorkerCount)
	v.SetDefault("upload.max_file_size", d.Upload.MaxFileSize)
	v.SetDefault("upload.rate_limit.enabled", d.Upload.RateLimit.Enabled)
	v.SetDefault("upload.rate_limit.requests_per_min", d.Upload.RateLimit.RequestsPerMin)
	v.SetDefault("upload.rate_limit.burst", d.Upload.RateLimit.Burst)
	v.SetDefault("upload.rate_limit.idle_timeout", d.Upload.RateLimit.IdleTimeout)
	v.SetDefault("upload.rate_limit.cleanup_interval", d.Upload.RateLimit.CleanupInterval)
	v.SetDefault("output.path", d.Output.Path)
	v.SetDefault("jobs.backend", d.Jobs.Backend)
	v.SetDefault("jobs.ttl", d.Jobs.TTL)
	v.SetDefault("jobs.max_jobs", d.Jobs.MaxJobs)
	v.SetDefault("jobs.redis_url", d.Jobs.RedisURL)
	v.SetDefault("jobs.key_prefix", d.Jobs.KeyPrefix)
	v.SetDefault("database.enabled", d.Database.Enabled)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("websocket.enabled", d.WebSocket.Enabled)
	v.SetDefault("websocket.username", d.WebSocket.Username)
	v.SetDefault("websocket.password", d.WebSocket.Password)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Batch.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", config.Batch.BatchSize)
	}

	if config.Batch.WorkerCount <= 0 {
		return fmt.Errorf("invalid worker count: %d", config.Batch.WorkerCount)
	}

	if config.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("invalid max file size: %d", config.Upload.MaxFileSize)
	}

	for _, proxy := range config.Upload.RateLimit.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid trusted proxy: %s (must be an IP or CIDR)", proxy)
		}
	}

	if strings.TrimSpace(config.Classifier.UnclassifiedLabel) == "" {
		return fmt.Errorf("unclassified_label must not be empty")
	}

	rules := config.Classifier.RuleTable()
	if _, err := classifier.NewRuleSet(rules); err != nil {
		return fmt.Errorf("invalid classifier rules: %w", err)
	}

	// unmatched records carry unclassified_label, so no rule may produce it
	for i, rule := range rules {
		if strings.TrimSpace(rule.Label) == strings.TrimSpace(config.Classifier.UnclassifiedLabel) {
			return fmt.Errorf("invalid classifier rules: %w", &classifier.ConfigurationError{
				Index:   i,
				Pattern: rule.Pattern,
				Err:     fmt.Errorf("label %q is reserved for unmatched records", rule.Label),
			})
		}
	}

	if config.Jobs.Backend != "memory" && config.Jobs.Backend != "redis" {
		return fmt.Errorf("invalid jobs backend: %s (must be memory or redis)", config.Jobs.Backend)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}
