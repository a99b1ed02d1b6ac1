package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/tabula/internal/providers"
)

// envBindings maps config keys to the conventional environment variable
// names, checked after the TABULA_ prefixed form.
var envBindings = map[string][]string{
	"gemini.api_key":            {"GEMINI_API_KEY"},
	"gemini.model":              {"GEMINI_MODEL"},
	"gemini.fallback_models":    {"GEMINI_FALLBACK_MODELS"},
	"openai.api_key":            {"OPENAI_API_KEY"},
	"store.url":                 {"REDIS_URL", "UPSTASH_REDIS_REST_URL"},
	"store.token":               {"REDIS_TOKEN", "UPSTASH_REDIS_REST_TOKEN"},
	"gateway.user_minute_limit": {"USER_MINUTE_LIMIT"},
	"gateway.user_daily_limit":  {"USER_DAILY_LIMIT"},
	"gateway.team_daily_limit":  {"TEAM_DAILY_LIMIT"},
	"gateway.max_inline_bytes":  {"MAX_INLINE_BYTES"},
	"usage.alert_threshold":     {"ALERT_THRESHOLD"},
	"usage.alert_cooldown":      {"ALERT_COOLDOWN"},
	"admin.secret":              {"ADMIN_SECRET"},
	"admin.password":            {"ADMIN_PASSWORD"},
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults, environment and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	setDefaults(v, DefaultConfig())

	// Environment variables with TABULA_ prefix, e.g. TABULA_GATEWAY_ALLOW_LIST
	v.SetEnvPrefix("TABULA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		prefixed := "TABULA_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tabula")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("gemini.api_key", d.Gemini.APIKey)
	v.SetDefault("gemini.model", d.Gemini.Model)
	v.SetDefault("gemini.fallback_models", d.Gemini.FallbackModels)
	v.SetDefault("gemini.base_url", d.Gemini.BaseURL)
	v.SetDefault("gemini.rpm", d.Gemini.RPM)

	v.SetDefault("openai.api_key", d.OpenAI.APIKey)
	v.SetDefault("openai.base_url", d.OpenAI.BaseURL)
	v.SetDefault("openai.rpm", d.OpenAI.RPM)

	v.SetDefault("store.url", d.Store.URL)
	v.SetDefault("store.token", d.Store.Token)
	v.SetDefault("store.docker.container_name", d.Store.Docker.ContainerName)
	v.SetDefault("store.docker.image", d.Store.Docker.Image)
	v.SetDefault("store.docker.port", d.Store.Docker.Port)

	v.SetDefault("gateway.allow_list", d.Gateway.AllowList)
	v.SetDefault("gateway.max_inline_bytes", d.Gateway.MaxInlineBytes)
	v.SetDefault("gateway.max_retries", d.Gateway.MaxRetries)
	v.SetDefault("gateway.user_minute_limit", d.Gateway.UserMinute)
	v.SetDefault("gateway.user_daily_limit", d.Gateway.UserDaily)
	v.SetDefault("gateway.team_daily_limit", d.Gateway.TeamDaily)

	v.SetDefault("usage.capacity", d.Usage.Capacity)
	v.SetDefault("usage.rpm_limit", d.Usage.RPMLimit)
	v.SetDefault("usage.daily_limit", d.Usage.DailyLimit)
	v.SetDefault("usage.alert_threshold", d.Usage.AlertThreshold)
	v.SetDefault("usage.alert_cooldown", d.Usage.AlertCooldown)
	v.SetDefault("usage.alert_email", d.Usage.AlertEmail)
	v.SetDefault("usage.db_path", d.Usage.DBPath)
	v.SetDefault("usage.retention_days", d.Usage.RetentionDays)
	v.SetDefault("usage.retention_schedule", d.Usage.RetentionSchedule)

	v.SetDefault("admin.secret", d.Admin.Secret)
	v.SetDefault("admin.username", d.Admin.Username)
	v.SetDefault("admin.password", d.Admin.Password)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("prompts", []PromptOverride{})
}

// load parses the current viper state into a Config struct, expanding
// ${ENV_VAR} references in secrets.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() {
	c.Gemini.APIKey = ResolveEnvVars(c.Gemini.APIKey)
	c.OpenAI.APIKey = ResolveEnvVars(c.OpenAI.APIKey)
	c.Store.URL = ResolveEnvVars(c.Store.URL)
	c.Store.Token = ResolveEnvVars(c.Store.Token)
	c.Admin.Secret = ResolveEnvVars(c.Admin.Secret)
	c.Admin.Password = ResolveEnvVars(c.Admin.Password)
	c.Usage.AlertEmail = ResolveEnvVars(c.Usage.AlertEmail)
	// Environment values arrive comma-separated and unpadded.
	c.Gemini.FallbackModels = providers.SplitModelList(strings.Join(c.Gemini.FallbackModels, ","))
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.UserMinute <= 0 || c.Gateway.UserDaily <= 0 || c.Gateway.TeamDaily <= 0 {
		errs = append(errs, errors.New("quota limits must be positive"))
	}
	if c.Gateway.MaxInlineBytes < 0 {
		errs = append(errs, errors.New("gateway.max_inline_bytes must not be negative"))
	}
	if c.Usage.AlertThreshold <= 0 || c.Usage.AlertThreshold > 100 {
		errs = append(errs, fmt.Errorf("usage.alert_threshold must be in (0, 100], got %v", c.Usage.AlertThreshold))
	}
	return errors.Join(errs...)
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. An edit that fails
// to load or validate keeps the previous configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			slog.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ProviderRegistryConfig converts the config to a providers.RegistryConfig.
func (c *Config) ProviderRegistryConfig() providers.RegistryConfig {
	return providers.RegistryConfig{
		GeminiAPIKey:  ResolveEnvVars(c.Gemini.APIKey),
		GeminiBaseURL: c.Gemini.BaseURL,
		GeminiRPM:     c.Gemini.RPM,
		OpenAIAPIKey:  ResolveEnvVars(c.OpenAI.APIKey),
		OpenAIBaseURL: c.OpenAI.BaseURL,
		OpenAIRPM:     c.OpenAI.RPM,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Tabula configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export GEMINI_API_KEY=xxx REDIS_URL=rediss://... ADMIN_SECRET=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
