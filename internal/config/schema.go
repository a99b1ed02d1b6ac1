package config

import (
	"strings"
	"time"

	"github.com/jackzampolin/tabula/internal/gatekeeper"
	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/telemetry"
)

// Config holds tabula configuration.
// Stored at: ./config.yaml or ~/.tabula/config.yaml
type Config struct {
	Gemini  GeminiCfg        `mapstructure:"gemini" yaml:"gemini"`
	OpenAI  OpenAICfg        `mapstructure:"openai" yaml:"openai"`
	Store   StoreCfg         `mapstructure:"store" yaml:"store"`
	Gateway GatewayCfg       `mapstructure:"gateway" yaml:"gateway"`
	Usage   UsageCfg         `mapstructure:"usage" yaml:"usage"`
	Admin   AdminCfg         `mapstructure:"admin" yaml:"admin"`
	Server  ServerCfg        `mapstructure:"server" yaml:"server"`
	Prompts []PromptOverride `mapstructure:"prompts" yaml:"prompts"`
}

// PromptOverride replaces the embedded template registered under Key.
// Keys contain dots, so overrides are a list rather than a map.
type PromptOverride struct {
	Key  string `mapstructure:"key" yaml:"key"`
	Text string `mapstructure:"text" yaml:"text"`
}

// GeminiCfg configures the primary upstream.
type GeminiCfg struct {
	APIKey         string   `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR}
	Model          string   `mapstructure:"model" yaml:"model"`
	FallbackModels []string `mapstructure:"fallback_models" yaml:"fallback_models"`
	BaseURL        string   `mapstructure:"base_url" yaml:"base_url,omitempty"`
	RPM            int      `mapstructure:"rpm" yaml:"rpm"` // outbound ceiling per model; 0 disables
}

// OpenAICfg configures the optional "openai/" candidates.
type OpenAICfg struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	RPM     int    `mapstructure:"rpm" yaml:"rpm"`
}

// StoreCfg points at the Redis store. Empty URL means in-memory.
type StoreCfg struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Token string `mapstructure:"token" yaml:"token"`
	// Docker runs a local Redis container for `serve --docker-redis`.
	Docker DockerCfg `mapstructure:"docker" yaml:"docker"`
}

// DockerCfg holds local Redis container configuration.
type DockerCfg struct {
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Image         string `mapstructure:"image" yaml:"image"`
	Port          string `mapstructure:"port" yaml:"port"`
}

// GatewayCfg configures admission and quotas.
type GatewayCfg struct {
	AllowList      bool  `mapstructure:"allow_list" yaml:"allow_list"`
	MaxInlineBytes int   `mapstructure:"max_inline_bytes" yaml:"max_inline_bytes"`
	MaxRetries     int   `mapstructure:"max_retries" yaml:"max_retries"`
	UserMinute     int64 `mapstructure:"user_minute_limit" yaml:"user_minute_limit"`
	UserDaily      int64 `mapstructure:"user_daily_limit" yaml:"user_daily_limit"`
	TeamDaily      int64 `mapstructure:"team_daily_limit" yaml:"team_daily_limit"`
}

// UsageCfg configures usage telemetry.
type UsageCfg struct {
	Capacity          int     `mapstructure:"capacity" yaml:"capacity"`
	RPMLimit          int     `mapstructure:"rpm_limit" yaml:"rpm_limit"`
	DailyLimit        int     `mapstructure:"daily_limit" yaml:"daily_limit"`
	AlertThreshold    float64 `mapstructure:"alert_threshold" yaml:"alert_threshold"` // percent of RPM
	AlertCooldown     string  `mapstructure:"alert_cooldown" yaml:"alert_cooldown"`
	AlertEmail        string  `mapstructure:"alert_email" yaml:"alert_email"`
	DBPath            string  `mapstructure:"db_path" yaml:"db_path"` // empty disables persistence
	RetentionDays     int     `mapstructure:"retention_days" yaml:"retention_days"`
	RetentionSchedule string  `mapstructure:"retention_schedule" yaml:"retention_schedule"`
}

// AdminCfg configures admin authentication. An empty secret leaves admin
// endpoints open.
type AdminCfg struct {
	Secret   string `mapstructure:"secret" yaml:"secret"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host        string   `mapstructure:"host" yaml:"host"`
	Port        string   `mapstructure:"port" yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	limits := gatekeeper.DefaultLimits()
	return &Config{
		Gemini: GeminiCfg{
			APIKey:         "${GEMINI_API_KEY}",
			Model:          providers.DefaultModel,
			FallbackModels: []string{"gemini-2.5-flash"},
		},
		OpenAI: OpenAICfg{
			APIKey: "${OPENAI_API_KEY}",
		},
		Store: StoreCfg{
			Docker: DockerCfg{
				ContainerName: "tabula-redis",
				Image:         "redis:7-alpine",
				Port:          "6379",
			},
		},
		Gateway: GatewayCfg{
			AllowList:      true,
			MaxInlineBytes: gatekeeper.DefaultMaxInlineBytes,
			MaxRetries:     providers.DefaultMaxRetries,
			UserMinute:     limits.UserMinute,
			UserDaily:      limits.UserDaily,
			TeamDaily:      limits.TeamDaily,
		},
		Usage: UsageCfg{
			Capacity:          telemetry.DefaultCapacity,
			RPMLimit:          telemetry.DefaultRPMLimit,
			DailyLimit:        telemetry.DefaultDailyLimit,
			AlertThreshold:    telemetry.DefaultThreshold,
			AlertCooldown:     telemetry.DefaultCooldown.String(),
			DBPath:            "",
			RetentionDays:     30,
			RetentionSchedule: telemetry.DefaultRetentionSchedule,
		},
		Admin: AdminCfg{
			Secret:   "${ADMIN_SECRET}",
			Username: "admin",
			Password: "${ADMIN_PASSWORD}",
		},
		Server: ServerCfg{
			Host:        "127.0.0.1",
			Port:        "8080",
			CORSOrigins: []string{"*"},
		},
	}
}

// PromptOverrides returns the overrides keyed by prompt key.
func (c *Config) PromptOverrides() map[string]string {
	out := make(map[string]string, len(c.Prompts))
	for _, p := range c.Prompts {
		out[p.Key] = p.Text
	}
	return out
}

// Limits returns the gateway quota ceilings.
func (c *Config) Limits() gatekeeper.Limits {
	return gatekeeper.Limits{
		UserMinute: c.Gateway.UserMinute,
		UserDaily:  c.Gateway.UserDaily,
		TeamDaily:  c.Gateway.TeamDaily,
	}
}

// Cooldown parses the alert cooldown, falling back to the default.
func (u UsageCfg) Cooldown() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(u.AlertCooldown))
	if err != nil || d <= 0 {
		return telemetry.DefaultCooldown
	}
	return d
}

// RetentionAge is how long persisted usage entries are kept.
func (u UsageCfg) RetentionAge() time.Duration {
	if u.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(u.RetentionDays) * 24 * time.Hour
}

// MissingSecrets names the required secrets that are unset. The Gemini key
// is always required; the store URL only when the allow-list is enforced.
func (c *Config) MissingSecrets() []string {
	var missing []string
	if ResolveEnvVars(c.Gemini.APIKey) == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.Gateway.AllowList && ResolveEnvVars(c.Store.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	return missing
}
