package endpoints

import (
	"time"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/store"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// DockerManager is set when the server runs a local Redis container.
	DockerManager *store.DockerManager
	// StatsTTL is how long a stats reply is reused (default 5s).
	StatsTTL time.Duration
	Now      func() time.Time
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{DockerManager: cfg.DockerManager},

		// Gateway and AI tools
		&GeminiEndpoint{},
		&ExtractEndpoint{},
		&FixEndpoint{},
		&TranslateEndpoint{},
		&SummarizeEndpoint{},

		// Admin endpoints
		&LoginEndpoint{},
		&UsersEndpoint{},
		&StatsEndpoint{TTL: cfg.StatsTTL, Now: cfg.Now},
		&UsageStatsEndpoint{},
		&UsageLogsEndpoint{},
		&ClearUsageLogsEndpoint{},
		&UsageSettingsEndpoint{},
		&QuotaEndpoint{},
		&UsageWatchEndpoint{},

		// Prompt endpoints
		&ListPromptsEndpoint{},
		&GetPromptEndpoint{},
	}
}
