package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/config"
	"github.com/jackzampolin/tabula/internal/home"
	"github.com/jackzampolin/tabula/internal/server"
)

var (
	serveHost   string
	servePort   string
	dockerRedis bool
	logLevel    string
	logFormat   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Tabula server",
	Long: `Start the Tabula HTTP server.

The store is the Redis instance at store.url (REDIS_URL). Without one the
server keeps quotas, locks and the allow-list in memory. With --docker-redis
a local Redis container is started with the server and stopped with it.

The config file is watched: model, quota, prompt and alert changes apply
without a restart.

The server provides:
  - /health     - Basic server health check
  - /ready      - Readiness check (includes store status)
  - /api/gemini - The gateway

Examples:
  tabula serve                          # Start on default port 8080
  tabula serve --port 3000              # Start on custom port
  tabula serve --host 0.0.0.0           # Bind to all interfaces
  tabula serve --docker-redis           # Run a local Redis container`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger(logLevel, logFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		if used := cfgMgr.ConfigFileUsed(); used != "" {
			logger.Info("loaded config", "file", used)
			cfgMgr.WatchConfig()
		}

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			ConfigManager: cfgMgr,
			Home:          h,
			DockerRedis:   dockerRedis,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: use text or json", format)
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default: server.port)")
	serveCmd.Flags().BoolVar(&dockerRedis, "docker-redis", false, "Run a local Redis container as the store")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	serveCmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(serveCmd)
}
