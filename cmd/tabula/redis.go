package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/config"
	"github.com/jackzampolin/tabula/internal/store"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Manage the local Redis container",
	Long: `Manage the local Redis container used by 'tabula serve --docker-redis'.

Data is persisted to ~/.tabula/data/redis/.

Examples:
  tabula redis start   # Start the Redis container
  tabula redis stop    # Stop the container (data preserved)
  tabula redis status  # Check container status
  tabula redis logs    # View container logs`,
}

var redisStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Redis container",
	Long: `Start the Redis container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting Redis...")
		if err := mgr.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start Redis: %w", err)
		}
		fmt.Printf("Redis is running at %s\n", mgr.URL())
		fmt.Printf("Use it with: export REDIS_URL=%s\n", mgr.URL())
		return nil
	},
}

var redisStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Redis container",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping Redis...")
		if err := mgr.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("failed to stop Redis: %w", err)
		}
		fmt.Println("Redis stopped")
		return nil
	},
}

var redisStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Redis container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case store.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())
			if err := mgr.WaitReady(ctx, 2*time.Second); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case store.StatusStopped:
			fmt.Printf("Status: %s (use 'tabula redis start' to start)\n", status)
		case store.StatusNotFound:
			fmt.Printf("Status: %s (use 'tabula redis start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}
		return nil
	},
}

var logsTail string

var redisLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show Redis container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(cmd.Context(), logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}
		fmt.Print(logs)
		return nil
	},
}

var redisRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the Redis container",
	Long: `Remove the Redis container.

Data in ~/.tabula/data/redis/ is NOT deleted, only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing Redis container...")
		if err := mgr.Remove(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}
		fmt.Println("Redis container removed (data preserved)")
		return nil
	},
}

var redisWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for Redis to be ready",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		fmt.Printf("Waiting for Redis (timeout: %s)...\n", timeout)
		if err := mgr.WaitReady(cmd.Context(), timeout); err != nil {
			return fmt.Errorf("Redis not ready: %w", err)
		}
		fmt.Println("Redis is ready")
		return nil
	},
}

func init() {
	redisCmd.AddCommand(redisStartCmd)
	redisCmd.AddCommand(redisStopCmd)
	redisCmd.AddCommand(redisStatusCmd)
	redisCmd.AddCommand(redisLogsCmd)
	redisCmd.AddCommand(redisRemoveCmd)
	redisCmd.AddCommand(redisWaitCmd)

	redisLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")
	redisWaitCmd.Flags().Duration("timeout", 30*time.Second, "Timeout waiting for Redis")

	rootCmd.AddCommand(redisCmd)
}

// getDockerManager creates a DockerManager from the configured container
// settings, bind-mounting the home Redis directory.
func getDockerManager() (*store.DockerManager, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	cfgMgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureRedisDataPath(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	d := cfgMgr.Get().Store.Docker
	return store.NewDockerManager(store.DockerConfig{
		ContainerName: d.ContainerName,
		Image:         d.Image,
		HostPort:      d.Port,
		DataPath:      h.RedisDataPath(),
	})
}
