package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/config"
	"github.com/jackzampolin/tabula/internal/home"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Long: `Write the default configuration to ~/.tabula/config.yaml, or to the
path given with --config.

Secrets are written as ${ENV_VAR} references and resolved at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		path := cfgFile
		if path == "" {
			path = h.ConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()
		if missing := cfg.MissingSecrets(); len(missing) > 0 {
			fmt.Fprintf(os.Stderr, "warning: unset secrets: %v\n", missing)
		}
		return api.Output(redacted(cfg))
	},
}

// redacted returns a copy of cfg with secret values masked.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	for _, s := range []*string{&out.Gemini.APIKey, &out.OpenAI.APIKey, &out.Store.Token, &out.Admin.Secret, &out.Admin.Password} {
		if *s != "" {
			*s = "********"
		}
	}
	return &out
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// getHome returns the home directory manager.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}
