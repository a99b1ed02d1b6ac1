package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	adminToken   string
)

var rootCmd = &cobra.Command{
	Use:   "tabula",
	Short: "Menu digitization gateway with Gemini-powered table extraction",
	Long: `Tabula turns photographed menus, PDFs and spreadsheets into clean
menu tables through a quota-enforcing gateway in front of Gemini.

It includes:
  - A gateway with allow-list, per-user lock, quotas and response cache
  - OCR extraction into the AI Sheet or Manual Sheet layout
  - Fix, translate and summarize tools
  - Usage telemetry with alerting and SQLite persistence
  - Local workbook cleaning and duplicate detection`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.tabula/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "tabula home directory (default: ~/.tabula)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or csv (table results only)",
	)
	rootCmd.PersistentFlags().StringVar(
		&adminToken, "token", "", "admin token for protected endpoints (default: $"+api.TokenEnv+")",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := api.SetOutputFormat(outputFormat); err != nil {
			return err
		}
		if adminToken != "" {
			os.Setenv(api.TokenEnv, adminToken)
		}
		return nil
	}

	rootCmd.AddCommand(versionCmd)
}
