package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tabula/internal/api"
	"github.com/jackzampolin/tabula/internal/normalize"
	"github.com/jackzampolin/tabula/internal/sheet"
)

// Local commands work on files without a running server.

var sheetCmd = &cobra.Command{
	Use:   "sheet",
	Short: "Clean and deduplicate workbooks locally",
}

var sheetOut string

var sheetCleanCmd = &cobra.Command{
	Use:   "clean <workbook.xlsx>",
	Short: "Trim whitespace and strip stray symbols from every cell",
	Long: `Clean every sheet of a workbook. Changed cells are highlighted in
the output workbook.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		out, changed, err := sheet.Clean(data)
		if err != nil {
			return fmt.Errorf("failed to clean %s: %w", args[0], err)
		}
		path, err := writeExport(sheetOut, args[0], "cleaned", out)
		if err != nil {
			return err
		}
		fmt.Printf("Cleaned %d cells, wrote %s\n", changed, path)
		return nil
	},
}

var (
	dedupeCriteria string
	dedupeMode     string
)

var sheetDedupeCmd = &cobra.Command{
	Use:   "dedupe <workbook.xlsx>",
	Short: "Highlight or remove duplicate rows",
	Long: `Find duplicate rows in the first sheet of a workbook.

Criteria:
  row    rows identical cell for cell
  smart  rows with the same name, variation and price

Examples:
  tabula sheet dedupe menu.xlsx
  tabula sheet dedupe menu.xlsx --criteria smart --mode remove`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria, err := sheet.ParseCriteria(dedupeCriteria)
		if err != nil {
			return err
		}
		mode, err := sheet.ParseDuplicateMode(dedupeMode)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		out, dups, err := sheet.Dedupe(data, criteria, mode)
		if err != nil {
			return fmt.Errorf("failed to dedupe %s: %w", args[0], err)
		}
		path, err := writeExport(sheetOut, args[0], "deduped", out)
		if err != nil {
			return err
		}
		fmt.Printf("Found %d duplicate rows (%s), wrote %s\n", dups, mode, path)
		return nil
	},
}

var (
	normalizeMode string
	normalizeXLSX string
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [file]",
	Short: "Normalize a raw model table into the sheet layout",
	Long: `Read a raw model reply (a JSON array of rows, optionally wrapped in a
code fence) from a file or stdin and print the normalized table.

Examples:
  tabula normalize reply.json
  cat reply.json | tabula normalize --mode manual --xlsx menu.xlsx`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := normalize.ParseMode(normalizeMode)
		if err != nil {
			return err
		}
		var data []byte
		if len(args) == 0 || args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return err
		}

		raw, err := normalize.DecodeTable(string(data))
		if err != nil {
			return err
		}
		table := normalize.Normalize(raw, mode)

		if normalizeXLSX == "" {
			return api.Output(table)
		}
		out, err := sheet.WriteTable(table, "Menu")
		if err != nil {
			return err
		}
		if err := os.WriteFile(normalizeXLSX, out, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", normalizeXLSX, err)
		}
		fmt.Printf("Wrote %d rows to %s\n", len(table), normalizeXLSX)
		return nil
	},
}

// writeExport writes data to out, or to <home>/exports/<input>-<suffix>.xlsx
// when out is empty.
func writeExport(out, input, suffix string, data []byte) (string, error) {
	if out == "" {
		h, err := getHome()
		if err != nil {
			return "", err
		}
		if err := h.EnsureExportsDir(); err != nil {
			return "", err
		}
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		out = filepath.Join(h.ExportsDir(), fmt.Sprintf("%s-%s.xlsx", base, suffix))
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", out, err)
	}
	return out, nil
}

func init() {
	sheetCmd.PersistentFlags().StringVar(&sheetOut, "out", "", "Output workbook (default: ~/.tabula/exports/<name>-<op>.xlsx)")
	sheetDedupeCmd.Flags().StringVar(&dedupeCriteria, "criteria", "row", "Duplicate criteria: row or smart")
	sheetDedupeCmd.Flags().StringVar(&dedupeMode, "mode", "highlight", "highlight or remove")
	sheetCmd.AddCommand(sheetCleanCmd)
	sheetCmd.AddCommand(sheetDedupeCmd)

	normalizeCmd.Flags().StringVar(&normalizeMode, "mode", "ai", "Sheet layout: ai or manual")
	normalizeCmd.Flags().StringVar(&normalizeXLSX, "xlsx", "", "Write an XLSX workbook instead of printing")

	rootCmd.AddCommand(sheetCmd)
	rootCmd.AddCommand(normalizeCmd)
}
