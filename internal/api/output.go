package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatCSV prints menu tables as CSV rows. Only values that
	// implement Tabular can be written this way.
	OutputFormatCSV OutputFormat = "csv"
)

// DefaultOutput is the default output format.
var DefaultOutput OutputFormat = OutputFormatYAML

// globalOutputFormat is set by the root command's --output flag.
var globalOutputFormat OutputFormat = OutputFormatYAML

// Tabular is implemented by responses that carry a menu table.
type Tabular interface {
	TableRows() [][]string
}

// ParseOutputFormat validates an --output value. Empty selects DefaultOutput.
func ParseOutputFormat(format string) (OutputFormat, error) {
	switch OutputFormat(format) {
	case "":
		return DefaultOutput, nil
	case OutputFormatYAML, OutputFormatJSON, OutputFormatCSV:
		return OutputFormat(format), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want yaml, json or csv)", format)
	}
}

// SetOutputFormat sets the global output format.
func SetOutputFormat(format string) error {
	f, err := ParseOutputFormat(format)
	if err != nil {
		return err
	}
	globalOutputFormat = f
	return nil
}

// GetOutputFormat returns the current global output format.
func GetOutputFormat() OutputFormat {
	return globalOutputFormat
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	return OutputTo(os.Stdout, globalOutputFormat, data)
}

// OutputTo writes data to the given writer in the specified format.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	case OutputFormatCSV:
		t, ok := data.(Tabular)
		if !ok {
			return fmt.Errorf("csv output is only available for table results, got %T", data)
		}
		cw := csv.NewWriter(w)
		if err := cw.WriteAll(t.TableRows()); err != nil {
			return fmt.Errorf("failed to write csv: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
