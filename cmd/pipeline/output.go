package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-gota/gota/dataframe"

	"field-weather-pipeline/internal/services"
)

// Output file names inside the output directory.
const (
	fieldFile      = "field_data.csv"
	weatherFile    = "weather_data.csv"
	validationFile = "validation_report.csv"
)

// writeOutputs writes the run's tables, and the validation report when asked,
// returning the paths written.
func writeOutputs(dir string, result *services.RunResult, withReport bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	tables := []struct {
		name string
		df   dataframe.DataFrame
	}{
		{fieldFile, result.Field},
		{weatherFile, result.Weather},
	}

	var written []string
	for _, t := range tables {
		path := filepath.Join(dir, t.name)
		if err := writeTable(path, t.df); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if withReport {
		path := filepath.Join(dir, validationFile)
		f, err := os.Create(path)
		if err != nil {
			return written, fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()

		if err := result.Report.WriteCSV(f); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}

	return written, nil
}

func writeTable(path string, df dataframe.DataFrame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := df.WriteCSV(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
