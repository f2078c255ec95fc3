package models

import (
	"fmt"
	"math"
	"strconv"

	"github.com/go-gota/gota/dataframe"
)

// Long-form weather table columns added by extraction.
const (
	MeasurementColumn = "Measurement"
	ValueColumn       = "Value"
)

// WeatherReading is one row of the long-form weather table.
// Value is nil when the captured text was not numeric.
type WeatherReading struct {
	StationID   string   `json:"station_id"`
	Message     string   `json:"message"`
	Measurement string   `json:"measurement"`
	Value       *float64 `json:"value,omitempty"`
}

// WeatherStatistics summarizes the readings of one station for one measurement.
// Min, Max and Mean are nil when no reading had a numeric value.
type WeatherStatistics struct {
	StationID    string   `json:"station_id"`
	Measurement  string   `json:"measurement"`
	ReadingCount int      `json:"reading_count"`
	MissingCount int      `json:"missing_count"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	Mean         *float64 `json:"mean,omitempty"`
}

// ReadingsFromTable converts a long-form weather table into typed readings.
func ReadingsFromTable(df dataframe.DataFrame, stationCol, messageCol string) ([]WeatherReading, error) {
	if df.Err != nil {
		return nil, df.Err
	}
	for _, col := range []string{stationCol, messageCol, MeasurementColumn, ValueColumn} {
		if !hasColumn(df, col) {
			return nil, &ValidationError{Field: col, Message: fmt.Sprintf("weather table has no %q column", col)}
		}
	}

	stations := df.Col(stationCol).Records()
	messages := df.Col(messageCol).Records()
	measurements := df.Col(MeasurementColumn).Records()
	values := df.Col(ValueColumn).Float()

	readings := make([]WeatherReading, df.Nrow())
	for i := range readings {
		readings[i] = WeatherReading{
			StationID:   stations[i],
			Message:     messages[i],
			Measurement: measurements[i],
		}
		if !math.IsNaN(values[i]) {
			v := values[i]
			readings[i].Value = &v
		}
	}
	return readings, nil
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// ParseMeasurement converts captured text to a float. Non-numeric text yields NaN.
func ParseMeasurement(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func hasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if n == name {
			return true
		}
	}
	return false
}
