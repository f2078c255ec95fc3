package validation

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/gocarina/gocsv"

	"field-weather-pipeline/internal/models"
)

// Expectations describe a correctly processed dataset.
type Expectations struct {
	WeatherRows    int
	WeatherColumns []string
	FieldRows      int
	FieldColumns   []string
	NonNegative    []string
	CropColumn     string
	CropTypes      []string
}

// DefaultExpectations returns the acceptance criteria for the Maji Ndogo survey.
func DefaultExpectations() Expectations {
	return Expectations{
		WeatherRows:    1843,
		WeatherColumns: []string{"weather_station_ID", "Message", models.MeasurementColumn, models.ValueColumn},
		FieldRows:      564,
		FieldColumns:   append([]string(nil), models.FieldColumns...),
		NonNegative:    []string{"Elevation", "Rainfall"},
		CropColumn:     "Crop_type",
		CropTypes:      append([]string(nil), models.CropTypes...),
	}
}

// Check is the outcome of one acceptance check.
type Check struct {
	Name   string `csv:"check" json:"name"`
	Passed bool   `csv:"passed" json:"passed"`
	Detail string `csv:"detail" json:"detail"`
}

// Report collects check outcomes in execution order.
type Report struct {
	Checks []Check `json:"checks"`
	Passed bool    `json:"passed"`
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// WriteCSV writes one row per check.
func (r *Report) WriteCSV(w io.Writer) error {
	return gocsv.Marshal(r.Checks, w)
}

func (r *Report) add(name string, passed bool, format string, args ...interface{}) {
	r.Checks = append(r.Checks, Check{Name: name, Passed: passed, Detail: fmt.Sprintf(format, args...)})
	if !passed {
		r.Passed = false
	}
}

// Run checks the finished field and weather tables against exp.
func Run(field, weather dataframe.DataFrame, exp Expectations) *Report {
	r := &Report{Passed: true}

	wr, wc := weather.Dims()
	r.add("weather_shape", weather.Err == nil && wr == exp.WeatherRows && wc == len(exp.WeatherColumns),
		"got %dx%d, want %dx%d", wr, wc, exp.WeatherRows, len(exp.WeatherColumns))

	fr, fc := field.Dims()
	r.add("field_shape", field.Err == nil && fr == exp.FieldRows && fc == len(exp.FieldColumns),
		"got %dx%d, want %dx%d", fr, fc, exp.FieldRows, len(exp.FieldColumns))

	r.add("weather_columns", equalStrings(weather.Names(), exp.WeatherColumns),
		"got [%s]", strings.Join(weather.Names(), ", "))
	r.add("field_columns", equalStrings(field.Names(), exp.FieldColumns),
		"got [%s]", strings.Join(field.Names(), ", "))

	for _, col := range exp.NonNegative {
		if !models.HasColumn(field, col) {
			r.add("non_negative_"+strings.ToLower(col), false, "column %s missing", col)
			continue
		}
		negative := 0
		for _, v := range field.Col(col).Float() {
			if v < 0 {
				negative++
			}
		}
		r.add("non_negative_"+strings.ToLower(col), negative == 0, "%d negative values", negative)
	}

	if exp.CropColumn != "" {
		if !models.HasColumn(field, exp.CropColumn) {
			r.add("crop_types", false, "column %s missing", exp.CropColumn)
		} else {
			got := distinct(field.Col(exp.CropColumn).Records())
			r.add("crop_types", equalSets(got, exp.CropTypes), "got {%s}", strings.Join(got, ", "))
		}
	}

	return r
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// distinct returns the sorted unique values, including the NaN marker for
// missing entries.
func distinct(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func equalSets(got, want []string) bool {
	w := distinct(want)
	return equalStrings(got, w)
}
