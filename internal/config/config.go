package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"field-weather-pipeline/internal/models"
)

// Pattern names one measurement and the regex that extracts it from a weather
// message. The first capture group that participates in a match holds the value.
type Pattern struct {
	Name    string `yaml:"name" validate:"required"`
	Pattern string `yaml:"pattern" validate:"required"`
}

// Config is the dataset configuration shared by both processors.
type Config struct {
	ConnectionString  string            `yaml:"db_path" validate:"required"`
	SQLQuery          string            `yaml:"sql_query" validate:"required"`
	ColumnsToRename   map[string]string `yaml:"columns_to_rename" validate:"required,dive,keys,required,endkeys,required"`
	ValuesToRename    map[string]string `yaml:"values_to_rename" validate:"required,dive,keys,required,endkeys,required"`
	WeatherMappingCSV string            `yaml:"weather_mapping_csv" validate:"required,url"`
	WeatherCSV        string            `yaml:"weather_csv_path" validate:"required,url"`
	RegexPatterns     []Pattern         `yaml:"regex_patterns" validate:"required,min=1,dive"`

	ValueRenameColumn    string   `yaml:"value_rename_column" validate:"required"`
	AbsoluteColumns      []string `yaml:"absolute_columns" validate:"dive,required"`
	MappingKey           string   `yaml:"mapping_key" validate:"required"`
	WeatherStationColumn string   `yaml:"weather_station_column" validate:"required"`
	StationIDColumn      string   `yaml:"station_id_column" validate:"required"`
	MessageColumn        string   `yaml:"message_column" validate:"required"`

	compiled []*regexp.Regexp
}

const surveyQuery = `SELECT *
FROM geographic_features
LEFT JOIN weather_features USING (Field_ID)
LEFT JOIN soil_and_crop_features USING (Field_ID)
LEFT JOIN farm_management_features USING (Field_ID)`

// Default returns the Maji Ndogo survey configuration.
func Default() *Config {
	cfg := &Config{
		ConnectionString:  "sqlite:///Maji_Ndogo_farm_survey_small.db",
		SQLQuery:          surveyQuery,
		// Annual_yield and Crop_type arrive swapped from upstream.
		ColumnsToRename:   map[string]string{"Annual_yield": "Crop_type", "Crop_type": "Annual_yield"},
		ValuesToRename:    map[string]string{"cassaval": "cassava", "wheatn": "wheat", "teaa": "tea"},
		WeatherMappingCSV: "https://raw.githubusercontent.com/Explore-AI/Public-Data/master/Maji_Ndogo/Weather_data_field_mapping.csv",
		WeatherCSV:        "https://raw.githubusercontent.com/Explore-AI/Public-Data/master/Maji_Ndogo/Weather_station_data.csv",
		RegexPatterns: []Pattern{
			{Name: "Rainfall", Pattern: `(\d+(\.\d+)?)\s?mm`},
			{Name: "Temperature", Pattern: `(\d+(\.\d+)?)\s?C`},
			{Name: "Pollution_level", Pattern: `=\s*(-?\d+(\.\d+)?)|Pollution at\s*(-?\d+(\.\d+)?)`},
		},
	}
	cfg.applyDefaults()
	// The literals above are known good.
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads a YAML dataset configuration from path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewError(models.ErrConfiguration, "load_config", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes YAML configuration. Unknown keys are rejected, omitted optional
// column names take their defaults, and the result is validated.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, models.NewError(models.ErrConfiguration, "load_config", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty configuration")
		}
		return nil, models.NewError(models.ErrConfiguration, "load_config", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ValueRenameColumn == "" {
		c.ValueRenameColumn = "Crop_type"
	}
	if c.AbsoluteColumns == nil {
		c.AbsoluteColumns = []string{"Elevation"}
	}
	if c.MappingKey == "" {
		c.MappingKey = "Field_ID"
	}
	if c.WeatherStationColumn == "" {
		c.WeatherStationColumn = "Weather_station"
	}
	if c.StationIDColumn == "" {
		c.StationIDColumn = "weather_station_ID"
	}
	if c.MessageColumn == "" {
		c.MessageColumn = "Message"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required fields and compiles every pattern. Each pattern must
// compile and have at least one capture group.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return models.NewError(models.ErrConfiguration, "validate_config", formatValidationErrors(verrs))
		}
		return models.NewError(models.ErrConfiguration, "validate_config", err)
	}

	seen := make(map[string]bool, len(c.RegexPatterns))
	compiled := make([]*regexp.Regexp, 0, len(c.RegexPatterns))
	for _, p := range c.RegexPatterns {
		if seen[p.Name] {
			return models.NewError(models.ErrConfiguration, "validate_config",
				fmt.Errorf("duplicate measurement %q", p.Name))
		}
		seen[p.Name] = true

		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return models.NewError(models.ErrConfiguration, "validate_config",
				fmt.Errorf("pattern %q: %w", p.Name, err))
		}
		if re.NumSubexp() < 1 {
			return models.NewError(models.ErrConfiguration, "validate_config",
				fmt.Errorf("pattern %q has no capture group", p.Name))
		}
		compiled = append(compiled, re)
	}
	c.compiled = compiled

	return nil
}

// CompiledPatterns returns the patterns compiled by Validate, in configuration order.
func (c *Config) CompiledPatterns() []*regexp.Regexp {
	return c.compiled
}

func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
