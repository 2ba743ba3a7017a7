package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"econpanel/internal/model"
	"econpanel/internal/panel"
)

const EnvPrefix = "ECONPANEL"

// Config holds the settings shared by the collector and the publisher.
type Config struct {
	Store    StoreConfig    `yaml:"store" envconfig:"STORE"`
	Analysis AnalysisConfig `yaml:"analysis" envconfig:"ANALYSIS"`
	Output   OutputConfig   `yaml:"output" envconfig:"OUTPUT"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Metrics  MetricsConfig  `yaml:"metrics" envconfig:"METRICS"`
}

type StoreConfig struct {
	DBPath        string `yaml:"db_path" envconfig:"DB_PATH" default:"econpanel.db"`
	BackupDir     string `yaml:"backup_dir" envconfig:"BACKUP_DIR"`
	AllowlistPath string `yaml:"allowlist_path" envconfig:"ALLOWLIST_PATH" default:"configs/un_members.csv"`
}

type AnalysisConfig struct {
	Provider             string  `yaml:"provider" envconfig:"PROVIDER" default:"worldbank" validate:"required"`
	StartYear            int     `yaml:"start_year" envconfig:"START_YEAR" default:"2000" validate:"gte=1900,lte=2100"`
	EndYear              int     `yaml:"end_year" envconfig:"END_YEAR" default:"2024" validate:"gtefield=StartYear,lte=2100"`
	MinValidYears        int     `yaml:"min_valid_years" envconfig:"MIN_VALID_YEARS" default:"10" validate:"gte=0"`
	NetExporterThreshold float64 `yaml:"net_exporter_threshold" envconfig:"NET_EXPORTER_THRESHOLD" default:"0"`
	YearPolicy           string  `yaml:"year_policy" envconfig:"YEAR_POLICY" default:"intersection" validate:"year_policy"`
	Imports              string  `yaml:"imports" envconfig:"IMPORTS" default:"imports" validate:"indicator"`
	Exports              string  `yaml:"exports" envconfig:"EXPORTS" default:"exports" validate:"indicator"`
	GDP                  string  `yaml:"gdp" envconfig:"GDP" default:"gdp_real" validate:"indicator"`
}

type OutputConfig struct {
	Dir       string `yaml:"dir" envconfig:"DIR" default:"out" validate:"required"`
	Workbook  bool   `yaml:"workbook" envconfig:"WORKBOOK" default:"true"`
	DetailCSV bool   `yaml:"detail_csv" envconfig:"DETAIL_CSV" default:"true"`
}

type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile" envconfig:"TEXTFILE"`
}

// Load reads ECONPANEL_* environment variables, then lets the YAML file at
// path override them, then validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: load from env: %w", err)
	}

	if strings.TrimSpace(path) != "" {
		if err := mergeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("indicator", validateIndicator); err != nil {
		return err
	}
	if err := validate.RegisterValidation("year_policy", validateYearPolicy); err != nil {
		return err
	}

	if err := validate.Struct(c); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			messages := make([]string, 0, len(fieldErrors))
			for _, fieldError := range fieldErrors {
				messages = append(messages, fmt.Sprintf("%s failed %q (value %v)", fieldError.Namespace(), fieldError.Tag(), fieldError.Value()))
			}
			return fmt.Errorf("config: %s", strings.Join(messages, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (a AnalysisConfig) Indicators() (imports, exports, gdp model.Indicator, err error) {
	if imports, err = model.LookupIndicator(a.Imports); err != nil {
		return
	}
	if exports, err = model.LookupIndicator(a.Exports); err != nil {
		return
	}
	gdp, err = model.LookupIndicator(a.GDP)
	return
}

func validateIndicator(fl validator.FieldLevel) bool {
	_, err := model.LookupIndicator(fl.Field().String())
	return err == nil
}

func validateYearPolicy(fl validator.FieldLevel) bool {
	_, err := panel.ParseYearPolicy(fl.Field().String())
	return err == nil
}
