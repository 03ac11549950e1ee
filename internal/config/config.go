// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cholette-research/tract-cli/internal/tracts"
	"github.com/cholette-research/tract-cli/internal/vulnindex"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Census   CensusConfig   `yaml:"census" mapstructure:"census"`
	Acquire  AcquireConfig  `yaml:"acquire" mapstructure:"acquire"`
	Resolver ResolverConfig `yaml:"resolver" mapstructure:"resolver"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Index    IndexConfig    `yaml:"index" mapstructure:"index"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the results database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CensusConfig holds Census Bureau API settings. The key is passed in here
// explicitly; nothing inside the analysis core reads the environment.
type CensusConfig struct {
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	Year       int    `yaml:"year" mapstructure:"year"`
	Dataset    string `yaml:"dataset" mapstructure:"dataset"`
	StateFIPS  string `yaml:"state_fips" mapstructure:"state_fips"`
	CountyFIPS string `yaml:"county_fips" mapstructure:"county_fips"` // empty = all counties
	TigerYear  int    `yaml:"tiger_year" mapstructure:"tiger_year"`

	// Rates overrides the derived-rate column mapping. Empty means the
	// built-in poverty/SNAP/vehicle/tenure rates.
	Rates []tracts.RateSpec `yaml:"rates" mapstructure:"rates"`
}

// AcquireConfig configures downloads and local staging.
type AcquireConfig struct {
	TempDir        string  `yaml:"temp_dir" mapstructure:"temp_dir"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	TransitCSV     string  `yaml:"transit_csv" mapstructure:"transit_csv"`
	SNAPCSV        string  `yaml:"snap_csv" mapstructure:"snap_csv"`
	SNAPState      string  `yaml:"snap_state" mapstructure:"snap_state"` // state abbreviation filter, e.g. "CA"
}

// ResolverConfig configures the distance pass.
type ResolverConfig struct {
	TransitRadiusMiles float64 `yaml:"transit_radius_miles" mapstructure:"transit_radius_miles"`
	Concurrency        int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// ClassifyConfig selects the classification scheme.
type ClassifyConfig struct {
	Scheme     string `yaml:"scheme" mapstructure:"scheme"`
	SchemeFile string `yaml:"scheme_file" mapstructure:"scheme_file"` // custom YAML scheme path, overrides Scheme
}

// IndexConfig configures the vulnerability index components. Empty means
// the built-in default weighting. Scenarios drive the sensitivity command;
// when empty the built-in weight scenarios apply.
type IndexConfig struct {
	Components []vulnindex.Component `yaml:"components" mapstructure:"components"`
	Scenarios  []vulnindex.Scenario  `yaml:"scenarios" mapstructure:"scenarios"`
}

// ReportConfig configures summary output.
type ReportConfig struct {
	Regions map[string][]string `yaml:"regions" mapstructure:"regions"` // region name -> county FIPS codes
	OutDir  string              `yaml:"out_dir" mapstructure:"out_dir"`
}

// ServerConfig configures the results HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and TRACT_* environment
// variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "tract-cli.db")
	v.SetDefault("census.year", 2022)
	v.SetDefault("census.dataset", "acs/acs5")
	v.SetDefault("census.state_fips", "06")
	v.SetDefault("census.tiger_year", 2022)
	v.SetDefault("acquire.temp_dir", "/tmp/tract-cli")
	v.SetDefault("acquire.user_agent", "tract-cli research (github.com/cholette-research/tract-cli)")
	v.SetDefault("acquire.requests_per_sec", 2)
	v.SetDefault("acquire.max_retries", 3)
	v.SetDefault("resolver.transit_radius_miles", 0.5)
	v.SetDefault("resolver.concurrency", 8)
	v.SetDefault("classify.scheme", "mobility")
	v.SetDefault("report.out_dir", "outputs")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// IndexComponents returns the configured index components or the built-in
// defaults when none are set.
func (c *Config) IndexComponents() []vulnindex.Component {
	if len(c.Index.Components) > 0 {
		return c.Index.Components
	}
	return vulnindex.DefaultComponents()
}

// IndexScenarios returns the configured weight scenarios or the built-in
// set when none are set.
func (c *Config) IndexScenarios() []vulnindex.Scenario {
	if len(c.Index.Scenarios) > 0 {
		return c.Index.Scenarios
	}
	return vulnindex.DefaultScenarios()
}

// RateSpecs returns the configured derived-rate mapping or the built-in
// defaults when none are set.
func (c *Config) RateSpecs() []tracts.RateSpec {
	if len(c.Census.Rates) > 0 {
		return c.Census.Rates
	}
	return tracts.DefaultRates()
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
