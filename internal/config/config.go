// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/forceps/pkg/driver"
	"github.com/xkilldash9x/forceps/pkg/resilience"
)

// Engine kinds selectable via engine.kind.
const (
	EngineCDP    = "cdp"
	EngineStatic = "static"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Retry() resilience.RetryPolicy
	Wait() WaitConfig
	Locate() driver.ResolveSpec
	API() APIConfig
	Database() DatabaseConfig
	Data() DataConfig
	Runner() RunnerConfig
	Run() RunConfig
	SetRunConfig(RunConfig)

	// Engine setters for CLI flag overrides.
	SetEngineKind(string)
	SetEngineHeadless(bool)

	// Runner setters
	SetRunnerConcurrency(int)
	SetRunnerJUnitFile(string)
}

// Config holds the entire application configuration. Fields are exported so
// viper can unmarshal them; access still goes through the Interface getters so
// components can be handed a read-mostly view.
type Config struct {
	LoggerCfg   LoggerConfig           `mapstructure:"logger" yaml:"logger"`
	EngineCfg   EngineConfig           `mapstructure:"engine" yaml:"engine"`
	RetryCfg    resilience.RetryPolicy `mapstructure:"retry" yaml:"retry"`
	WaitCfg     WaitConfig             `mapstructure:"wait" yaml:"wait"`
	LocateCfg   driver.ResolveSpec     `mapstructure:"locate" yaml:"locate"`
	APICfg      APIConfig              `mapstructure:"api" yaml:"api"`
	DatabaseCfg DatabaseConfig         `mapstructure:"database" yaml:"database"`
	DataCfg     DataConfig             `mapstructure:"data" yaml:"data"`
	RunnerCfg   RunnerConfig           `mapstructure:"runner" yaml:"runner"`
	// runCfg gets its marching orders from CLI flags, not the config file.
	runCfg RunConfig `mapstructure:"-" yaml:"-"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig          { return c.LoggerCfg }
func (c *Config) Engine() EngineConfig          { return c.EngineCfg }
func (c *Config) Retry() resilience.RetryPolicy { return c.RetryCfg }
func (c *Config) Wait() WaitConfig              { return c.WaitCfg }
func (c *Config) Locate() driver.ResolveSpec    { return c.LocateCfg }
func (c *Config) API() APIConfig                { return c.APICfg }
func (c *Config) Database() DatabaseConfig      { return c.DatabaseCfg }
func (c *Config) Data() DataConfig              { return c.DataCfg }
func (c *Config) Runner() RunnerConfig          { return c.RunnerCfg }
func (c *Config) Run() RunConfig                { return c.runCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunConfig(rc RunConfig)    { c.runCfg = rc }
func (c *Config) SetEngineKind(kind string)    { c.EngineCfg.Kind = kind }
func (c *Config) SetEngineHeadless(b bool)     { c.EngineCfg.Headless = b }
func (c *Config) SetRunnerConcurrency(n int)   { c.RunnerCfg.Concurrency = n }
func (c *Config) SetRunnerJUnitFile(p string)  { c.RunnerCfg.JUnitFile = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig selects and tunes the page engine.
type EngineConfig struct {
	// Kind picks the engine: "cdp" drives a headless Chrome over the
	// DevTools protocol, "static" fetches and parses documents over plain
	// HTTP without executing scripts.
	Kind              string         `mapstructure:"kind" yaml:"kind"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	StabilizeWait     time.Duration  `mapstructure:"stabilize_wait" yaml:"stabilize_wait"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	// RequestsPerSecond paces the static engine's outbound requests.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Debug             bool    `mapstructure:"debug" yaml:"debug"`
}

// WaitConfig supplies the default budget for condition waits.
type WaitConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// APIConfig configures the companion REST client used to pull scenario data
// and push run results.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	Token     string        `mapstructure:"token" yaml:"-"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// DatabaseConfig holds the database connection details. An empty URL disables
// run persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// DataConfig points at the scenario fixtures. File wins over Dir when set;
// otherwise scenarios are read from <dir>/scenarios.yaml.
type DataConfig struct {
	Dir  string `mapstructure:"dir" yaml:"dir"`
	File string `mapstructure:"file" yaml:"file"`
}

// RunnerConfig tunes scenario execution.
type RunnerConfig struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	JUnitFile   string        `mapstructure:"junit_file" yaml:"junit_file"`
}

// RunConfig holds settings populated from CLI flags for a specific run job.
type RunConfig struct {
	Scenarios []string
	Target    string
	FailFast  bool
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "forceps")
	v.SetDefault("logger.log_file", "forceps.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.kind", EngineCDP)
	v.SetDefault("engine.headless", true)
	v.SetDefault("engine.ignore_tls_errors", false)
	v.SetDefault("engine.navigation_timeout", "90s")
	v.SetDefault("engine.stabilize_wait", "2s")
	v.SetDefault("engine.requests_per_second", 4.0)
	v.SetDefault("engine.debug", false)

	// -- Retry --
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("retry.jitter", true)

	// -- Wait --
	v.SetDefault("wait.timeout", "30s")
	v.SetDefault("wait.poll_interval", "500ms")

	// -- Locate --
	v.SetDefault("locate.per_candidate", "2s")
	v.SetDefault("locate.total", "10s")
	v.SetDefault("locate.probe", "100ms")

	// -- API --
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.user_agent", "forceps")

	// -- Data --
	v.SetDefault("data.dir", "testdata")
	v.SetDefault("data.file", "")

	// -- Runner --
	v.SetDefault("runner.concurrency", 4)
	v.SetDefault("runner.step_timeout", "2m")
	v.SetDefault("runner.junit_file", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("api.token", "FORCEPS_API_TOKEN")
	v.BindEnv("database.url", "FORCEPS_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the token if Unmarshal didn't pick it up
	if cfg.APICfg.BaseURL != "" && cfg.APICfg.Token == "" {
		cfg.APICfg.Token = os.Getenv("FORCEPS_API_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.RetryCfg.Validate(); err != nil {
		return fmt.Errorf("retry configuration invalid: %w", err)
	}
	if err := c.WaitCfg.Validate(); err != nil {
		return fmt.Errorf("wait configuration invalid: %w", err)
	}
	if c.LocateCfg.PerCandidate <= 0 || c.LocateCfg.Total <= 0 || c.LocateCfg.Probe <= 0 {
		return fmt.Errorf("locate.per_candidate, locate.total and locate.probe must be positive durations")
	}
	if err := c.APICfg.Validate(); err != nil {
		return fmt.Errorf("api configuration invalid: %w", err)
	}
	if c.RunnerCfg.Concurrency <= 0 {
		return fmt.Errorf("runner.concurrency must be a positive integer")
	}
	if c.RunnerCfg.StepTimeout <= 0 {
		return fmt.Errorf("runner.step_timeout must be a positive duration")
	}
	// database.url stays optional; without it runs are simply not persisted.
	return nil
}

// Validate checks the engine section.
func (e *EngineConfig) Validate() error {
	switch e.Kind {
	case EngineCDP, EngineStatic:
	default:
		return fmt.Errorf("engine.kind must be %q or %q, got %q", EngineCDP, EngineStatic, e.Kind)
	}
	if e.NavigationTimeout <= 0 {
		return fmt.Errorf("engine.navigation_timeout must be a positive duration")
	}
	if e.StabilizeWait < 0 {
		return fmt.Errorf("engine.stabilize_wait must not be negative")
	}
	if e.Kind == EngineStatic && e.RequestsPerSecond <= 0 {
		return fmt.Errorf("engine.requests_per_second must be positive for the static engine")
	}
	return nil
}

// Validate checks the wait section.
func (w *WaitConfig) Validate() error {
	if w.Timeout < 0 {
		return fmt.Errorf("wait.timeout must not be negative")
	}
	if w.PollInterval <= 0 {
		return fmt.Errorf("wait.poll_interval must be a positive duration")
	}
	return nil
}

// Validate checks the api section.
func (a *APIConfig) Validate() error {
	if a.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https, got %q", u.Scheme)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be a positive duration")
	}
	return nil
}
