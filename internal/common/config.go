package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration shared by the orchestrator
// runtime and the dispatcher service. Loaded once at startup; environment
// variables override the worker-runtime fields (see ApplyEnvOverrides).
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Database     DatabaseConfig     `toml:"database"`
	Logging      LoggingConfig      `toml:"logging"`
	Browser      BrowserConfig      `toml:"browser"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Analyzer     AnalyzerConfig     `toml:"analyzer"`
	SignedURL    SignedURLConfig    `toml:"signed_url"`
	Monitor      MonitorConfig      `toml:"monitor"`
	CloudJobs    CloudJobsConfig    `toml:"cloud_jobs"`
	Tables       TablesConfig       `toml:"tables"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type DatabaseConfig struct {
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"` // e.g. "30m"
}

type LoggingConfig struct {
	Level      string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
	Sanitize   bool     `toml:"sanitize"` // scrub client personal data from log fields
}

type BrowserConfig struct {
	Headless           bool          `toml:"headless"`
	DisableGPU         bool          `toml:"disable_gpu"`
	NoSandbox          bool          `toml:"no_sandbox"`
	UserAgent          string        `toml:"user_agent"`
	NavigationTimeout  time.Duration `toml:"navigation_timeout"`
	FormTimeout        time.Duration `toml:"form_timeout"`
	SubmitTimeout      time.Duration `toml:"submit_timeout"`
	JavaScriptWaitTime time.Duration `toml:"javascript_wait_time"`
}

// OrchestratorConfig carries the worker-pool and persistence tuning knobs.
// Defaults are applied in ApplyDefaults; they match the production values
// and must not be silently changed.
type OrchestratorConfig struct {
	Workers              int           `toml:"workers"`
	TaskQueueSize        int           `toml:"task_queue_size"`
	ResultQueueSize      int           `toml:"result_queue_size"`
	StartupTimeout       time.Duration `toml:"startup_timeout"`         // wait for WORKER_READY
	BatchSize            int           `toml:"batch_size"`              // buffered-mode flush size
	BufferTimeout        time.Duration `toml:"buffer_timeout"`          // buffered-mode flush interval
	MaxBufferSize        int           `toml:"max_buffer_size"`
	MaxParallelDBWrites  int           `toml:"max_parallel_db_writes"`
	ImmediateWrites      bool          `toml:"immediate_writes"`        // immediate vs buffered persistence
	HealthCheckInterval  time.Duration `toml:"health_check_interval"`
	ProgressLogInterval  time.Duration `toml:"progress_log_interval"`
	OverflowPollInterval time.Duration `toml:"overflow_poll_interval"`
	BatchResultCeiling   time.Duration `toml:"batch_result_ceiling"`    // hard ceiling per batch
	NoActivityCeiling    time.Duration `toml:"no_activity_ceiling"`
	RunLifetime          time.Duration `toml:"run_lifetime"`            // self-termination budget
	ShutdownTimeout      time.Duration `toml:"shutdown_timeout"`
	TotalShards          int           `toml:"total_shards"`
	TargetingID          int64         `toml:"targeting_id"`
	TestMode             bool          `toml:"test_mode"`
}

// AnalyzerConfig allows per-field threshold overrides. Keys are logical
// field names; defaults live in the pattern table and are never dropped.
type AnalyzerConfig struct {
	ThresholdOverrides map[string]int `toml:"threshold_overrides"`
}

type SignedURLConfig struct {
	ServiceAccountKeyFile   string `toml:"service_account_key_file"`
	TTLHours                int    `toml:"ttl_hours"`
	RefreshThresholdSeconds int    `toml:"refresh_threshold_seconds"`
}

type MonitorConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	TimeoutSeconds  int `toml:"timeout_seconds"`
}

type CloudJobsConfig struct {
	Project  string `toml:"project"`
	Region   string `toml:"region"`
	JobName  string `toml:"job_name"`
	Endpoint string `toml:"endpoint"`
	Mode     string `toml:"mode"` // "cloud_run" or "batch"
}

type TablesConfig struct {
	CompanyTable     string `toml:"company_table"`
	SendQueueTable   string `toml:"send_queue_table"`
	SubmissionsTable string `toml:"submissions_table"`
	TableMode        string `toml:"table_mode"`
}

// LoadConfig loads configuration from a TOML file, applies defaults, then
// applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.ApplyDefaults()
	config.ApplyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if len(c.Logging.Output) == 0 {
		c.Logging.Output = []string{"stdout"}
	}
	if c.Logging.TimeFormat == "" {
		c.Logging.TimeFormat = "15:04:05"
	}
	if c.Browser.UserAgent == "" {
		c.Browser.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	}
	if c.Browser.NavigationTimeout == 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Browser.FormTimeout == 0 {
		c.Browser.FormTimeout = 60 * time.Second
	}
	if c.Browser.SubmitTimeout == 0 {
		c.Browser.SubmitTimeout = 30 * time.Second
	}
	if c.Browser.JavaScriptWaitTime == 0 {
		c.Browser.JavaScriptWaitTime = 3 * time.Second
	}
	c.Browser.Headless = true

	o := &c.Orchestrator
	if o.Workers == 0 {
		o.Workers = 3
	}
	if o.TaskQueueSize == 0 {
		o.TaskQueueSize = 100
	}
	if o.ResultQueueSize == 0 {
		o.ResultQueueSize = 200
	}
	if o.StartupTimeout == 0 {
		o.StartupTimeout = 60 * time.Second
	}
	if o.BatchSize == 0 {
		o.BatchSize = 20
	}
	if o.BufferTimeout == 0 {
		o.BufferTimeout = 30 * time.Second
	}
	if o.MaxBufferSize == 0 {
		o.MaxBufferSize = 200
	}
	if o.MaxParallelDBWrites == 0 {
		o.MaxParallelDBWrites = 5
	}
	if o.HealthCheckInterval == 0 {
		o.HealthCheckInterval = 10 * time.Second
	}
	if o.ProgressLogInterval == 0 {
		o.ProgressLogInterval = 30 * time.Second
	}
	if o.OverflowPollInterval == 0 {
		o.OverflowPollInterval = 30 * time.Second
	}
	if o.BatchResultCeiling == 0 {
		o.BatchResultCeiling = 5 * time.Minute
	}
	if o.NoActivityCeiling == 0 {
		o.NoActivityCeiling = 30 * time.Minute
	}
	if o.RunLifetime == 0 {
		o.RunLifetime = 5 * time.Hour
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 60 * time.Second
	}
	if o.TotalShards == 0 {
		o.TotalShards = 1
	}

	if c.SignedURL.TTLHours == 0 {
		c.SignedURL.TTLHours = 24
	}
	if c.SignedURL.RefreshThresholdSeconds == 0 {
		c.SignedURL.RefreshThresholdSeconds = 3600
	}
	if c.Monitor.IntervalSeconds == 0 {
		c.Monitor.IntervalSeconds = 30
	}
	if c.Monitor.TimeoutSeconds == 0 {
		c.Monitor.TimeoutSeconds = 6 * 3600
	}
	if c.Tables.CompanyTable == "" {
		c.Tables.CompanyTable = "companies"
	}
	if c.Tables.SubmissionsTable == "" {
		c.Tables.SubmissionsTable = "submissions"
	}
	if c.CloudJobs.Mode == "" {
		c.CloudJobs.Mode = "cloud_run"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
}

// ApplyEnvOverrides maps the worker-runtime environment variable set onto
// the config. These are the variables the dispatcher injects into cloud
// executions; the orchestrator consumes them on startup.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("FORM_SENDER_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orchestrator.Workers = n
		}
	}
	if v := os.Getenv("FORM_SENDER_TOTAL_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orchestrator.TotalShards = n
		}
	}
	if v := os.Getenv("FORM_SENDER_TARGETING_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Orchestrator.TargetingID = n
		}
	}
	if v := os.Getenv("FORM_SENDER_TEST_MODE"); v != "" {
		c.Orchestrator.TestMode = v == "1" || v == "true"
	}
	if v := os.Getenv("FORM_SENDER_LOG_SANITIZE"); v != "" {
		c.Logging.Sanitize = v == "1" || v == "true"
	}
	if v := os.Getenv("COMPANY_TABLE"); v != "" {
		c.Tables.CompanyTable = v
	}
	if v := os.Getenv("SEND_QUEUE_TABLE"); v != "" {
		c.Tables.SendQueueTable = v
	}
	if v := os.Getenv("SUBMISSIONS_TABLE"); v != "" {
		c.Tables.SubmissionsTable = v
	}
	if v := os.Getenv("FORM_SENDER_TABLE_MODE"); v != "" {
		c.Tables.TableMode = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	if c.Orchestrator.Workers < 1 || c.Orchestrator.Workers > 50 {
		return fmt.Errorf("orchestrator.workers must be in [1,50], got %d", c.Orchestrator.Workers)
	}
	if c.Orchestrator.MaxBufferSize < c.Orchestrator.BatchSize {
		return fmt.Errorf("orchestrator.max_buffer_size (%d) must be >= batch_size (%d)",
			c.Orchestrator.MaxBufferSize, c.Orchestrator.BatchSize)
	}
	if c.SignedURL.TTLHours < 1 || c.SignedURL.TTLHours > 168 {
		return fmt.Errorf("signed_url.ttl_hours must be in [1,168], got %d", c.SignedURL.TTLHours)
	}
	return nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
