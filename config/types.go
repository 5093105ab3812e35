// Package config provides configuration management for procsys applications
package config

import (
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete procsys configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Process scheduler configuration
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Monitoring configuration
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Timeout for stopping services on shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable colored level names in text format
	Color bool `yaml:"color" json:"color"`

	// Fields added to every log entry
	Fields map[string]interface{} `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// SchedulerConfig contains process scheduler configuration
type SchedulerConfig struct {
	// Maximum tasks executed per process in one round
	ReductionBudget int `yaml:"reduction_budget" json:"reduction_budget"`

	// Delay between scheduling rounds
	Throttle time.Duration `yaml:"throttle" json:"throttle"`

	// Spawn the idle root process as PID 0
	RootProcess bool `yaml:"root_process" json:"root_process"`
}

// MonitorConfig contains monitoring configuration
type MonitorConfig struct {
	// Enable the HTTP monitoring server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// HTTP server address
	Address string `yaml:"address" json:"address"`

	// HTTP server port, 0 picks a free port
	Port int `yaml:"port" json:"port"`

	// Metrics endpoint path
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`

	// Health endpoint path
	HealthPath string `yaml:"health_path" json:"health_path"`

	// Process listing endpoint path
	ProcessesPath string `yaml:"processes_path" json:"processes_path"`

	// Prometheus metric namespace
	Namespace string `yaml:"namespace" json:"namespace"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:            "procsys-app",
			Version:         "1.0.0",
			Environment:     EnvDevelopment,
			Debug:           true,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
			Color:  true,
		},
		Scheduler: SchedulerConfig{
			ReductionBudget: 8,
			Throttle:        5 * time.Millisecond,
			RootProcess:     true,
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			Address:       "0.0.0.0",
			Port:          9090,
			MetricsPath:   "/metrics",
			HealthPath:    "/health",
			ProcessesPath: "/processes",
			Namespace:     "procsys",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return ErrInvalidLogFormat
	}

	// Validate scheduler config
	if c.Scheduler.ReductionBudget <= 0 {
		return ErrInvalidReductionBudget
	}
	if c.Scheduler.Throttle < 0 {
		return ErrInvalidThrottle
	}

	// Validate monitor config
	if c.Monitor.Enabled && (c.Monitor.Port < 0 || c.Monitor.Port > 65535) {
		return ErrInvalidPort
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
