// Package config provides configuration loading and parsing functionality
package config

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	// durations may be written as "5ms" or as nanoseconds
	jsoniter.RegisterTypeDecoderFunc("time.Duration", decodeDuration)
}

func decodeDuration(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
	if iter.WhatIsNext() == jsoniter.StringValue {
		d, err := time.ParseDuration(iter.ReadString())
		if err != nil {
			iter.ReportError("decode duration", err.Error())
			return
		}
		*(*time.Duration)(ptr) = d
		return
	}
	*(*time.Duration)(ptr) = time.Duration(iter.ReadInt64())
}

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// FormatOf returns the configuration format implied by the file extension.
func FormatOf(filename string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "%s", filename)
	}
}

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"./configs",
			"/etc/procsys",
			os.Getenv("HOME") + "/.procsys",
		},
		envPrefix:     "PROCSYS",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file. An empty filename
// yields the defaults with environment overrides applied.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.finish(l.defaults())
	}
	return l.LoadFromFile(filename)
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	format, err := FormatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", filename)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", filename)
	}

	return l.finish(config)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read configuration data")
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// AutoLoad discovers a configuration file in the search paths and loads it.
// Without a file the defaults are used.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.FindConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.LoadFromFile(configFile)
}

// FindConfigFile searches for configuration files in search paths
func (l *Loader) FindConfigFile() (string, error) {
	filenames := []string{
		"procsys.yaml", "procsys.yml", "procsys.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

func (l *Loader) defaults() *Config {
	base := l.defaultConfig
	if base == nil {
		base = DefaultConfig()
	}

	config := *base
	if base.Log.Fields != nil {
		config.Log.Fields = make(map[string]interface{}, len(base.Log.Fields))
		for k, v := range base.Log.Fields {
			config.Log.Fields[k] = v
		}
	}
	return &config
}

// finish applies environment overrides and validates config.
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, errors.Wrap(err, "failed to load config from environment")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// parseConfig decodes data on top of the defaults, so that fields missing
// from the document keep their default value.
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := l.defaults()

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.Wrapf(ErrConfigParseError, "yaml: %v", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, errors.Wrapf(ErrConfigParseError, "json: %v", err)
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s", format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	env := func(key string) string {
		return os.Getenv(l.envPrefix + "_" + key)
	}

	// App configuration
	if val := env("APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := env("APP_VERSION"); val != "" {
		config.App.Version = val
	}
	if val := env("APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := env("APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val := env("LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val := env("LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := env("LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	// Scheduler configuration
	if val := env("SCHEDULER_REDUCTION_BUDGET"); val != "" {
		budget, err := strconv.Atoi(val)
		if err != nil {
			return errors.Wrapf(ErrEnvironmentVarError, "%s_SCHEDULER_REDUCTION_BUDGET: %v", l.envPrefix, err)
		}
		config.Scheduler.ReductionBudget = budget
	}
	if val := env("SCHEDULER_THROTTLE"); val != "" {
		throttle, err := time.ParseDuration(val)
		if err != nil {
			return errors.Wrapf(ErrEnvironmentVarError, "%s_SCHEDULER_THROTTLE: %v", l.envPrefix, err)
		}
		config.Scheduler.Throttle = throttle
	}

	// Monitor configuration
	if val := env("MONITOR_ENABLED"); val != "" {
		config.Monitor.Enabled = strings.ToLower(val) == "true"
	}
	if val := env("MONITOR_ADDRESS"); val != "" {
		config.Monitor.Address = val
	}
	if val := env("MONITOR_PORT"); val != "" {
		if port, err := parsePort(val); err == nil {
			config.Monitor.Port = port
		}
	}

	return nil
}

// Helper function to parse port number
func parsePort(val string) (int, error) {
	port, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, errors.Wrapf(ErrInvalidPort, "%d", port)
	}
	return port, nil
}
