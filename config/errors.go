// Package config provides error definitions for configuration management
package config

import "github.com/pkg/errors"

// Configuration validation errors
var (
	ErrInvalidAppName         = errors.New("invalid application name")
	ErrInvalidEnvironment     = errors.New("invalid environment")
	ErrInvalidLogLevel        = errors.New("invalid log level")
	ErrInvalidLogFormat       = errors.New("invalid log format")
	ErrInvalidPort            = errors.New("invalid port number")
	ErrInvalidReductionBudget = errors.New("invalid reduction budget")
	ErrInvalidThrottle        = errors.New("invalid scheduler throttle")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrUnsupportedFormat   = errors.New("unsupported configuration format")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
