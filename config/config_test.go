package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

// TestDefaultConfig tests that the default configuration is valid
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("Default config validation failed: %v", err)
	}
	if config.Scheduler.ReductionBudget != 8 {
		t.Errorf("Expected reduction budget 8, got %d", config.Scheduler.ReductionBudget)
	}
	if config.Scheduler.Throttle != 5*time.Millisecond {
		t.Errorf("Expected throttle 5ms, got %v", config.Scheduler.Throttle)
	}
	if !config.Scheduler.RootProcess {
		t.Error("Expected root process enabled by default")
	}
	if !config.IsDevelopment() || config.IsProduction() {
		t.Error("Expected development environment by default")
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr error
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid app name",
			modify:  func(c *Config) { c.App.Name = "" },
			wantErr: ErrInvalidAppName,
		},
		{
			name:    "invalid environment",
			modify:  func(c *Config) { c.App.Environment = "moon" },
			wantErr: ErrInvalidEnvironment,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: ErrInvalidLogLevel,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: ErrInvalidLogFormat,
		},
		{
			name:    "zero reduction budget",
			modify:  func(c *Config) { c.Scheduler.ReductionBudget = 0 },
			wantErr: ErrInvalidReductionBudget,
		},
		{
			name:    "negative throttle",
			modify:  func(c *Config) { c.Scheduler.Throttle = -time.Millisecond },
			wantErr: ErrInvalidThrottle,
		},
		{
			name:    "invalid monitor port",
			modify:  func(c *Config) { c.Monitor.Port = 70000 },
			wantErr: ErrInvalidPort,
		},
		{
			name: "monitor port ignored when disabled",
			modify: func(c *Config) {
				c.Monitor.Enabled = false
				c.Monitor.Port = -1
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)

			err := config.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// TestLoaderYAML tests YAML loading on top of defaults
func TestLoaderYAML(t *testing.T) {
	yamlFile := writeFile(t, t.TempDir(), "procsys.yaml", `
app:
  name: test-app
  environment: testing

log:
  level: debug

scheduler:
  reduction_budget: 16
  throttle: 2ms
`)

	config, err := NewLoader().LoadFromFile(yamlFile)
	if err != nil {
		t.Fatalf("Failed to load YAML config: %v", err)
	}

	if config.App.Name != "test-app" {
		t.Errorf("Expected app name 'test-app', got '%s'", config.App.Name)
	}
	if config.App.Environment != EnvTesting {
		t.Errorf("Expected environment testing, got %s", config.App.Environment)
	}
	if config.Log.Level != LogLevelDebug {
		t.Errorf("Expected log level debug, got %s", config.Log.Level)
	}
	if config.Scheduler.ReductionBudget != 16 {
		t.Errorf("Expected reduction budget 16, got %d", config.Scheduler.ReductionBudget)
	}
	if config.Scheduler.Throttle != 2*time.Millisecond {
		t.Errorf("Expected throttle 2ms, got %v", config.Scheduler.Throttle)
	}

	// missing fields keep their defaults
	if config.Log.Format != "text" {
		t.Errorf("Expected default log format 'text', got '%s'", config.Log.Format)
	}
	if config.Monitor.Port != 9090 {
		t.Errorf("Expected default monitor port 9090, got %d", config.Monitor.Port)
	}
	if !config.Scheduler.RootProcess {
		t.Error("Expected default root process setting")
	}
}

// TestLoaderJSON tests JSON loading with both duration notations
func TestLoaderJSON(t *testing.T) {
	tests := []struct {
		name     string
		throttle string
		want     time.Duration
	}{
		{name: "string duration", throttle: `"10ms"`, want: 10 * time.Millisecond},
		{name: "nanoseconds", throttle: `1000000`, want: time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := `{
  "app": {"name": "json-app"},
  "scheduler": {"reduction_budget": 4, "throttle": ` + tt.throttle + `},
  "monitor": {"enabled": false}
}`
			config, err := NewLoader().LoadFromReader(strings.NewReader(content), FormatJSON)
			if err != nil {
				t.Fatalf("Failed to load JSON config: %v", err)
			}

			if config.App.Name != "json-app" {
				t.Errorf("Expected app name 'json-app', got '%s'", config.App.Name)
			}
			if config.Scheduler.ReductionBudget != 4 {
				t.Errorf("Expected reduction budget 4, got %d", config.Scheduler.ReductionBudget)
			}
			if config.Scheduler.Throttle != tt.want {
				t.Errorf("Expected throttle %v, got %v", tt.want, config.Scheduler.Throttle)
			}
			if config.Monitor.Enabled {
				t.Error("Expected monitor disabled")
			}
		})
	}
}

// TestLoaderErrors tests loader failure modes
func TestLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader()

	if _, err := loader.LoadFromFile(writeFile(t, dir, "procsys.toml", "")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}

	if _, err := loader.LoadFromFile(writeFile(t, dir, "broken.yaml", "app: [")); !errors.Is(err, ErrConfigParseError) {
		t.Errorf("Expected ErrConfigParseError, got %v", err)
	}

	invalid := writeFile(t, dir, "invalid.yaml", "scheduler:\n  reduction_budget: -1\n")
	if _, err := loader.LoadFromFile(invalid); !errors.Is(err, ErrInvalidReductionBudget) {
		t.Errorf("Expected ErrInvalidReductionBudget, got %v", err)
	}

	if _, err := loader.LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

// TestEnvironmentOverrides tests environment variable overrides
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PROCSYS_APP_NAME", "env-app")
	t.Setenv("PROCSYS_LOG_LEVEL", "WARN")
	t.Setenv("PROCSYS_SCHEDULER_REDUCTION_BUDGET", "32")
	t.Setenv("PROCSYS_SCHEDULER_THROTTLE", "1ms")
	t.Setenv("PROCSYS_MONITOR_PORT", "9191")

	config, err := NewLoader().Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.App.Name != "env-app" {
		t.Errorf("Expected app name 'env-app', got '%s'", config.App.Name)
	}
	if config.Log.Level != LogLevelWarn {
		t.Errorf("Expected log level warn, got %s", config.Log.Level)
	}
	if config.Scheduler.ReductionBudget != 32 {
		t.Errorf("Expected reduction budget 32, got %d", config.Scheduler.ReductionBudget)
	}
	if config.Scheduler.Throttle != time.Millisecond {
		t.Errorf("Expected throttle 1ms, got %v", config.Scheduler.Throttle)
	}
	if config.Monitor.Port != 9191 {
		t.Errorf("Expected monitor port 9191, got %d", config.Monitor.Port)
	}
}

func TestEnvironmentOverrideError(t *testing.T) {
	t.Setenv("PROCSYS_SCHEDULER_THROTTLE", "soon")

	if _, err := NewLoader().Load(""); !errors.Is(err, ErrEnvironmentVarError) {
		t.Errorf("Expected ErrEnvironmentVarError, got %v", err)
	}
}

// TestAutoLoad tests configuration discovery
func TestAutoLoad(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader().SetSearchPaths([]string{filepath.Join(dir, "none"), dir})

	config, err := loader.AutoLoad()
	if err != nil {
		t.Fatalf("AutoLoad without file failed: %v", err)
	}
	if config.App.Name != "procsys-app" {
		t.Errorf("Expected default app name, got '%s'", config.App.Name)
	}

	writeFile(t, dir, "procsys.yml", "app:\n  name: found-app\n")

	path, err := loader.FindConfigFile()
	if err != nil {
		t.Fatalf("Expected config file to be found: %v", err)
	}
	if filepath.Base(path) != "procsys.yml" {
		t.Errorf("Expected procsys.yml, got %s", path)
	}

	config, err = loader.AutoLoad()
	if err != nil {
		t.Fatalf("AutoLoad failed: %v", err)
	}
	if config.App.Name != "found-app" {
		t.Errorf("Expected app name 'found-app', got '%s'", config.App.Name)
	}
}

// TestDefaultsNotShared tests that loaded configs do not alias the defaults
func TestDefaultsNotShared(t *testing.T) {
	base := DefaultConfig()
	base.Log.Fields = map[string]interface{}{"service": "a"}
	loader := NewLoader().SetDefaultConfig(base)

	config, err := loader.Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	config.Log.Fields["service"] = "b"
	config.Scheduler.ReductionBudget = 99

	if base.Log.Fields["service"] != "a" || base.Scheduler.ReductionBudget != 8 {
		t.Error("Loaded config must not modify the defaults")
	}
}

// TestWatcher tests configuration hot reload
func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "procsys.yaml", "scheduler:\n  reduction_budget: 8\n")

	watcher, err := NewWatcher(file, NewLoader(), nil)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	watcher.SetDebounce(10 * time.Millisecond)

	changes := make(chan [2]int, 1)
	watcher.OnConfigChange(func(oldConfig, newConfig *Config) {
		changes <- [2]int{oldConfig.Scheduler.ReductionBudget, newConfig.Scheduler.ReductionBudget}
	})

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer watcher.Stop()

	writeFile(t, dir, "procsys.yaml", "scheduler:\n  reduction_budget: 12\n")

	select {
	case change := <-changes:
		if change[0] != 8 || change[1] != 12 {
			t.Errorf("Expected change 8 -> 12, got %v", change)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for config reload")
	}

	if watcher.GetConfig().Scheduler.ReductionBudget != 12 {
		t.Errorf("Expected current budget 12, got %d", watcher.GetConfig().Scheduler.ReductionBudget)
	}
}

// TestWatcherKeepsConfigOnError tests that an invalid reload is rejected
func TestWatcherKeepsConfigOnError(t *testing.T) {
	file := writeFile(t, t.TempDir(), "procsys.yaml", "scheduler:\n  reduction_budget: 8\n")

	watcher, err := NewWatcher(file, NewLoader(), nil)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	os.WriteFile(file, []byte("scheduler:\n  reduction_budget: 0\n"), 0644)
	if err := watcher.Reload(); err == nil {
		t.Fatal("Expected reload error")
	}
	if watcher.GetConfig().Scheduler.ReductionBudget != 8 {
		t.Errorf("Expected previous config kept, got %d", watcher.GetConfig().Scheduler.ReductionBudget)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr error
	}{
		{name: "text", cfg: LogConfig{Level: LogLevelDebug, Format: "text", Output: "stderr"}},
		{name: "json", cfg: LogConfig{Level: LogLevelInfo, Format: "json", Output: "stdout", Fields: map[string]interface{}{"app": "x"}}},
		{name: "bad level", cfg: LogConfig{Level: "loud", Format: "text"}, wantErr: ErrInvalidLogLevel},
		{name: "bad format", cfg: LogConfig{Level: LogLevelInfo, Format: "xml"}, wantErr: ErrInvalidLogFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to build logger: %v", err)
			}
			level, _ := zapcore.ParseLevel(tt.cfg.Level.String())
			if !logger.Core().Enabled(level) {
				t.Errorf("Expected level %s enabled", tt.cfg.Level)
			}
		})
	}
}
