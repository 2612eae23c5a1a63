package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all widgetrt configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Where widgets, user data and runtime state live
	Components ComponentsConfig `yaml:"components"`

	// Hot-reload compilation pipeline
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Cross-widget I/O binding resolver
	Binding BindingConfig `yaml:"binding"`

	// Discovery/selection preferences
	Selection SelectionConfig `yaml:"selection"`

	// Property bag persistence
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ComponentsConfig locates the widget directories.
type ComponentsConfig struct {
	Dir         string `yaml:"dir"`          // root with one subdirectory per widget
	UserDataDir string `yaml:"user_data_dir"` // per-widget default.properties overrides
	LayoutsDir  string `yaml:"layouts_dir"`  // persisted *.layout.json files
	StateDir    string `yaml:"state_dir"`    // logs, database
}

// BindingConfig configures the binding resolver.
type BindingConfig struct {
	Debounce string `yaml:"debounce"`
}

// StoreConfig configures property bag persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the default configuration rooted at the working directory.
func DefaultConfig() *Config {
	return &Config{
		Name:    "widgetrt",
		Version: "0.4.0",

		Components: ComponentsConfig{
			Dir:         "widgets",
			UserDataDir: filepath.Join(".widgetrt", "user"),
			LayoutsDir:  "layouts",
			StateDir:    ".widgetrt",
		},

		Pipeline: PipelineConfig{
			Debounce:       "300ms",
			Workers:        0, // derived from NumCPU
			CompileTimeout: "2m",
			Go: GoToolchainConfig{
				Binary:         "go",
				HostModule:     "widgetrt",
				HostModuleRoot: "",
				BuildFlags:     []string{"-trimpath"},
			},
			Script: ScriptToolchainConfig{
				Enabled: true,
			},
		},

		Binding: BindingConfig{
			Debounce: "100ms",
		},

		Store: StoreConfig{
			DatabasePath: filepath.Join(".widgetrt", "widgets.db"),
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
		},
	}
}

// Load reads config from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the config to path as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("WIDGETRT_COMPONENTS_DIR"); dir != "" {
		c.Components.Dir = dir
	}
	if dir := os.Getenv("WIDGETRT_USERDATA_DIR"); dir != "" {
		c.Components.UserDataDir = dir
	}
	if dir := os.Getenv("WIDGETRT_STATE_DIR"); dir != "" {
		c.Components.StateDir = dir
	}
	if path := os.Getenv("WIDGETRT_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if n := os.Getenv("WIDGETRT_WORKERS"); n != "" {
		if workers, err := strconv.Atoi(n); err == nil {
			c.Pipeline.Workers = workers
		}
	}
	if root := os.Getenv("WIDGETRT_HOST_MODULE_ROOT"); root != "" {
		c.Pipeline.Go.HostModuleRoot = root
	}
	if os.Getenv("WIDGETRT_DEBUG") == "1" {
		c.Logging.DebugMode = true
	}
}

// GetPipelineDebounce returns the source-change debounce window.
func (c *Config) GetPipelineDebounce() time.Duration {
	return parseDuration(c.Pipeline.Debounce, 300*time.Millisecond)
}

// GetCompileTimeout returns the per-compile timeout.
func (c *Config) GetCompileTimeout() time.Duration {
	return parseDuration(c.Pipeline.CompileTimeout, 2*time.Minute)
}

// GetBindingDebounce returns the reconciliation debounce window.
func (c *Config) GetBindingDebounce() time.Duration {
	return parseDuration(c.Binding.Debounce, 100*time.Millisecond)
}

// GetWorkers returns the compile pool size: configured, else NumCPU/4, at least 1.
func (c *Config) GetWorkers() int {
	if c.Pipeline.Workers > 0 {
		return c.Pipeline.Workers
	}
	return max(1, runtime.NumCPU()/4)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Components.Dir == "" {
		return fmt.Errorf("components.dir must be set")
	}
	if c.Components.StateDir == "" {
		return fmt.Errorf("components.state_dir must be set")
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must not be negative: %d", c.Pipeline.Workers)
	}
	for _, name := range c.Selection.Preferred {
		for _, ignored := range c.Selection.Ignored {
			if name == ignored {
				return fmt.Errorf("widget %q is both preferred and ignored", name)
			}
		}
	}
	return nil
}
