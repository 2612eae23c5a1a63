package config

// PipelineConfig configures the hot-reload compilation pipeline.
type PipelineConfig struct {
	Debounce       string `yaml:"debounce" json:"debounce,omitempty"`               // e.g. "300ms"
	Workers        int    `yaml:"workers" json:"workers,omitempty"`                 // 0 = NumCPU/4, min 1
	CompileTimeout string `yaml:"compile_timeout" json:"compile_timeout,omitempty"` // per compile

	Go     GoToolchainConfig     `yaml:"go" json:"go"`
	Script ScriptToolchainConfig `yaml:"script" json:"script"`
}

// GoToolchainConfig configures `go build -buildmode=plugin` invocations.
type GoToolchainConfig struct {
	Binary         string   `yaml:"binary" json:"binary,omitempty"`                     // go executable
	HostModule     string   `yaml:"host_module" json:"host_module,omitempty"`           // module path widgets import
	HostModuleRoot string   `yaml:"host_module_root" json:"host_module_root,omitempty"` // local source of the host module
	BuildFlags     []string `yaml:"build_flags" json:"build_flags,omitempty"`
	Env            []string `yaml:"env" json:"env,omitempty"`
}

// ScriptToolchainConfig configures interpreted (.gox) widgets.
type ScriptToolchainConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}
