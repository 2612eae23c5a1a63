package config

// SelectionConfig lists widget display names given priority during discovery
// and widget display names never created automatically.
type SelectionConfig struct {
	Preferred []string `yaml:"preferred" json:"preferred,omitempty"`
	Ignored   []string `yaml:"ignored" json:"ignored,omitempty"`
}
