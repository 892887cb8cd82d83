package types

// CoverageConfig controls coverage collection for the whole run.
type CoverageConfig struct {
	Active   bool     `yaml:"active" json:"active"`
	Root     string   `yaml:"root" json:"root,omitempty"`         // prefix trimmed from file names before matching
	Path     string   `yaml:"path" json:"path,omitempty"`         // output directory
	Includes []string `yaml:"includes" json:"includes,omitempty"` // glob patterns, empty means everything
	Excludes []string `yaml:"excludes" json:"excludes,omitempty"`
}

// GlobalConfig holds the run-wide settings. It is shipped to every worker.
type GlobalConfig struct {
	Verbose      bool           `yaml:"verbose" json:"verbose"`
	Debug        bool           `yaml:"debug" json:"debug"`
	IgnoreErrors bool           `yaml:"ignoreErrors" json:"ignoreErrors"`
	Coverage     CoverageConfig `yaml:"coverage" json:"coverage"`
}

// DefaultGlobalConfig returns the settings used when the task file omits them.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		Coverage: CoverageConfig{
			Path:     "./coverage",
			Excludes: []string{"vendor/**", "**/*_test.go"},
		},
	}
}
