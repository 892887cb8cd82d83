package taskrunner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// TaskFile is the declarative description of a run.
//
//	configuration:      # global settings
//	  coverage:
//	    active: true
//	shared:             # defaults merged into every task
//	  echoStdOut: true
//	tasks:              # a task, a list (parallel) or a map of named suites
//	  unit:
//	    - type: gotest
//	      configuration: {package: ./...}
type TaskFile struct {
	Configuration types.GlobalConfig `yaml:"configuration"`
	Shared        map[string]any     `yaml:"shared"`
	Tasks         any                `yaml:"tasks"`
}

// LoadTaskFile reads and validates a task file.
func LoadTaskFile(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	tf, err := ParseTaskFile(data)
	if err != nil {
		return nil, fmt.Errorf("invalid task file %s: %w", path, err)
	}
	return tf, nil
}

// ParseTaskFile decodes a task file. Global settings absent from it keep
// their defaults.
func ParseTaskFile(data []byte) (*TaskFile, error) {
	tf := &TaskFile{Configuration: types.DefaultGlobalConfig()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(tf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("task file is empty")
		}
		return nil, err
	}
	if tf.Tasks == nil {
		return nil, types.NewConfigError("tasks", "must not be empty")
	}
	switch tasks := tf.Tasks.(type) {
	case []any:
		if len(tasks) == 0 {
			return nil, types.NewConfigError("tasks", "must not be empty")
		}
	case map[string]any:
		if len(tasks) == 0 {
			return nil, types.NewConfigError("tasks", "must not be empty")
		}
	default:
		return nil, types.ConfigErrorf("tasks must be a task, a list or a map, got %T", tf.Tasks)
	}
	return tf, nil
}

// Global returns the global settings of the file with the command line
// overrides of cfg applied.
func (tf *TaskFile) Global(cfg *Config) (types.GlobalConfig, error) {
	g := tf.Configuration
	g.Verbose = g.Verbose || cfg.Verbose
	g.Debug = g.Debug || cfg.Debug
	g.IgnoreErrors = g.IgnoreErrors || cfg.IgnoreErrors
	g.Coverage.Active = g.Coverage.Active || cfg.Coverage
	if cfg.CoverageDir != "" {
		g.Coverage.Path = cfg.CoverageDir
	}

	var err error
	if g.Coverage.Path, err = resolve(cfg.WorkDir, g.Coverage.Path); err != nil {
		return g, err
	}
	if g.Coverage.Root, err = resolve(cfg.WorkDir, g.Coverage.Root); err != nil {
		return g, err
	}
	return g, nil
}

func resolve(base, path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return path, nil
	}
	abs, err := filepath.Abs(filepath.Join(base, path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for '%s': %w", path, err)
	}
	return abs, nil
}
