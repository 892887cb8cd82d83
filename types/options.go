package types

import "fmt"

// DecoratorConfig attaches a client decorator to a leaf task.
type DecoratorConfig struct {
	Type          string         `json:"type"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// Options is the validated, effective view of a task descriptor after the
// defaults, the shared values and the descriptor itself have been merged.
type Options struct {
	TaskID string
	Type   string
	Name   string
	Title  string

	Suite       bool // wrap the run in suiteStart/suiteEnd events
	Active      bool // inactive tasks succeed without running
	Bail        bool // groups: first child failure fails the group
	FailOnError bool // leaves: a failed run fails the task
	EchoStdOut  bool
	EchoStdErr  bool
	Report      bool // forward worker report events to the bus
	Coverage    bool // merge worker coverage into the aggregator
	Debug       bool // run workers in-process
	Verbose     bool

	Configuration map[string]any
	Decorators    []DecoratorConfig
}

// Label identifies the task in logs.
func (o *Options) Label() string {
	return o.Name + "-" + o.TaskID
}

// DefaultTask returns the built-in defaults every descriptor is merged onto.
// A fresh map is returned on each call so callers may merge into it.
func DefaultTask() map[string]any {
	return map[string]any{
		KeyConfiguration: map[string]any{},
		KeyDecorators:    []any{},
		KeyActive:        true,
		KeySuite:         false,
		KeyBail:          true,
		KeyFailOnError:   true,
		KeyEchoStdOut:    false,
		KeyEchoStdErr:    false,
		KeyReport:        true,
		KeyCoverage:      true,
		KeyDebug:         false,
		KeyVerbose:       false,
	}
}

// DecodeOptions validates a merged option map. The error names the first
// field that has the wrong shape, in declaration order.
func DecodeOptions(m map[string]any) (*Options, error) {
	o := &Options{}

	strs := []struct {
		key string
		dst *string
	}{
		{KeyTaskID, &o.TaskID},
		{KeyType, &o.Type},
		{KeyName, &o.Name},
		{KeyTitle, &o.Title},
	}
	for _, s := range strs {
		v, ok := m[s.key].(string)
		if !ok {
			return nil, NewConfigError(s.key, "is not a string")
		}
		*s.dst = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{KeySuite, &o.Suite},
		{KeyActive, &o.Active},
		{KeyBail, &o.Bail},
		{KeyFailOnError, &o.FailOnError},
		{KeyEchoStdOut, &o.EchoStdOut},
		{KeyEchoStdErr, &o.EchoStdErr},
		{KeyReport, &o.Report},
		{KeyCoverage, &o.Coverage},
		{KeyDebug, &o.Debug},
		{KeyVerbose, &o.Verbose},
	}
	for _, b := range bools {
		v, ok := m[b.key].(bool)
		if !ok {
			return nil, NewConfigError(b.key, "is not a boolean")
		}
		*b.dst = v
	}

	cfg, ok := m[KeyConfiguration].(map[string]any)
	if !ok {
		return nil, NewConfigError(KeyConfiguration, "is not an object")
	}
	o.Configuration = cfg

	decorators, err := decodeDecorators(m[KeyDecorators])
	if err != nil {
		return nil, err
	}
	o.Decorators = decorators

	return o, nil
}

func decodeDecorators(v any) ([]DecoratorConfig, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, NewConfigError(KeyDecorators, "is not an array")
	}
	out := make([]DecoratorConfig, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, NewConfigError(fmt.Sprintf("%s[%d]", KeyDecorators, i), "is not an object")
		}
		typ, ok := entry[KeyType].(string)
		if !ok || typ == "" {
			return nil, NewConfigError(fmt.Sprintf("%s[%d].%s", KeyDecorators, i, KeyType), "is not a string")
		}
		dc := DecoratorConfig{Type: typ}
		if raw, present := entry[KeyConfiguration]; present && raw != nil {
			cfg, ok := raw.(map[string]any)
			if !ok {
				return nil, NewConfigError(fmt.Sprintf("%s[%d].%s", KeyDecorators, i, KeyConfiguration), "is not an object")
			}
			dc.Configuration = cfg
		}
		out = append(out, dc)
	}
	return out, nil
}
