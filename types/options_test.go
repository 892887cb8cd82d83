package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptionMap() map[string]any {
	m := DefaultTask()
	m[KeyTaskID] = "task_1"
	m[KeyType] = "shell"
	m[KeyName] = "build"
	m[KeyTitle] = "Build"
	return m
}

func TestDecodeOptions(t *testing.T) {
	m := validOptionMap()
	m[KeyDecorators] = []any{
		map[string]any{"type": "plain", "configuration": map[string]any{"level": "info"}},
	}

	opts, err := DecodeOptions(m)
	require.NoError(t, err)
	assert.Equal(t, "task_1", opts.TaskID)
	assert.Equal(t, "build-task_1", opts.Label())
	assert.True(t, opts.Active)
	assert.True(t, opts.FailOnError)
	assert.True(t, opts.Bail)
	assert.False(t, opts.Verbose)
	require.Len(t, opts.Decorators, 1)
	assert.Equal(t, "plain", opts.Decorators[0].Type)
	assert.Equal(t, "info", opts.Decorators[0].Configuration["level"])
}

func TestDecodeOptions_NamesFirstInvalidField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{
			name:   "missing task id",
			mutate: func(m map[string]any) { delete(m, KeyTaskID) },
			field:  KeyTaskID,
		},
		{
			name:   "title wrong type",
			mutate: func(m map[string]any) { m[KeyTitle] = 12 },
			field:  KeyTitle,
		},
		{
			name:   "suite not a boolean",
			mutate: func(m map[string]any) { m[KeySuite] = "yes" },
			field:  KeySuite,
		},
		{
			name: "first of several invalid fields",
			mutate: func(m map[string]any) {
				m[KeyVerbose] = 1
				m[KeyActive] = "no"
			},
			field: KeyActive,
		},
		{
			name:   "configuration not a map",
			mutate: func(m map[string]any) { m[KeyConfiguration] = []any{} },
			field:  KeyConfiguration,
		},
		{
			name:   "decorator without type",
			mutate: func(m map[string]any) { m[KeyDecorators] = []any{map[string]any{}} },
			field:  "decorators[0].type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validOptionMap()
			tt.mutate(m)
			_, err := DecodeOptions(m)
			require.Error(t, err)
			require.True(t, IsConfigError(err))
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestDescriptorClone(t *testing.T) {
	d := Descriptor{
		KeyType:          "group",
		KeyConfiguration: map[string]any{"tasks": []any{map[string]any{"type": "shell"}}},
	}
	c := d.Clone()
	c.Configuration()["tasks"].([]any)[0].(map[string]any)["type"] = "changed"

	assert.Equal(t, "shell", d.Configuration()["tasks"].([]any)[0].(map[string]any)["type"])
	assert.Equal(t, "group", c.Type())
	assert.True(t, c.Has(KeyConfiguration))
	assert.False(t, c.Has(KeyName))
}
