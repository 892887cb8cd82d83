package types

// Descriptor keys shared by the normalizer, the task nodes and the task file.
const (
	KeyTaskID        = "taskId"
	KeyType          = "type"
	KeyName          = "name"
	KeyTitle         = "title"
	KeySuite         = "suite"
	KeyActive        = "active"
	KeyBail          = "bail"
	KeyFailOnError   = "failOnError"
	KeyEchoStdOut    = "echoStdOut"
	KeyEchoStdErr    = "echoStdErr"
	KeyReport        = "report"
	KeyCoverage      = "coverage"
	KeyDebug         = "debug"
	KeyVerbose       = "verbose"
	KeyConfiguration = "configuration"
	KeyDecorators    = "decorators"
)

// Descriptor is a task entry in canonical form. It stays map-backed so that
// effective options can be merged key by key with defaults and shared values.
type Descriptor map[string]any

func (d Descriptor) TaskID() string { return d.str(KeyTaskID) }
func (d Descriptor) Type() string   { return d.str(KeyType) }
func (d Descriptor) Name() string   { return d.str(KeyName) }
func (d Descriptor) Title() string  { return d.str(KeyTitle) }

// Configuration returns the task-specific configuration map, or nil.
func (d Descriptor) Configuration() map[string]any {
	cfg, _ := d[KeyConfiguration].(map[string]any)
	return cfg
}

// Has reports whether the descriptor sets key explicitly.
func (d Descriptor) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	return Descriptor(CopyMap(d))
}

func (d Descriptor) str(key string) string {
	s, _ := d[key].(string)
	return s
}

// CopyMap deep-copies the map and list values produced by YAML and JSON
// decoding. Other values are shared.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}

// CopyValue deep-copies v when it is a map or a list.
func CopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyMap(val)
	case Descriptor:
		return CopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CopyValue(item)
		}
		return out
	default:
		return v
	}
}
