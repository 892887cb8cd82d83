package decorator

import (
	"github.com/ethereum/go-ethereum/log"
)

// renamed maps deprecated descriptor keys to their replacement.
var renamed = map[string]string{
	"decorator": "decorators",
}

// Legacy moves deprecated keys to their current name.
type Legacy struct {
	Log log.Logger
}

func (Legacy) Name() string { return "legacy" }

func (l Legacy) Decorate(entry any, _ int) ([]any, error) {
	m, ok := asMap(entry)
	if !ok {
		return nil, nil
	}
	for old, current := range renamed {
		v, present := m[old]
		if !present {
			continue
		}
		delete(m, old)
		if _, exists := m[current]; !exists {
			m[current] = v
		}
		if l.Log != nil {
			l.Log.Warn("Deprecated task option, please update the configuration",
				"option", old, "replacement", current, "task", m["name"])
		}
	}
	return nil, nil
}
