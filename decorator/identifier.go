package decorator

import (
	"fmt"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// Identifier assigns "task_<index>" ids and defaults name and title.
type Identifier struct{}

func (Identifier) Name() string { return "identifier" }

func (Identifier) Decorate(entry any, index int) ([]any, error) {
	m, ok := asMap(entry)
	if !ok {
		return nil, nil
	}
	id := fmt.Sprintf("task_%d", index)
	m[types.KeyTaskID] = id
	if s, _ := m[types.KeyName].(string); s == "" {
		m[types.KeyName] = id
	}
	if s, _ := m[types.KeyTitle].(string); s == "" {
		m[types.KeyTitle] = m[types.KeyName]
	}
	return nil, nil
}
