package decorator

import "github.com/ethereum/go-ethereum/log"

// DefaultChain returns the built-in decorators in registration order.
func DefaultChain(logger log.Logger, workDir string) []Decorator {
	return []Decorator{
		Group{},
		Discover{WorkDir: workDir},
		Identifier{},
		Legacy{Log: logger},
	}
}
