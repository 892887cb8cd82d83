package coverage

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Filter selects the files kept in a coverage map.
type Filter struct {
	root     string
	includes []glob.Glob
	excludes []glob.Glob
}

// NewFilter compiles the include and exclude patterns. Files are matched
// after root has been trimmed from their name. No includes means every file
// is included.
func NewFilter(root string, includes, excludes []string) (*Filter, error) {
	f := &Filter{root: strings.TrimSuffix(root, "/")}
	var err error
	if f.includes, err = compileAll(includes); err != nil {
		return nil, err
	}
	if f.excludes, err = compileAll(excludes); err != nil {
		return nil, err
	}
	return f, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid coverage pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Match reports whether file is kept.
func (f *Filter) Match(file string) bool {
	name := file
	if f.root != "" {
		name = strings.TrimPrefix(strings.TrimPrefix(name, f.root), "/")
	}
	if len(f.includes) > 0 && !matchAny(f.includes, name) {
		return false
	}
	return !matchAny(f.excludes, name)
}

// Apply returns the subset of m whose files match.
func (f *Filter) Apply(m Map) Map {
	out := make(Map, len(m))
	for file, fc := range m {
		if f.Match(file) {
			out[file] = fc
		}
	}
	return out
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
