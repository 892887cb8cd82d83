// Package coverage merges per-execution coverage maps into a run total.
package coverage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileName is the file WriteJSON creates inside the coverage directory.
const FileName = "coverage.json"

// FileCoverage holds the hit counters of a single file, keyed by position.
type FileCoverage struct {
	Statements map[string]int64   `json:"s,omitempty"`
	Branches   map[string][]int64 `json:"b,omitempty"`
	Functions  map[string]int64   `json:"f,omitempty"`
}

// Map maps a file identifier to its counters.
type Map map[string]*FileCoverage

// Merge returns the positional sum of a and b. Neither input is modified.
func Merge(a, b Map) Map {
	out := a.Clone()
	if out == nil {
		out = Map{}
	}
	out.merge(b)
	return out
}

// Clone returns a deep copy of m without its nil entries.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for file, fc := range m {
		if fc == nil {
			continue
		}
		out[file] = fc.clone()
	}
	return out
}

// Files returns the file identifiers in sorted order.
func (m Map) Files() []string {
	files := make([]string, 0, len(m))
	for file := range m {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

func (m Map) merge(src Map) {
	for file, fc := range src {
		if fc == nil {
			continue
		}
		existing, ok := m[file]
		if !ok || existing == nil {
			m[file] = fc.clone()
			continue
		}
		existing.add(fc)
	}
}

func (fc *FileCoverage) clone() *FileCoverage {
	if fc == nil {
		return nil
	}
	out := &FileCoverage{
		Statements: cloneCounters(fc.Statements),
		Functions:  cloneCounters(fc.Functions),
	}
	if fc.Branches != nil {
		out.Branches = make(map[string][]int64, len(fc.Branches))
		for k, v := range fc.Branches {
			out.Branches[k] = append([]int64(nil), v...)
		}
	}
	return out
}

func (fc *FileCoverage) add(src *FileCoverage) {
	fc.Statements = addCounters(fc.Statements, src.Statements)
	fc.Functions = addCounters(fc.Functions, src.Functions)
	if src.Branches == nil {
		return
	}
	if fc.Branches == nil {
		fc.Branches = make(map[string][]int64, len(src.Branches))
	}
	for k, v := range src.Branches {
		fc.Branches[k] = addBranch(fc.Branches[k], v)
	}
}

func cloneCounters(src map[string]int64) map[string]int64 {
	if src == nil {
		return nil
	}
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func addCounters(dst, src map[string]int64) map[string]int64 {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = make(map[string]int64, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

// addBranch sums two branch arms positionally. The shorter one is padded
// with zero hits.
func addBranch(a, b []int64) []int64 {
	n := max(len(a), len(b))
	out := make([]int64, n)
	copy(out, a)
	for i, v := range b {
		out[i] += v
	}
	return out
}

// WriteJSON writes m to dir/coverage.json, creating dir when needed.
func WriteJSON(dir string, m Map) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create coverage directory: %w", err)
	}
	if m == nil {
		m = Map{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode coverage: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write coverage: %w", err)
	}
	return path, nil
}
