package report

import (
	"sort"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/tidwall/gjson"
)

const (
	// LinePrefix marks an output line carrying an embedded report message:
	//   #TASKRUNNER# {"messageKind": "testStart", "params": ["t1", "#TASK#", "title"]}
	LinePrefix = "#TASKRUNNER#"

	// TaskPlaceholder is replaced by the parent id of the running task.
	TaskPlaceholder = "#TASK#"
)

// Placeholders returns the substitutions applied to the output of a task
// running under parentID.
func Placeholders(parentID string) map[string]string {
	return map[string]string{TaskPlaceholder: parentID}
}

// Parse substitutes placeholders in text, publishes the embedded report
// lines it contains and returns the remaining text.
func (b *Bus) Parse(text string, placeholders map[string]string) string {
	r := newReplacer(placeholders)
	var out strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		if rest, keep := b.parseLine(line, r); keep {
			out.WriteString(rest)
		}
	}
	return out.String()
}

// ParseLine is Parse for a single line without its terminator. keep is
// false when the line was an embedded report message.
func (b *Bus) ParseLine(line string, placeholders map[string]string) (string, bool) {
	return b.parseLine(line, newReplacer(placeholders))
}

func (b *Bus) parseLine(line string, r *strings.Replacer) (string, bool) {
	replaced := r.Replace(line)
	clean := strings.TrimSpace(stripansi.Strip(replaced))
	if !strings.HasPrefix(clean, LinePrefix) {
		return replaced, true
	}
	payload := strings.TrimSpace(strings.TrimPrefix(clean, LinePrefix))
	if !gjson.Valid(payload) {
		return replaced, true
	}
	kind := gjson.Get(payload, "messageKind").String()
	var params []any
	if p := gjson.Get(payload, "params"); p.IsArray() {
		params, _ = p.Value().([]any)
	}
	if err := b.Process(kind, params); err != nil {
		return replaced, true
	}
	return "", false
}

func newReplacer(placeholders map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(placeholders))
	for k := range placeholders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, placeholders[k])
	}
	return strings.NewReplacer(pairs...)
}
