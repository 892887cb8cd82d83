package taskrunner

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-taskrunner/report"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

// RunResult is the outcome of one run of the task tree.
type RunResult struct {
	RunID    string
	Tests    *report.RunResult
	Coverage string // path of the written coverage map, if any
	Err      error  // failure returned by the root task
}

// Failed reports whether the run bailed. Failures swallowed by a
// non-bailing task only show up in Tests.
func (r *RunResult) Failed() bool {
	return r.Err != nil
}

// Status folds the task outcome into the test status for display.
func (r *RunResult) Status() types.TestStatus {
	if r.Err != nil {
		return types.TestStatusFail
	}
	return r.Tests.Status
}

func (r *RunResult) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Task Run Results (%s):\n", formatDuration(r.Tests.Duration)))
	b.WriteString(fmt.Sprintf("Total: %d, Passed: %d, Failed: %d, Errored: %d, Skipped: %d\n",
		r.Tests.Stats.Total, r.Tests.Stats.Passed, r.Tests.Stats.Failed, r.Tests.Stats.Errored, r.Tests.Stats.Skipped))
	if r.Err != nil {
		b.WriteString(fmt.Sprintf("Error: %v\n", r.Err))
	}
	if r.Coverage != "" {
		b.WriteString(fmt.Sprintf("Coverage: %s\n", r.Coverage))
	}
	return b.String()
}

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(result *RunResult) error
}

// ConsoleResultFormatter renders the suite and test tree as a table.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

func (f *ConsoleResultFormatter) FormatResults(result *RunResult) error {
	f.logger.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle(fmt.Sprintf("Task Runner Results (%s)", formatDuration(result.Tests.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, suite := range result.Tests.Suites {
		appendSuite(t, suite, "")
		t.AppendSeparator()
	}
	for i, test := range result.Tests.Tests {
		appendTest(t, "Test", test, treePrefix("", i == len(result.Tests.Tests)-1))
	}

	switch result.Status() {
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.TestStatusSkip:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	stats := result.Tests.Stats
	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Tests.Duration),
		stats.Total,
		stats.Passed,
		stats.Failed + stats.Errored,
		stats.Skipped,
		getResultString(result.Status()),
		errorString(result.Err),
	})

	t.Render()
	_, err := fmt.Fprintln(f.out, result.String())
	return err
}

func appendSuite(t table.Writer, s *report.SuiteResult, indent string) {
	t.AppendRow(table.Row{
		"Suite",
		indent + s.Title,
		formatDuration(s.Duration),
		"-", // suites are not tests
		s.Stats.Passed,
		s.Stats.Failed + s.Stats.Errored,
		s.Stats.Skipped,
		getResultString(s.Status),
		"",
	})
	childIndent := strings.NewReplacer("├─", "│ ", "└─", "  ").Replace(indent)
	last := len(s.Suites) + len(s.Tests) - 1
	n := 0
	for _, child := range s.Suites {
		appendSuite(t, child, treePrefix(childIndent, n == last))
		n++
	}
	for _, test := range s.Tests {
		appendTest(t, "Test", test, treePrefix(childIndent, n == last))
		n++
	}
}

func appendTest(t table.Writer, kind string, test *report.TestResult, prefix string) {
	t.AppendRow(table.Row{
		kind,
		prefix + test.Title,
		formatDuration(test.Duration),
		"1",
		boolToInt(test.Status == types.TestStatusPass),
		boolToInt(test.Status.Failed()),
		boolToInt(test.Status == types.TestStatusSkip),
		getResultString(test.Status),
		test.Message,
	})
	childIndent := strings.NewReplacer("├─", "│ ", "└─", "  ").Replace(prefix)
	for i, sub := range test.SubTests {
		appendTest(t, "", sub, treePrefix(childIndent, i == len(test.SubTests)-1))
	}
}

func treePrefix(indent string, last bool) string {
	if last {
		return indent + "└─ "
	}
	return indent + "├─ "
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	case types.TestStatusRunning, types.TestStatusIncomplete:
		return "… incomplete"
	case types.TestStatusUndefined:
		return "? undefined"
	default:
		return "✗ fail"
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
