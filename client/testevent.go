package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-taskrunner/report"
)

// TestEvent represents a test event from go test -json output
type TestEvent struct {
	Time    time.Time
	Action  string
	Package string
	Test    string
	Elapsed float64
	Output  string
}

// TestHooks is called around every converted test. Base implements it.
type TestHooks interface {
	ProcessBeforeTest(ctx context.Context, test TestInfo) error
	ProcessAfterTest(ctx context.Context, test TestInfo) error
}

// TestSummary counts the tests seen in a go test -json stream.
type TestSummary struct {
	Passed         int
	Failed         int
	Skipped        int
	Incomplete     int
	FailedPackages []string
}

// ConvertTestEvents reads a go test -json stream and publishes one report
// test per Go test. Subtests are reported below their parent test, top-level
// tests below parentID. Lines that are not test events are written to
// passthrough when it is not nil.
func ConvertTestEvents(ctx context.Context, r io.Reader, msg report.Message, parentID string, hooks TestHooks, passthrough io.Writer) (*TestSummary, error) {
	c := &eventConverter{
		msg:      msg,
		parentID: parentID,
		hooks:    hooks,
		tests:    make(map[string]*runningTest),
		summary:  &TestSummary{},
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var ev TestEvent
		if len(line) == 0 || line[0] != '{' || json.Unmarshal(line, &ev) != nil || ev.Action == "" {
			if passthrough != nil {
				fmt.Fprintf(passthrough, "%s\n", line)
			}
			continue
		}
		if err := c.handle(ctx, ev); err != nil {
			return c.summary, err
		}
	}
	c.finishDangling()
	if err := scanner.Err(); err != nil {
		return c.summary, fmt.Errorf("failed to read test events: %w", err)
	}
	return c.summary, nil
}

type runningTest struct {
	info   TestInfo
	output strings.Builder
}

type eventConverter struct {
	msg      report.Message
	parentID string
	hooks    TestHooks
	tests    map[string]*runningTest
	order    []string
	summary  *TestSummary
}

func testKey(pkg, test string) string {
	return pkg + "::" + test
}

func (c *eventConverter) handle(ctx context.Context, ev TestEvent) error {
	if ev.Test == "" {
		if ev.Action == "fail" {
			c.summary.FailedPackages = append(c.summary.FailedPackages, ev.Package)
		}
		return nil
	}

	key := testKey(ev.Package, ev.Test)
	switch ev.Action {
	case "run":
		parent := c.parentID
		if i := strings.LastIndex(ev.Test, "/"); i > 0 {
			if p, ok := c.tests[testKey(ev.Package, ev.Test[:i])]; ok {
				parent = p.info.ID
			}
		}
		t := &runningTest{info: TestInfo{
			ID:       "test-" + uuid.New().String(),
			ParentID: parent,
			Title:    ev.Test,
		}}
		c.tests[key] = t
		c.order = append(c.order, key)
		if c.hooks != nil {
			if err := c.hooks.ProcessBeforeTest(ctx, t.info); err != nil {
				return fmt.Errorf("processBeforeTest hook failed for %s: %w", ev.Test, err)
			}
		}
		c.msg.TestStart(t.info.ID, t.info.ParentID, t.info.Title)

	case "output":
		if t, ok := c.tests[key]; ok {
			t.output.WriteString(ev.Output)
		}

	case "pass", "fail", "skip":
		t, ok := c.tests[key]
		if !ok {
			return nil
		}
		delete(c.tests, key)
		output := strings.TrimSpace(t.output.String())
		switch ev.Action {
		case "pass":
			c.summary.Passed++
			c.msg.TestPassed(t.info.ID)
		case "fail":
			c.summary.Failed++
			c.msg.TestFailed(t.info.ID, output, "")
		case "skip":
			c.summary.Skipped++
			c.msg.TestSkipped(t.info.ID, output)
		}
		if c.hooks != nil {
			if err := c.hooks.ProcessAfterTest(ctx, t.info); err != nil {
				return fmt.Errorf("processAfterTest hook failed for %s: %w", ev.Test, err)
			}
		}
	}
	return nil
}

// finishDangling reports tests that started but never finished, which
// happens when the test binary panics or times out.
func (c *eventConverter) finishDangling() {
	for _, key := range c.order {
		t, ok := c.tests[key]
		if !ok {
			continue
		}
		delete(c.tests, key)
		c.summary.Incomplete++
		c.msg.TestIncomplete(t.info.ID)
	}
}
