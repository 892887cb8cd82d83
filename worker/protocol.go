// Package worker runs a single leaf task in a separate process and speaks the
// message protocol between the runner and that process.
//
// The runner writes exactly one Run message to the worker. The worker answers
// with any number of ReportMessage messages followed by exactly one terminal
// message, either a Completion or an Exception. Messages are JSON objects,
// one per line, discriminated by their "type" field.
package worker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ethereum-optimism/infra/op-taskrunner/coverage"
	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

const (
	TypeRun           = "run"
	TypeReportMessage = "reportMessage"
	TypeCompletion    = "completion"
	TypeException     = "exception"
)

// ErrMalformedMessage is returned by the Decoder for lines that are not a
// valid protocol message.
var ErrMalformedMessage = errors.New("malformed worker message")

// Message is one of *Run, *ReportMessage, *Completion or *Exception.
type Message interface {
	messageType() string
}

// Run asks the worker to run one client.
type Run struct {
	Client           string                  `json:"client"`
	ParentID         string                  `json:"parentId"`
	GlobalConfig     types.GlobalConfig      `json:"globalConfig"`
	Configuration    map[string]any          `json:"configuration"`
	Decorators       []types.DecoratorConfig `json:"decorators"`
	DecoratorPlugins []string                `json:"decoratorPlugins,omitempty"` // decorator types the worker must know
	CoverageEnabled  bool                    `json:"coverageEnabled"`
	LogLevel         string                  `json:"logLevel"`
	Label            string                  `json:"label"`
}

// ReportMessage carries one report event published inside the worker.
type ReportMessage struct {
	Kind   string `json:"messageKind"`
	Params []any  `json:"data"`
}

// Completion ends a run that executed. Context describes the failure when
// Success is false.
type Completion struct {
	Success  bool         `json:"success"`
	Coverage coverage.Map `json:"coverage,omitempty"`
	Context  string       `json:"context,omitempty"`
}

// Exception ends a run that could not execute.
type Exception struct {
	Message string `json:"message"`
}

func (*Run) messageType() string           { return TypeRun }
func (*ReportMessage) messageType() string { return TypeReportMessage }
func (*Completion) messageType() string    { return TypeCompletion }
func (*Exception) messageType() string     { return TypeException }

// completionEnvelope nests the completion fields under "data" on the wire.
type completionEnvelope struct {
	Data *Completion `json:"data"`
}

// Encoder writes messages as JSON lines. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(m Message) error {
	var payload any = m
	if c, ok := m.(*Completion); ok {
		payload = completionEnvelope{Data: c}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", m.messageType(), err)
	}
	line, err := sjson.SetBytes(body, "type", m.messageType())
	if err != nil {
		return fmt.Errorf("failed to tag %s message: %w", m.messageType(), err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(line)
	return err
}

// Decoder reads JSON line messages.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &Decoder{scanner: scanner}
}

// Decode returns the next message, or io.EOF once the stream is exhausted.
// Blank lines are skipped.
func (d *Decoder) Decode() (Message, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		return decodeLine(line)
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func decodeLine(line []byte) (Message, error) {
	if !gjson.ValidBytes(line) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedMessage)
	}
	typ := gjson.GetBytes(line, "type")
	if !typ.Exists() {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	var (
		msg    Message
		target any
	)
	switch typ.String() {
	case TypeRun:
		r := &Run{}
		msg, target = r, r
	case TypeReportMessage:
		r := &ReportMessage{}
		msg, target = r, r
	case TypeCompletion:
		data := gjson.GetBytes(line, "data")
		if !data.IsObject() {
			return nil, fmt.Errorf("%w: completion without data", ErrMalformedMessage)
		}
		if success := data.Get("success"); success.Type != gjson.True && success.Type != gjson.False {
			return nil, fmt.Errorf("%w: completion without data.success", ErrMalformedMessage)
		}
		c := &Completion{}
		msg, target = c, &completionEnvelope{Data: c}
	case TypeException:
		e := &Exception{}
		msg, target = e, e
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, typ.String())
	}
	if err := json.Unmarshal(line, target); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, typ.String(), err)
	}
	return msg, nil
}
