package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-taskrunner/client"
	"github.com/ethereum-optimism/infra/op-taskrunner/coverage"
	"github.com/ethereum-optimism/infra/op-taskrunner/report"
)

type clientFunc func(ctx context.Context, parentID string) error

func (f clientFunc) Run(ctx context.Context, parentID string) error { return f(ctx, parentID) }

// testClients is shared by the in-memory Serve tests and the helper worker
// process started by the launcher tests.
func testClients() *client.Registry {
	r := client.DefaultRegistry()
	register := func(name string, body func(b *client.Base, ctx context.Context, parentID string) error) {
		r.RegisterClient(name, func(b *client.Base) (client.Client, error) {
			return clientFunc(func(ctx context.Context, parentID string) error {
				return b.Execute(ctx, func(ctx context.Context) error { return body(b, ctx, parentID) })
			}), nil
		})
	}

	register("ok", func(b *client.Base, _ context.Context, parentID string) error {
		b.Message().TestStart("t1", parentID, "works")
		b.Message().TestPassed("t1")
		fmt.Fprintln(b.Stdout, "hello from worker")
		if b.Coverage != nil {
			b.Coverage.Record(coverage.Map{"a.go": {Statements: map[string]int64{"1.1,2.2": 1}}})
		}
		return nil
	})
	register("fail", func(b *client.Base, _ context.Context, _ string) error {
		if b.Coverage != nil {
			b.Coverage.Record(coverage.Map{"b.go": {Statements: map[string]int64{"1.1,2.2": 3}}})
		}
		return errors.New("assertion failed")
	})
	register("panic", func(*client.Base, context.Context, string) error {
		panic("kaboom")
	})
	register("crash", func(*client.Base, context.Context, string) error {
		os.Exit(3)
		return nil
	})
	register("garbage", func(*client.Base, context.Context, string) error {
		out := os.NewFile(OutFD, "raw")
		_, err := out.WriteString("this is not a message\n")
		return err
	})
	register("bogus-kind", func(*client.Base, context.Context, string) error {
		out := os.NewFile(OutFD, "raw")
		_, err := out.WriteString(`{"type":"reportMessage","messageKind":"bogus","data":[]}` + "\n")
		return err
	})
	register("wait", func(b *client.Base, ctx context.Context, parentID string) error {
		b.Message().ItemMessage(parentID, "ready")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Minute):
			return errors.New("never interrupted")
		}
	})
	return r
}

func serveOnce(t *testing.T, in Message) []Message {
	t.Helper()
	var input, output bytes.Buffer
	require.NoError(t, NewEncoder(&input).Encode(in))

	require.NoError(t, Serve(context.Background(), &input, &output, testClients(), io.Discard, io.Discard))

	var msgs []Message
	dec := NewDecoder(&output)
	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return msgs
		}
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
}

func TestServe_Success(t *testing.T) {
	msgs := serveOnce(t, &Run{Client: "ok", ParentID: "group-1", CoverageEnabled: true})

	require.Len(t, msgs, 3, "client start and stop are not forwarded")
	assert.Equal(t, &ReportMessage{Kind: string(report.KindTestStart), Params: []any{"t1", "group-1", "works"}}, msgs[0])
	assert.Equal(t, &ReportMessage{Kind: string(report.KindTestPassed), Params: []any{"t1"}}, msgs[1])

	completion, ok := msgs[2].(*Completion)
	require.True(t, ok)
	assert.True(t, completion.Success)
	assert.Equal(t, int64(1), completion.Coverage["a.go"].Statements["1.1,2.2"])
}

func TestServe_CoverageOnlyWhenEnabled(t *testing.T) {
	msgs := serveOnce(t, &Run{Client: "ok"})
	completion := msgs[len(msgs)-1].(*Completion)
	assert.True(t, completion.Success)
	assert.Nil(t, completion.Coverage)
}

func TestServe_FailedClientCompletes(t *testing.T) {
	msgs := serveOnce(t, &Run{Client: "fail", CoverageEnabled: true})

	require.Len(t, msgs, 1)
	completion, ok := msgs[0].(*Completion)
	require.True(t, ok)
	assert.False(t, completion.Success)
	assert.Equal(t, "assertion failed", completion.Context)
	assert.Equal(t, int64(3), completion.Coverage["b.go"].Statements["1.1,2.2"])
}

func TestServe_Exceptions(t *testing.T) {
	tests := []struct {
		name    string
		in      Message
		message string
	}{
		{name: "panic", in: &Run{Client: "panic"}, message: "client panicked: kaboom"},
		{name: "unknown client", in: &Run{Client: "nope"}, message: `unknown client "nope"`},
		{name: "bad client configuration", in: &Run{Client: "command"}, message: "cmd cannot be empty"},
		{name: "missing decorator", in: &Run{Client: "ok", DecoratorPlugins: []string{"junit"}}, message: `client decorator "junit" is not available`},
		{name: "not a run", in: &Exception{Message: "hi"}, message: "expected a run message, got exception"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := serveOnce(t, tt.in)
			require.Len(t, msgs, 1)
			exc, ok := msgs[0].(*Exception)
			require.True(t, ok, "got %T", msgs[0])
			assert.Contains(t, exc.Message, tt.message)
		})
	}
}

func TestServe_EmptyInput(t *testing.T) {
	var output bytes.Buffer
	err := Serve(context.Background(), &bytes.Buffer{}, &output, testClients(), io.Discard, io.Discard)
	require.ErrorIs(t, err, io.EOF)

	msg, decErr := NewDecoder(&output).Decode()
	require.NoError(t, decErr)
	assert.IsType(t, &Exception{}, msg)
}

func TestServe_OverPipes(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)
	go func() {
		err := Serve(context.Background(), inR, outW, testClients(), io.Discard, io.Discard)
		outW.Close()
		done <- err
	}()

	require.NoError(t, NewEncoder(inW).Encode(&Run{Client: "ok", ParentID: "p"}))

	dec := NewDecoder(outR)
	var kinds []string
	for {
		msg, err := dec.Decode()
		require.NoError(t, err)
		if rm, ok := msg.(*ReportMessage); ok {
			kinds = append(kinds, rm.Kind)
			continue
		}
		require.IsType(t, &Completion{}, msg)
		break
	}
	assert.Equal(t, []string{"testStart", "testPassed"}, kinds)
	require.NoError(t, <-done)
	inW.Close()
}
