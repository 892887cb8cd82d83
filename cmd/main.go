package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	taskrunner "github.com/ethereum-optimism/infra/op-taskrunner"
	"github.com/ethereum-optimism/infra/op-taskrunner/client"
	"github.com/ethereum-optimism/infra/op-taskrunner/exitcodes"
	"github.com/ethereum-optimism/infra/op-taskrunner/flags"
	"github.com/ethereum-optimism/infra/op-taskrunner/service"
	"github.com/ethereum-optimism/infra/op-taskrunner/worker"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-taskrunner"
	app.Usage = "Hierarchical Task Runner"
	app.Description = "op-taskrunner runs a tree of tasks described in a YAML file, each leaf in its own worker"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.Commands = []*cli.Command{
		{
			Name:   worker.Command,
			Usage:  "serve a single task for a parent runner (internal)",
			Hidden: true,
			Action: func(ctx *cli.Context) error {
				return worker.ServeProcess(ctx.Context, client.DefaultRegistry())
			},
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
		}
	}

	ctx := ctxinterrupt.WithSignalWaiterMain(context.Background())
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := taskrunner.NewConfig(ctx, log)
	if err != nil {
		return nil, taskrunner.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, taskrunner.NewRuntimeError(fmt.Errorf("invalid metrics config: %w", err))
	}

	runner, err := taskrunner.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, taskrunner.NewRuntimeError(fmt.Errorf("failed to create runner: %w", err))
	}

	lc := &app{Lifecycle: runner}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, err := otelconfig.ConfigureOpenTelemetry(
			otelconfig.WithServiceName("op-taskrunner"),
			otelconfig.WithServiceVersion(Version),
		)
		if err != nil {
			return nil, taskrunner.NewRuntimeError(fmt.Errorf("failed to setup open telemetry: %w", err))
		}
		lc.otelShutdown = shutdown
	}
	if metricsCfg.Enabled {
		lc.svc = service.New(service.DefaultConfig(metricsCfg.ListenAddr, metricsCfg.ListenPort, log))
	}
	return lc, nil
}

// app ties the telemetry and the healthz/metrics servers to the runner's
// lifecycle. Workers never reach it, so they export nothing.
type app struct {
	cliapp.Lifecycle
	svc          *service.Service
	otelShutdown func()
}

func (a *app) Start(ctx context.Context) error {
	if a.svc != nil {
		a.svc.Start(ctx)
	}
	return a.Lifecycle.Start(ctx)
}

func (a *app) Stop(ctx context.Context) error {
	err := a.Lifecycle.Stop(ctx)
	if a.svc != nil {
		a.svc.Shutdown()
	}
	if a.otelShutdown != nil {
		a.otelShutdown()
	}
	return err
}
