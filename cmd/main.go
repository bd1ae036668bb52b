package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rail-service/payroll_relay/internal/infrastructure/config"
	"github.com/rail-service/payroll_relay/internal/infrastructure/di"
	"github.com/rail-service/payroll_relay/pkg/graceful"
	"github.com/rail-service/payroll_relay/pkg/logger"
	"github.com/rail-service/payroll_relay/pkg/tracing"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `Usage: payroll-relay [global flags] <command> [flags]

Commands:
  pay        run a payroll plan end to end
  attest     poll the attestation service for a source transaction
  deliver    relay a saved attestation artifact
  resume     continue a run from its source transaction hash
  set-route  commit a recipient route on the payroll contract
  get-route  read a recipient route from the payroll contract
  schedule   run plans on their cron schedules and serve the ops API
  serve      serve the ops API

Global flags:
`

// command runs with the container and the flags after the command name
type command func(ctx context.Context, c *di.Container, args []string, stdout io.Writer) error

var commands = map[string]command{
	"pay":       runPay,
	"attest":    runAttest,
	"deliver":   runDeliver,
	"resume":    runResume,
	"set-route": runSetRoute,
	"get-route": runGetRoute,
	"schedule":  runSchedule,
	"serve":     runServe,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("payroll-relay", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	configFile := fs.String("config", "", "path to a config file")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("mode", "hook", "settlement mode: hook or direct")
	fs.String("source-chain", "sepolia", "source chain name")
	fs.String("destination-chain", "base-sepolia", "destination chain name")
	fs.String("artifacts-dir", "artifacts", "directory for attestation artifacts")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", fs.Arg(0))
		fs.Usage()
		return exitUsage
	}

	bindings := map[string]string{
		"log_level":               "log-level",
		"relay.mode":              "mode",
		"relay.source_chain":      "source-chain",
		"relay.destination_chain": "destination-chain",
		"artifacts.dir":           "artifacts-dir",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			fmt.Fprintf(stderr, "bind flag %s: %v\n", flag, err)
			return exitFailure
		}
	}
	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return exitFailure
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	ctx, stop := graceful.SignalContext(context.Background())
	defer stop()

	tracingShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		return exitFailure
	}
	defer tracingShutdown(context.Background())

	container, err := di.NewContainer(cfg, log)
	if err != nil {
		log.Error("Failed to initialize container", "error", err)
		return exitFailure
	}
	defer container.Close()

	if err := cmd(ctx, container, fs.Args()[1:], stdout); err != nil {
		if errors.Is(err, errUsage) {
			return exitUsage
		}
		log.Error("Command failed", "command", fs.Arg(0), "error", err)
		return exitFailure
	}
	return exitOK
}
