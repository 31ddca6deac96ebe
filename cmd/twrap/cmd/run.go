package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/twrap/internal/config"
	"github.com/psantana5/twrap/internal/report"
	"github.com/psantana5/twrap/internal/runner"
	"github.com/psantana5/twrap/pkg/shutdown"
	"github.com/psantana5/twrap/pkg/tracing"
)

var (
	cliJSON      string
	dryRun       bool
	verbose      bool
	reportFormat string
)

var runCmd = &cobra.Command{
	Use:   "run --cli-json '<payload>'",
	Short: "Run a job under supervision",
	Long: `Run builds the execution context from the environment, runs the START
actions, resolves the command, supervises it and runs the END actions. The
exit code is the last attempt's exit code.

The payload is JSON, or @path to read it from a file:

  {"group": "nightly", "job": "etl", "entrypoint": "python -m etl",
   "command": "--day ${DAY}", "retries": 2,
   "actions": [{"type": "env", "stage": "START", "params": {"values": {"DAY": "2024-01-01"}}}]}

Example:
  twrap run --config twrap.yaml --cli-json @job.json
  twrap run --config twrap.yaml --dry --report text --cli-json '{"job":"etl","command":"echo hi"}'`,
	Args: cobra.NoArgs,
	RunE: runJob,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&cliJSON, "cli-json", "", "job payload as JSON, or @file")
	runCmd.Flags().BoolVar(&dryRun, "dry", false, "resolve everything but do not spawn or send metrics")
	runCmd.Flags().BoolVar(&verbose, "verbose", false, "log captured stdout and stderr at INFO")
	runCmd.Flags().StringVar(&reportFormat, "report", "none", "run report on stdout: text, json, yaml or none")
	runCmd.MarkFlagRequired("cli-json")
}

func runJob(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(reportFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	log := newLogger(cfg)
	defer log.Close()
	if err != nil {
		return fail(log, err)
	}

	payload, err := readPayload(cliJSON)
	if err != nil {
		return fail(log, &config.Error{Field: "cli", Err: err})
	}
	cli, err := config.ParseCLI(payload, cfg)
	if err != nil {
		return fail(log, err)
	}

	ctx := context.Background()
	sm := shutdown.New(10 * time.Second)
	sm.OnError(func(format string, args ...interface{}) {
		log.Warn(fmt.Sprintf(format, args...))
	})
	defer sm.Shutdown()

	tracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "twrap",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Warn("Tracing disabled", map[string]interface{}{"error": err.Error()})
		tracer = tracing.Noop("twrap")
	}
	sm.Register("tracer", tracer.Shutdown)

	r, err := runner.New(ctx, runner.Options{
		Config:   cfg,
		CLI:      cli,
		Args:     os.Args,
		Dry:      dryRun,
		Verbose:  verbose,
		Signals:  sm.Signals(),
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Tracer:   tracer,
		Shutdown: sm,
	}, log)
	if err != nil {
		return fail(log, err)
	}

	res, runErr := r.Run(ctx)
	if err := report.Write(cmd.OutOrStdout(), format, res); err != nil {
		log.Warn("Cannot write report", map[string]interface{}{"error": err.Error()})
	}
	if runErr != nil {
		log.Error("Run aborted before spawn", map[string]interface{}{
			"reason": runner.Describe(runErr),
			"error":  runErr.Error(),
		})
	}
	exitCode = res.ExitCode
	return nil
}

func readPayload(v string) ([]byte, error) {
	if path, ok := strings.CutPrefix(v, "@"); ok {
		return os.ReadFile(path)
	}
	return []byte(v), nil
}
