// Package runner drives one supervised run: context, START actions, command
// resolution, supervision, metrics and END actions.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/twrap/internal/actions"
	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/internal/config"
	"github.com/psantana5/twrap/internal/execctx"
	"github.com/psantana5/twrap/internal/history"
	"github.com/psantana5/twrap/internal/metrics"
	"github.com/psantana5/twrap/internal/observe"
	"github.com/psantana5/twrap/internal/report"
	"github.com/psantana5/twrap/internal/status"
	"github.com/psantana5/twrap/internal/wrapper"
	"github.com/psantana5/twrap/pkg/logging"
	"github.com/psantana5/twrap/pkg/retry"
	"github.com/psantana5/twrap/pkg/shutdown"
	tlsutil "github.com/psantana5/twrap/pkg/tls"
	"github.com/psantana5/twrap/pkg/tracing"
)

// Options wires a Runner. Config and CLI are required.
type Options struct {
	Config *config.Config
	CLI    *config.CLI
	// Args is the wrapper's own argv, logged and kept in the request.
	Args []string
	// Environ seeds the execution context; os.Environ when nil.
	Environ []string
	Dry     bool
	Verbose bool

	// Signals are forwarded to the child.
	Signals <-chan os.Signal
	// Sink overrides the sink selected by metrics.sink.
	Sink metrics.Sink
	// Stdout and Stderr receive the child's output live when
	// wrapper.stream is set.
	Stdout io.Writer
	Stderr io.Writer

	Tracer    *tracing.Provider
	Stats     *report.Stats
	Failures  *report.FailureLog
	Shutdown  *shutdown.Manager
	OpenStore func(driver, dsn string) (history.Store, error)
}

// Runner executes one job.
type Runner struct {
	opts     Options
	cfg      *config.Config
	cli      *config.CLI
	log      *logging.Logger
	ec       *execctx.Context
	host     observe.HostInfo
	template command.Template
	batch    *metrics.Batch
	sink     metrics.Sink
	pipeline *actions.Pipeline
	created  time.Time

	heartbeats sync.WaitGroup
	mu         sync.Mutex
	// pending is the number of batch metrics still undelivered; lost counts
	// heartbeats that could not be sent.
	pending int
	lost    int
}

// New seeds the execution context and parses the actions. Errors are setup
// failures; nothing has been sent or spawned yet.
func New(ctx context.Context, opts Options, log *logging.Logger) (*Runner, error) {
	if opts.Config == nil || opts.CLI == nil {
		return nil, &config.Error{Msg: "config and cli payload are required"}
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Noop("twrap")
	}
	if opts.Stats == nil {
		opts.Stats = report.NewStats()
	}
	if opts.Failures == nil {
		opts.Failures = report.NewFailureLog(50)
	}

	r := &Runner{
		opts:    opts,
		cfg:     opts.Config,
		cli:     opts.CLI,
		log:     log,
		host:    observe.Host(ctx),
		created: time.Now().UTC(),
	}

	r.ec = execctx.FromEnviron(opts.Environ)
	id := r.ec.ExecutionID()
	r.ec.Set(execctx.KeyHost, r.host.Hostname)
	r.ec.Set(execctx.KeyExecution, map[string]any{
		"config": r.cfg.AsMap(),
		"cli":    r.cli.AsMap(),
	})
	r.log = log.WithField("execution_id", id)

	r.log.Info("HTN: " + r.host.Hostname)
	r.log.Info("UID: " + id)
	r.log.Info(fmt.Sprintf("ARV: %q", opts.Args))
	r.log.Debug("OSV: " + jsonString(envMap(opts.Environ)))
	r.log.Info("CFG: " + jsonString(r.cfg.AsMap()))
	r.log.Info("CLI: " + jsonString(r.cli.AsMap()))

	tmpl, err := command.ParseTemplate(r.cli.Command)
	if err != nil {
		return nil, &config.Error{Field: "cli.command", Err: err}
	}
	r.template = tmpl

	r.sink = opts.Sink
	if r.sink == nil {
		r.sink, err = metrics.NewSink(metrics.SinkConfig{
			Kind:           r.cfg.Metrics.Sink,
			PushgatewayURL: r.cfg.Metrics.PushgatewayURL,
			TextfilePath:   r.cfg.Metrics.TextfilePath,
			Region:         r.cfg.Metrics.Region,
			Timeout:        r.cfg.Metrics.Timeout,
		}, r.log)
		if err != nil {
			return nil, &config.Error{Field: "metrics.sink", Err: err}
		}
	}
	r.batch = metrics.NewBatch(r.cfg.Metrics.Namespace, r.sink)

	acts, err := actions.Build(r.cli.Actions, actions.Deps{
		Log:       r.log,
		History:   r.cfg.History,
		OpenStore: opts.OpenStore,
		Team:      r.cfg.Metrics.Team,
		Group:     r.cli.Group,
		Job:       r.cli.Job,
	})
	if err != nil {
		return nil, err
	}
	r.pipeline = actions.NewPipeline(r.ec, r.log, acts...).WithTracer(opts.Tracer)
	r.pipeline.OnAction(func(stage actions.Stage, _ string, err error) {
		opts.Stats.RecordAction(string(stage), err)
	})
	r.log.Info(fmt.Sprintf("ACT: %d START, %d END", r.pipeline.Len(actions.StageStart), r.pipeline.Len(actions.StageEnd)))

	return r, nil
}

// Context returns the execution context of the run.
func (r *Runner) Context() *execctx.Context {
	return r.ec
}

// Run executes the job. The returned Result is always non-nil. A non-nil
// error is a setup failure (START action, command resolution) that
// prevented the spawn; the Result then carries ExitCodeSetupFailure.
// Signals are watched for the whole run: during an action stage they cancel
// the stage, during supervision they are forwarded to the child. A signal
// during START skips the spawn and ends the run with 128+signal.
func (r *Runner) Run(ctx context.Context) (*report.Result, error) {
	timing := observe.NewTiming()
	dims := metrics.JobDimensions(r.cfg.Metrics.Team, r.cli.Group, r.cli.Job)

	ctx, span := r.opts.Tracer.StartSpan(ctx, "twrap.run",
		attribute.String("job", r.cli.Job),
		attribute.String("execution_id", r.ec.ExecutionID()),
		attribute.Bool("dry", r.opts.Dry),
	)
	defer span.End()

	r.batch.Add(metrics.New(metrics.NameStart, 1, dims))
	r.send(ctx)

	startCtx, watch := watchSignals(ctx, r.opts.Signals)
	startErr := r.pipeline.Execute(startCtx, actions.StageStart, r.opts.Dry)
	if sig := watch.stop(); sig != nil {
		r.log.Warn("Signal received during START actions, not spawning", map[string]interface{}{"signal": sig.String()})
		out := &wrapper.Outcome{
			ExitCode: wrapper.SignalExitCode(sig),
			Cause:    wrapper.CauseSignaled,
			Signal:   sig,
			Dry:      r.opts.Dry,
		}
		return r.complete(ctx, span, timing, dims, out, ""), nil
	}
	if startErr != nil {
		return r.setupFailure(ctx, timing, startErr), startErr
	}

	spec, err := command.Resolve(r.cli.Entrypoint, r.template, r.ec)
	if err != nil {
		r.log.Error("Command resolution failed", map[string]interface{}{"error": err.Error()})
		return r.setupFailure(ctx, timing, err), err
	}
	r.log.Info("CMD: " + spec.String())
	r.log.Info("REQ: " + r.request(spec, r.log.Enabled(logging.DEBUG)))

	sup := wrapper.New(r.supervisorOptions(ctx, dims), r.opts.Signals, r.log)
	r.startStatus(sup)

	out := sup.Run(ctx, spec)
	r.heartbeats.Wait()
	return r.complete(ctx, span, timing, dims, out, spec.String()), nil
}

// complete sends the closing metrics, folds the outcome into the context and
// runs the END actions.
func (r *Runner) complete(ctx context.Context, span trace.Span, timing *observe.Timing, dims map[string]string, out *wrapper.Outcome, cmdline string) *report.Result {
	exitCode := wrapper.ProcessExitCode(out.ExitCode)
	seconds := observe.Seconds(out.Duration)
	r.logOutput(out, exitCode, seconds)

	outcome := 0.0
	if exitCode != 0 {
		outcome = 1
	}
	r.batch.Add(
		metrics.New(metrics.NameDuration, float64(seconds), dims).WithUnit(metrics.UnitSeconds),
		metrics.New(metrics.NameExit, outcome, dims),
		metrics.New(metrics.NameExit, outcome, metrics.TeamDimensions(r.cfg.Metrics.Team)),
		metrics.New(metrics.NameEnd, 1, dims),
	)
	r.send(ctx)

	r.ec.Update(map[string]any{
		execctx.KeyExitCode:         exitCode,
		execctx.KeyDuration:         seconds,
		execctx.KeyStdOut:           out.Stdout,
		execctx.KeyStdErr:           out.Stderr,
		execctx.KeyAttempts:         out.Attempts(),
		execctx.KeyTerminationCause: string(out.Cause),
	})

	endCtx, watch := watchSignals(ctx, r.opts.Signals)
	endErr := r.pipeline.Execute(endCtx, actions.StageEnd, r.opts.Dry)
	if sig := watch.stop(); sig != nil {
		r.log.Warn("Signal received during END actions", map[string]interface{}{"signal": sig.String()})
	}
	if endErr != nil {
		r.log.Error("END actions failed, exit code unchanged", map[string]interface{}{"error": endErr.Error()})
	}

	timing.Complete()
	res := report.NewResult(out, exitCode, timing.StartedAt, timing.CompletedAt)
	res.Command = cmdline
	r.finish(res)
	span.SetAttributes(attribute.Int("exit_code", exitCode), attribute.String("cause", string(out.Cause)))
	return res
}

// setupFailure ends a run that never reached the supervisor. No End
// metrics are sent.
func (r *Runner) setupFailure(ctx context.Context, timing *observe.Timing, err error) *report.Result {
	tracing.SetError(ctx, err)
	timing.Complete()
	res := report.NewResult(nil, ExitCodeSetupFailure, timing.StartedAt, timing.CompletedAt)
	res.Error = err.Error()
	r.finish(res)
	return res
}

func (r *Runner) finish(res *report.Result) {
	res.SetJob(r.ec.ExecutionID(), r.cfg.Metrics.Team, r.cli.Group, r.cli.Job, r.host.Hostname)
	r.mu.Lock()
	res.MetricsFailed = r.pending + r.lost
	r.mu.Unlock()
	r.opts.Stats.RecordResult(res)
	res.LogSummary(r.log)
}

// send flushes the batch unless this is a dry run. Failures are logged and
// counted, never returned.
func (r *Runner) send(ctx context.Context) {
	if r.opts.Dry {
		return
	}
	err := r.batch.Send(ctx)
	pending := r.batch.Pending()
	r.mu.Lock()
	r.pending = pending
	r.mu.Unlock()
	if err != nil {
		var se *metrics.SendError
		if errors.As(err, &se) {
			r.log.Warn("Metrics send failed", map[string]interface{}{"error": se.Err.Error(), "sent": se.Sent, "pending": se.Pending})
			return
		}
		r.log.Warn("Metrics send failed", map[string]interface{}{"error": err.Error(), "pending": pending})
	}
}

func (r *Runner) supervisorOptions(ctx context.Context, dims map[string]string) wrapper.Options {
	wc := r.cfg.Wrapper
	retries := r.cli.RetryCount()
	opts := wrapper.Options{
		Retries:     retries,
		Timeout:     wc.Timeout,
		GracePeriod: wc.GracePeriod,
		Backoff: retry.Config{
			MaxRetries:     retries,
			InitialBackoff: wc.RetryDelay,
			MaxBackoff:     wc.RetryMaxDelay,
			Multiplier:     2,
		},
		OutputLimit: wc.OutputLimit,
		CgroupName:  r.cli.Job + "-" + r.ec.ExecutionID(),
		Dry:         r.opts.Dry,
		OnAttempt: func(rec wrapper.RunRecord) {
			a := report.NewAttempt(rec)
			r.opts.Stats.RecordAttempt(a)
			r.opts.Failures.Record(r.ec.ExecutionID(), r.cli.Job, a)
			tracing.AddEvent(ctx, "attempt",
				attribute.Int("attempt", a.Attempt),
				attribute.Int("exit_code", a.ExitCode),
				attribute.String("cause", string(a.Cause)),
			)
		},
	}
	if wc.Stream {
		opts.Stdout, opts.Stderr = r.opts.Stdout, r.opts.Stderr
	}
	if !wc.Limits.IsZero() {
		limits := wc.Limits
		opts.Limits = &limits
	}
	if rate := r.cfg.Metrics.Rate; rate > 0 && !r.opts.Dry {
		opts.Heartbeat = rate
		opts.OnHeartbeat = func(st wrapper.Status) {
			r.heartbeat(ctx, dims, st)
		}
	}
	return opts
}

// heartbeat sends in the background so the supervisor loop never waits on
// the sink.
func (r *Runner) heartbeat(ctx context.Context, dims map[string]string, st wrapper.Status) {
	r.heartbeats.Add(1)
	go func() {
		defer r.heartbeats.Done()
		b := metrics.NewBatch(r.cfg.Metrics.Namespace, r.sink)
		b.Add(metrics.New(metrics.NameHeartbeat, 1, dims))
		if err := b.Send(ctx); err != nil {
			r.mu.Lock()
			r.lost++
			r.mu.Unlock()
			r.log.Warn("Heartbeat send failed", map[string]interface{}{"error": err.Error()})
			return
		}
		r.log.Debug("Heartbeat sent", map[string]interface{}{"attempt": st.Attempt, "pid": st.PID})
	}()
}

func (r *Runner) startStatus(sup *wrapper.Supervisor) {
	addr := r.cfg.Status.Listen
	if addr == "" {
		return
	}
	srv := status.NewServer(addr, status.Sources{
		ExecutionID: r.ec.ExecutionID(),
		Job:         r.cli.Job,
		Supervisor:  sup.Status,
		Stats:       r.opts.Stats,
		Failures:    r.opts.Failures,
	}, r.log)
	sec := status.Security{Token: r.cfg.Status.Token}
	if r.cfg.Status.TLSCert != "" {
		tc, err := tlsutil.LoadServerConfig(r.cfg.Status.TLSCert, r.cfg.Status.TLSKey, r.cfg.Status.ClientCA)
		if err != nil {
			r.log.Warn("Status server disabled", map[string]interface{}{"addr": addr, "error": err.Error()})
			return
		}
		sec.TLS = tc
	}
	if err := srv.Secure(sec); err != nil {
		r.log.Warn("Status server disabled", map[string]interface{}{"addr": addr, "error": err.Error()})
		return
	}
	if err := srv.Start(); err != nil {
		r.log.Warn("Status server disabled", map[string]interface{}{"addr": addr, "error": err.Error()})
		return
	}
	if r.opts.Shutdown != nil {
		r.opts.Shutdown.Register("status-server", shutdown.StopHTTPServer(srv))
	}
}
