package runner

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/internal/wrapper"
)

// logOutput writes the EXC/OUT/ERR/DUR lines. Captured output is logged at
// INFO with --verbose; otherwise stdout goes to DEBUG and stderr is only
// shown for failed runs.
func (r *Runner) logOutput(out *wrapper.Outcome, exitCode int, seconds int64) {
	fields := map[string]interface{}{
		"attempts": out.Attempts(),
		"cause":    string(out.Cause),
	}
	if out.Signal != nil {
		fields["signal"] = out.Signal.String()
	}
	if err := out.Err(); err != nil {
		fields["error"] = err.Error()
	}
	r.log.Info(fmt.Sprintf("EXC: %d", exitCode), fields)

	if exitCode != 0 && out.Attempts() > 0 {
		r.log.Error("ERR: " + out.Stderr)
	}
	if r.opts.Verbose {
		r.log.Info("OUT: " + out.Stdout)
		r.log.Info("ERR: " + out.Stderr)
	} else {
		r.log.Debug("OUT: " + out.Stdout)
	}
	r.log.Info(fmt.Sprintf("DUR: %d", seconds))
}

// request is the base64 encoded JSON document describing the run, for
// replaying or auditing it. The seed environment is only included with
// withEnv, matching the OSV line.
func (r *Runner) request(spec command.Spec, withEnv bool) string {
	doc := map[string]any{
		"uuid":      r.ec.ExecutionID(),
		"host":      r.host.Hostname,
		"args":      r.opts.Args,
		"config":    r.cfg.AsMap(),
		"cli":       r.cli.AsMap(),
		"cmd":       spec.Argv(),
		"dry":       r.opts.Dry,
		"timestamp": r.created.Format("2006-01-02T15:04:05.000000"),
	}
	if withEnv {
		doc["oenv"] = envMap(r.opts.Environ)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		r.log.Warn("Cannot encode request", map[string]interface{}{"error": err.Error()})
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func envMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k != "" {
			out[k] = v
		}
	}
	return out
}

func jsonString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
