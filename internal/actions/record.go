package actions

import (
	"context"
	"strconv"
	"time"

	"github.com/psantana5/twrap/internal/execctx"
	"github.com/psantana5/twrap/internal/history"
)

// recordAction stores the finished run in the history database. It belongs
// in the END stage, where the result keys are set.
type recordAction struct {
	base
	driver string
	dsn    string
	open   func(driver, dsn string) (history.Store, error)
	team   string
	group  string
	job    string
}

func newRecordAction(b base, params map[string]any, deps Deps) (Action, error) {
	p := struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	}{Driver: deps.History.Driver, DSN: deps.History.DSN}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return &recordAction{
		base:   b,
		driver: p.Driver,
		dsn:    p.DSN,
		open:   deps.OpenStore,
		team:   deps.Team,
		group:  deps.Group,
		job:    deps.Job,
	}, nil
}

func (a *recordAction) Run(ctx context.Context, ec *execctx.Context, dry bool) error {
	if dry {
		return nil
	}
	store, err := a.open(a.driver, a.dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	host, _ := ec.String(execctx.KeyHost)
	cause, _ := ec.String(execctx.KeyTerminationCause)
	return store.Record(ctx, &history.Run{
		ExecutionID: ec.ExecutionID(),
		Team:        a.team,
		Group:       a.group,
		Job:         a.job,
		ExitCode:    int(number(ec, execctx.KeyExitCode)),
		Duration:    int64(number(ec, execctx.KeyDuration)),
		Attempts:    int(number(ec, execctx.KeyAttempts)),
		Cause:       cause,
		Host:        host,
		FinishedAt:  time.Now().UTC(),
	})
}

// number reads a numeric context value whatever its stored type.
func number(ec *execctx.Context, key string) float64 {
	v, ok := ec.Lookup(key)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(execctx.Stringify(v), 64)
	if err != nil {
		return 0
	}
	return f
}
