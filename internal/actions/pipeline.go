// Package actions runs the ordered START and END lifecycle operations that
// prepare and finalize the execution context around the supervised child.
package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/twrap/internal/execctx"
	"github.com/psantana5/twrap/pkg/logging"
	"github.com/psantana5/twrap/pkg/tracing"
)

// Stage selects when an action runs.
type Stage string

const (
	StageStart Stage = "START"
	StageEnd   Stage = "END"
)

// ParseStage accepts START and END in any case.
func ParseStage(s string) (Stage, error) {
	switch Stage(strings.ToUpper(strings.TrimSpace(s))) {
	case StageStart:
		return StageStart, nil
	case StageEnd:
		return StageEnd, nil
	}
	return "", fmt.Errorf("unknown stage %q (want START or END)", s)
}

// Action is one lifecycle operation. In dry-run it must not cause external
// side effects but still sets the context values later stages rely on.
type Action interface {
	Name() string
	Stage() Stage
	Run(ctx context.Context, ec *execctx.Context, dry bool) error
}

// Error reports the action that aborted a stage.
type Error struct {
	Stage Stage
	Name  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("action %s (%s) failed: %v", e.Name, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pipeline runs registered actions in declaration order against one context.
type Pipeline struct {
	ec      *execctx.Context
	log     *logging.Logger
	tracer  *tracing.Provider
	observe func(stage Stage, name string, err error)
	actions []Action
}

// NewPipeline creates a pipeline bound to ec.
func NewPipeline(ec *execctx.Context, log *logging.Logger, actions ...Action) *Pipeline {
	return &Pipeline{ec: ec, log: log, actions: actions}
}

// WithTracer records a span per action.
func (p *Pipeline) WithTracer(t *tracing.Provider) *Pipeline {
	p.tracer = t
	return p
}

// OnAction is called after every executed action.
func (p *Pipeline) OnAction(fn func(stage Stage, name string, err error)) {
	p.observe = fn
}

// Register appends actions.
func (p *Pipeline) Register(actions ...Action) {
	p.actions = append(p.actions, actions...)
}

// Len returns the number of actions registered for stage.
func (p *Pipeline) Len(stage Stage) int {
	n := 0
	for _, a := range p.actions {
		if a.Stage() == stage {
			n++
		}
	}
	return n
}

// Execute runs every action of stage sequentially. The first failure stops
// the stage and is returned as *Error.
func (p *Pipeline) Execute(ctx context.Context, stage Stage, dry bool) error {
	ctx, span := p.tracer.StartSpan(ctx, "actions."+strings.ToLower(string(stage)),
		attribute.Bool("dry", dry))
	defer span.End()

	for _, a := range p.actions {
		if a.Stage() != stage {
			continue
		}
		if err := ctx.Err(); err != nil {
			p.log.Warn("Stage interrupted", map[string]interface{}{"stage": string(stage), "skipped": a.Name()})
			return &Error{Stage: stage, Name: a.Name(), Err: err}
		}
		start := time.Now()
		p.log.Info("ACT: "+a.Name(), map[string]interface{}{"stage": string(stage), "dry": dry})

		actx, aspan := p.tracer.StartSpan(ctx, "action "+a.Name())
		err := a.Run(actx, p.ec, dry)
		tracing.SetError(actx, err)
		aspan.End()
		if p.observe != nil {
			p.observe(stage, a.Name(), err)
		}

		if err != nil {
			p.log.Error("Action failed", map[string]interface{}{
				"action": a.Name(),
				"stage":  string(stage),
				"error":  err.Error(),
			})
			tracing.SetError(ctx, err)
			return &Error{Stage: stage, Name: a.Name(), Err: err}
		}
		p.log.Debug("Action done", map[string]interface{}{"action": a.Name(), "duration": time.Since(start).String()})
	}
	return nil
}
