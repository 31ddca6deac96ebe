package actions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/psantana5/twrap/internal/config"
	"github.com/psantana5/twrap/internal/history"
	"github.com/psantana5/twrap/pkg/logging"
)

// Deps carries what action constructors may need beyond their parameters.
type Deps struct {
	Log     *logging.Logger
	History config.History
	// OpenStore opens the run history; history.Open when nil.
	OpenStore func(driver, dsn string) (history.Store, error)
	Team      string
	Group     string
	Job       string
}

// Factory builds an action from its declaration.
type Factory func(b base, params map[string]any, deps Deps) (Action, error)

var factories = map[string]Factory{
	"env":      newEnvAction,
	"tempfile": newTempFileAction,
	"dotenv":   newDotenvAction,
	"jq":       newJQAction,
	"vault":    newVaultAction,
	"s3":       newS3Action,
	"shell":    newShellAction,
	"webhook":  newWebhookAction,
	"record":   newRecordAction,
}

// Types lists the registered action types.
func Types() []string {
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build turns declarations into actions, preserving order.
func Build(specs []config.ActionSpec, deps Deps) ([]Action, error) {
	if deps.OpenStore == nil {
		deps.OpenStore = history.Open
	}
	out := make([]Action, 0, len(specs))
	for i, spec := range specs {
		factory, ok := factories[strings.ToLower(spec.Type)]
		if !ok {
			return nil, &config.Error{
				Field: fmt.Sprintf("cli.actions[%d].type", i),
				Msg:   fmt.Sprintf("unknown action type %q (known: %s)", spec.Type, strings.Join(Types(), ", ")),
			}
		}
		stage, err := ParseStage(spec.Stage)
		if err != nil {
			return nil, &config.Error{Field: fmt.Sprintf("cli.actions[%d].stage", i), Err: err}
		}
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", spec.Type, i)
		}
		a, err := factory(base{name: name, stage: stage}, spec.Params, deps)
		if err != nil {
			return nil, &config.Error{Field: fmt.Sprintf("cli.actions[%d] (%s)", i, name), Err: err}
		}
		out = append(out, a)
	}
	return out, nil
}

type base struct {
	name  string
	stage Stage
}

func (b base) Name() string { return b.name }
func (b base) Stage() Stage { return b.stage }

// decode maps loosely typed JSON parameters onto a params struct.
func decode(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}
