package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/internal/execctx"
)

// envAction sets context keys. Values may reference earlier keys.
type envAction struct {
	base
	values map[string]string
}

func newEnvAction(b base, params map[string]any, _ Deps) (Action, error) {
	var p struct {
		Values map[string]string `mapstructure:"values"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if len(p.Values) == 0 {
		return nil, errors.New("values is required")
	}
	return &envAction{base: b, values: p.Values}, nil
}

func (a *envAction) Run(_ context.Context, ec *execctx.Context, _ bool) error {
	keys := make([]string, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := command.Expand(a.values[k], ec)
		if err != nil {
			return fmt.Errorf("value of %s: %w", k, err)
		}
		ec.Set(k, v)
	}
	return nil
}
