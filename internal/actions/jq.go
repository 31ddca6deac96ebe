package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/psantana5/twrap/internal/execctx"
)

// jqAction evaluates a jq query and stores the result under key. The input
// is the whole context, or the JSON document held by the input key.
type jqAction struct {
	base
	key   string
	input string
	code  *gojq.Code
}

func newJQAction(b base, params map[string]any, _ Deps) (Action, error) {
	var p struct {
		Query string `mapstructure:"query"`
		Key   string `mapstructure:"key"`
		Input string `mapstructure:"input"`
	}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Query == "" || p.Key == "" {
		return nil, errors.New("query and key are required")
	}
	q, err := gojq.Parse(p.Query)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	return &jqAction{base: b, key: p.Key, input: p.Input, code: code}, nil
}

func (a *jqAction) Run(ctx context.Context, ec *execctx.Context, _ bool) error {
	input, err := a.document(ec)
	if err != nil {
		return err
	}

	var results []any
	iter := a.code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return fmt.Errorf("evaluate: %w", err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		ec.Set(a.key, nil)
	case 1:
		ec.Set(a.key, results[0])
	default:
		ec.Set(a.key, results)
	}
	return nil
}

// document normalizes the input into the plain JSON types gojq accepts.
func (a *jqAction) document(ec *execctx.Context) (any, error) {
	var raw []byte
	if a.input == "" {
		data, err := json.Marshal(ec.Snapshot())
		if err != nil {
			return nil, err
		}
		raw = data
	} else {
		v, ok := ec.Lookup(a.input)
		if !ok {
			return nil, fmt.Errorf("input key %s not set", a.input)
		}
		if s, isString := v.(string); isString {
			raw = []byte(s)
		} else {
			data, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			raw = data
		}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("input is not JSON: %w", err)
	}
	return doc, nil
}
