package actions

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/internal/execctx"
)

// dotenvAction loads KEY=VALUE pairs from a dotenv file. It only reads, so
// dry-run behaves the same.
type dotenvAction struct {
	base
	path     string
	prefix   string
	override bool
	optional bool
}

func newDotenvAction(b base, params map[string]any, _ Deps) (Action, error) {
	p := struct {
		Path     string `mapstructure:"path"`
		Prefix   string `mapstructure:"prefix"`
		Override bool   `mapstructure:"override"`
		Optional bool   `mapstructure:"optional"`
	}{Override: true}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, errors.New("path is required")
	}
	return &dotenvAction{base: b, path: p.Path, prefix: p.Prefix, override: p.Override, optional: p.Optional}, nil
}

func (a *dotenvAction) Run(_ context.Context, ec *execctx.Context, _ bool) error {
	path, err := command.Expand(a.path, ec)
	if err != nil {
		return err
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if a.optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	for k, v := range values {
		key := a.prefix + k
		if _, exists := ec.Lookup(key); exists && !a.override {
			continue
		}
		ec.Set(key, v)
	}
	return nil
}
