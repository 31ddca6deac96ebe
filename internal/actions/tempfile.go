package actions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/internal/execctx"
)

// tempFileAction creates a scratch file and stores its path under key.
type tempFileAction struct {
	base
	key     string
	dir     string
	pattern string
	content string
}

func newTempFileAction(b base, params map[string]any, _ Deps) (Action, error) {
	p := struct {
		Key     string `mapstructure:"key"`
		Dir     string `mapstructure:"dir"`
		Pattern string `mapstructure:"pattern"`
		Content string `mapstructure:"content"`
	}{Pattern: "twrap-*"}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, errors.New("key is required")
	}
	return &tempFileAction{base: b, key: p.Key, dir: p.Dir, pattern: p.Pattern, content: p.Content}, nil
}

func (a *tempFileAction) Run(_ context.Context, ec *execctx.Context, dry bool) error {
	dir, err := command.Expand(a.dir, ec)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if dry {
		name := strings.Replace(a.pattern, "*", "dry-run", 1)
		if !strings.Contains(a.pattern, "*") {
			name = a.pattern + "dry-run"
		}
		ec.Set(a.key, filepath.Join(dir, name))
		return nil
	}

	content, err := command.Expand(a.content, ec)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, a.pattern)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	ec.Set(a.key, f.Name())
	return nil
}
