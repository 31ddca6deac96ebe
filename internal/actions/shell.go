package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/internal/execctx"
)

// shellAction runs a hook command with the context as its environment.
type shellAction struct {
	base
	command command.Template
	capture string
	dir     string
	timeout time.Duration
}

func newShellAction(b base, params map[string]any, _ Deps) (Action, error) {
	p := struct {
		Command any           `mapstructure:"command"`
		Capture string        `mapstructure:"capture"`
		Dir     string        `mapstructure:"dir"`
		Timeout time.Duration `mapstructure:"timeout"`
	}{Timeout: time.Minute}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	var tmpl command.Template
	switch c := p.Command.(type) {
	case string:
		tmpl.Line = c
	case []any:
		for _, e := range c {
			tmpl.List = append(tmpl.List, fmt.Sprint(e))
		}
	}
	if tmpl.IsZero() {
		return nil, errors.New("command is required")
	}
	return &shellAction{base: b, command: tmpl, capture: p.Capture, dir: p.Dir, timeout: p.Timeout}, nil
}

func (a *shellAction) Run(ctx context.Context, ec *execctx.Context, dry bool) error {
	spec, err := command.Resolve("", a.command, ec)
	if err != nil {
		return err
	}
	if dry {
		if a.capture != "" {
			ec.Set(a.capture, "")
		}
		return nil
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Env = ec.Environ()
	cmd.Dir = a.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", spec.Path, err, msg)
		}
		return fmt.Errorf("%s: %w", spec.Path, err)
	}
	if a.capture != "" {
		ec.Set(a.capture, strings.TrimSpace(stdout.String()))
	}
	return nil
}
