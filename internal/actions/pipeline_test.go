package actions

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/psantana5/twrap/internal/config"
	"github.com/psantana5/twrap/internal/execctx"
	"github.com/psantana5/twrap/pkg/logging"
)

type fakeAction struct {
	base
	run func(ec *execctx.Context, dry bool) error
}

func (f *fakeAction) Run(_ context.Context, ec *execctx.Context, dry bool) error {
	return f.run(ec, dry)
}

func quietLogger() *logging.Logger {
	log := logging.NewLogger(logging.ERROR, false)
	log.SetOutput(io.Discard)
	return log
}

func TestPipelineOrderAndVisibility(t *testing.T) {
	ec := execctx.New()
	var order []string
	p := NewPipeline(ec, quietLogger(),
		&fakeAction{base: base{"a", StageStart}, run: func(ec *execctx.Context, _ bool) error {
			order = append(order, "a")
			ec.Set("FROM_A", "1")
			return nil
		}},
		&fakeAction{base: base{"end", StageEnd}, run: func(*execctx.Context, bool) error {
			order = append(order, "end")
			return nil
		}},
		&fakeAction{base: base{"b", StageStart}, run: func(ec *execctx.Context, _ bool) error {
			order = append(order, "b")
			if v, _ := ec.String("FROM_A"); v != "1" {
				t.Errorf("b did not see a's value")
			}
			return nil
		}},
	)

	if err := p.Execute(context.Background(), StageStart, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v, want [a b]", order)
	}
	if p.Len(StageStart) != 2 || p.Len(StageEnd) != 1 {
		t.Errorf("Len = %d/%d", p.Len(StageStart), p.Len(StageEnd))
	}
}

func TestPipelineAbortsOnFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	p := NewPipeline(execctx.New(), quietLogger())
	p.Register(
		&fakeAction{base: base{"fails", StageStart}, run: func(*execctx.Context, bool) error { return boom }},
		&fakeAction{base: base{"after", StageStart}, run: func(*execctx.Context, bool) error {
			ran = true
			return nil
		}},
	)

	err := p.Execute(context.Background(), StageStart, false)
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if aerr.Name != "fails" || aerr.Stage != StageStart || !errors.Is(err, boom) {
		t.Errorf("unexpected error %+v", aerr)
	}
	if ran {
		t.Error("action after failure ran")
	}
}

func TestPipelinePassesDry(t *testing.T) {
	var got bool
	p := NewPipeline(execctx.New(), quietLogger(),
		&fakeAction{base: base{"x", StageEnd}, run: func(_ *execctx.Context, dry bool) error {
			got = dry
			return nil
		}})
	if err := p.Execute(context.Background(), StageEnd, true); err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("dry flag not passed through")
	}
}

func TestParseStage(t *testing.T) {
	tests := []struct {
		in      string
		want    Stage
		wantErr bool
	}{
		{"START", StageStart, false},
		{"end", StageEnd, false},
		{" Start ", StageStart, false},
		{"middle", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStage(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStage(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		specs   []config.ActionSpec
		wantErr bool
	}{
		{
			name: "valid",
			specs: []config.ActionSpec{
				{Type: "env", Stage: "START", Params: map[string]any{"values": map[string]any{"A": "1"}}},
				{Name: "hook", Type: "shell", Stage: "END", Params: map[string]any{"command": "true"}},
			},
		},
		{
			name:    "unknown type",
			specs:   []config.ActionSpec{{Type: "teleport", Stage: "START"}},
			wantErr: true,
		},
		{
			name:    "bad stage",
			specs:   []config.ActionSpec{{Type: "env", Stage: "LATER", Params: map[string]any{"values": map[string]any{"A": "1"}}}},
			wantErr: true,
		},
		{
			name:    "unknown parameter",
			specs:   []config.ActionSpec{{Type: "env", Stage: "START", Params: map[string]any{"values": map[string]any{"A": "1"}, "colour": "red"}}},
			wantErr: true,
		},
		{
			name:    "missing required parameter",
			specs:   []config.ActionSpec{{Type: "webhook", Stage: "END"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Build(tt.specs, Deps{Log: quietLogger()})
			if tt.wantErr {
				if !errors.Is(err, config.ErrInvalidConfig) {
					t.Fatalf("error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if len(got) != len(tt.specs) {
				t.Fatalf("built %d actions, want %d", len(got), len(tt.specs))
			}
			if got[0].Name() != "env-0" || got[1].Name() != "hook" || got[1].Stage() != StageEnd {
				t.Errorf("names/stages = %s/%s %s/%s", got[0].Name(), got[0].Stage(), got[1].Name(), got[1].Stage())
			}
		})
	}
}
