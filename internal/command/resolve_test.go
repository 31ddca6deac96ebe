package command

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/psantana5/twrap/internal/execctx"
)

func testContext() *execctx.Context {
	ec := execctx.New()
	ec.Update(map[string]any{
		"INPUT":  "/data/in file.csv",
		"REGION": "eu-west-1",
		"EMPTY":  "",
		"COUNT":  3,
	})
	return ec
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		entrypoint string
		cmd        Template
		want       []string
	}{
		{
			name:       "entrypoint and string command",
			entrypoint: "python -u",
			cmd:        Template{Line: "main.py --input ${INPUT} --region $REGION"},
			want:       []string{"python", "-u", "main.py", "--input", "/data/in file.csv", "--region", "eu-west-1"},
		},
		{
			name: "quoted tokens stay together",
			cmd:  Template{Line: `echo "hello world" 'single ${NOPE}'`},
			want: []string{"echo", "hello world", "single ${NOPE}"},
		},
		{
			name:       "list elements are single arguments",
			entrypoint: "/bin/run",
			cmd:        Template{List: []string{"--msg", "a b ${REGION}", `it's "quoted"`}},
			want:       []string{"/bin/run", "--msg", "a b eu-west-1", `it's "quoted"`},
		},
		{
			name: "empty value is a valid substitution",
			cmd:  Template{List: []string{"echo", "${EMPTY}"}},
			want: []string{"echo", ""},
		},
		{
			name: "default for missing key",
			cmd:  Template{Line: "echo ${MISSING:-fallback} ${COUNT}"},
			want: []string{"echo", "fallback", "3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Resolve(tt.entrypoint, tt.cmd, testContext())
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got := spec.Argv(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Argv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveUnresolvedPlaceholder(t *testing.T) {
	templates := []Template{
		{Line: "echo ${MISSING}"},
		{List: []string{"echo", "x-${MISSING}"}},
	}
	for _, tmpl := range templates {
		_, err := Resolve("", tmpl, testContext())
		if !errors.Is(err, ErrUnresolvedPlaceholder) {
			t.Fatalf("Resolve(%+v) error = %v, want ErrUnresolvedPlaceholder", tmpl, err)
		}
		var upe *UnresolvedPlaceholderError
		if !errors.As(err, &upe) || upe.Key != "MISSING" {
			t.Errorf("error = %#v, want key MISSING", err)
		}
	}
}

func TestResolveRejectsCommandSubstitution(t *testing.T) {
	_, err := Resolve("", Template{Line: "echo $(id)"}, testContext())
	if err == nil {
		t.Fatal("expected error for command substitution")
	}
}

func TestResolveEmpty(t *testing.T) {
	_, err := Resolve("", Template{}, testContext())
	if !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("error = %v, want ErrEmptyCommand", err)
	}
}

func TestResolveExportsContext(t *testing.T) {
	spec, err := Resolve("true", Template{}, testContext())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, kv := range spec.Env {
		if kv == "REGION=eu-west-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("Env = %v, missing REGION", spec.Env)
	}
}

func TestParseTemplate(t *testing.T) {
	tests := []struct {
		raw     string
		want    Template
		wantErr bool
	}{
		{`"echo hi"`, Template{Line: "echo hi"}, false},
		{`["echo", "hi there"]`, Template{List: []string{"echo", "hi there"}}, false},
		{`null`, Template{}, false},
		{``, Template{}, false},
		{`{"a":1}`, Template{}, true},
	}
	for _, tt := range tests {
		got, err := ParseTemplate(json.RawMessage(tt.raw))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTemplate(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseTemplate(%s) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestExpand(t *testing.T) {
	got, err := Expand("s3://bucket/${REGION}/out.json", testContext())
	if err != nil {
		t.Fatal(err)
	}
	if got != "s3://bucket/eu-west-1/out.json" {
		t.Errorf("Expand() = %q", got)
	}
	if got, _ := Expand("plain", testContext()); got != "plain" {
		t.Errorf("Expand(plain) = %q", got)
	}
}
