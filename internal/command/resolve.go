// Package command turns entrypoint and command templates into a concrete argv
// by substituting ${KEY} placeholders from the execution context.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/psantana5/twrap/internal/execctx"
)

// ErrUnresolvedPlaceholder is wrapped by UnresolvedPlaceholderError.
var ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")

// ErrEmptyCommand is returned when the templates produce no program.
var ErrEmptyCommand = errors.New("empty command")

// UnresolvedPlaceholderError names the context key a template referenced but
// the context does not hold.
type UnresolvedPlaceholderError struct {
	Key      string
	Template string
}

func (e *UnresolvedPlaceholderError) Error() string {
	return fmt.Sprintf("%v: ${%s} in %q", ErrUnresolvedPlaceholder, e.Key, e.Template)
}

func (e *UnresolvedPlaceholderError) Unwrap() error { return ErrUnresolvedPlaceholder }

// Spec is a fully resolved command ready to spawn.
type Spec struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Argv returns the program followed by its arguments.
func (s Spec) Argv() []string {
	return append([]string{s.Path}, s.Args...)
}

func (s Spec) String() string {
	quoted := make([]string, 0, len(s.Args)+1)
	for _, a := range s.Argv() {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", a)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " ")
}

// Template is a command template: either a single shell-like string that is
// tokenised with quote handling, or a list whose elements each become exactly
// one argument.
type Template struct {
	Line string
	List []string
}

// ParseTemplate accepts a JSON string or a JSON array of strings. Null or
// empty input yields an empty template.
func ParseTemplate(raw json.RawMessage) (Template, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Template{}, nil
	}
	var line string
	if err := json.Unmarshal(raw, &line); err == nil {
		return Template{Line: line}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return Template{}, fmt.Errorf("command must be a string or a list of strings: %w", err)
	}
	return Template{List: list}, nil
}

// IsZero reports whether the template holds nothing.
func (t Template) IsZero() bool {
	return t.Line == "" && len(t.List) == 0
}

// Resolve builds a Spec from the entrypoint and command templates. The first
// entrypoint token is the program; the remaining entrypoint tokens precede the
// command arguments. Without an entrypoint the command's first token is the
// program.
func Resolve(entrypoint string, cmd Template, ec *execctx.Context) (Spec, error) {
	r := newResolver(ec)

	argv, err := r.line(entrypoint)
	if err != nil {
		return Spec{}, err
	}
	var rest []string
	if cmd.List != nil {
		rest, err = r.list(cmd.List)
	} else {
		rest, err = r.line(cmd.Line)
	}
	if err != nil {
		return Spec{}, err
	}
	argv = append(argv, rest...)
	if len(argv) == 0 || argv[0] == "" {
		return Spec{}, ErrEmptyCommand
	}
	return Spec{Path: argv[0], Args: argv[1:], Env: ec.Environ()}, nil
}

type resolver struct {
	cfg    *expand.Config
	parser *syntax.Parser
}

func newResolver(ec *execctx.Context) *resolver {
	return &resolver{
		cfg: &expand.Config{
			Env:     contextEnviron{ec: ec},
			NoUnset: true,
		},
		parser: syntax.NewParser(),
	}
}

// line tokenises a template by shell word rules and expands each word without
// field splitting, so a substituted value is always a single argument.
func (r *resolver) line(tmpl string) ([]string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return nil, nil
	}
	var words []*syntax.Word
	err := r.parser.Words(strings.NewReader(tmpl), func(w *syntax.Word) bool {
		words = append(words, w)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", tmpl, err)
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		s, err := expand.Literal(r.cfg, w)
		if err != nil {
			return nil, r.wrap(err, tmpl)
		}
		out = append(out, s)
	}
	return out, nil
}

// list expands each element as a document: quotes and spaces are kept
// verbatim and only parameter expansions are substituted.
func (r *resolver) list(elems []string) ([]string, error) {
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		s, err := r.document(e)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *resolver) document(tmpl string) (string, error) {
	if !strings.ContainsAny(tmpl, "$`\\") {
		return tmpl, nil
	}
	w, err := r.parser.Document(strings.NewReader(tmpl))
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", tmpl, err)
	}
	s, err := expand.Document(r.cfg, w)
	if err != nil {
		return "", r.wrap(err, tmpl)
	}
	return s, nil
}

func (r *resolver) wrap(err error, tmpl string) error {
	var unset expand.UnsetParameterError
	if errors.As(err, &unset) {
		key := ""
		if unset.Node != nil && unset.Node.Param != nil {
			key = unset.Node.Param.Value
		}
		return &UnresolvedPlaceholderError{Key: key, Template: tmpl}
	}
	var cmdSubst expand.UnexpectedCommandError
	if errors.As(err, &cmdSubst) {
		return fmt.Errorf("command substitution is not allowed in %q", tmpl)
	}
	return fmt.Errorf("expand %q: %w", tmpl, err)
}

// Expand substitutes placeholders in a single value without tokenising it.
// It is used for action parameters.
func Expand(tmpl string, ec *execctx.Context) (string, error) {
	return newResolver(ec).document(tmpl)
}

// contextEnviron exposes the execution context to the expander. Empty values
// count as set.
type contextEnviron struct {
	ec *execctx.Context
}

func (e contextEnviron) Get(name string) expand.Variable {
	v, ok := e.ec.Lookup(name)
	if !ok {
		return expand.Variable{}
	}
	return expand.Variable{Set: true, Exported: true, Kind: expand.String, Str: execctx.Stringify(v)}
}

func (e contextEnviron) Each(fn func(name string, vr expand.Variable) bool) {
	for _, k := range e.ec.Keys() {
		if !fn(k, e.Get(k)) {
			return
		}
	}
}
