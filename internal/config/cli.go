package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CLI is the per-invocation payload passed with --cli-json.
type CLI struct {
	Group      string          `json:"group" yaml:"group"`
	Job        string          `json:"job" yaml:"job"`
	Entrypoint string          `json:"entrypoint" yaml:"entrypoint"`
	Command    json.RawMessage `json:"command" yaml:"-"`
	Actions    []ActionSpec    `json:"actions,omitempty" yaml:"actions,omitempty"`
	Retries    *int            `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// ActionSpec declares one lifecycle action.
type ActionSpec struct {
	Name   string         `json:"name" yaml:"name"`
	Type   string         `json:"type" yaml:"type"`
	Stage  string         `json:"stage" yaml:"stage"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// ParseCLI decodes the payload and fills defaults from cfg. Retries fall
// back to wrapper.retries.
func ParseCLI(data []byte, cfg *Config) (*CLI, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, &Error{Field: "cli", Msg: "empty payload"}
	}
	var cli CLI
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cli); err != nil {
		return nil, &Error{Field: "cli", Msg: "decode", Err: err}
	}
	if strings.TrimSpace(cli.Job) == "" {
		return nil, &Error{Field: "cli.job", Msg: "required"}
	}
	if cli.Retries == nil && cfg != nil {
		r := cfg.Wrapper.Retries
		cli.Retries = &r
	}
	if cli.Retries != nil && *cli.Retries < 0 {
		return nil, &Error{Field: "cli.retries", Msg: "must not be negative"}
	}
	for i, a := range cli.Actions {
		if a.Type == "" {
			return nil, &Error{Field: fmt.Sprintf("cli.actions[%d].type", i), Msg: "required"}
		}
		if a.Name == "" {
			cli.Actions[i].Name = fmt.Sprintf("%s-%d", a.Type, i)
		}
	}
	return &cli, nil
}

// RetryCount returns the effective retry count.
func (c *CLI) RetryCount() int {
	if c.Retries == nil {
		return 0
	}
	return *c.Retries
}

// AsMap renders the payload for the execution context. The command template
// is kept in its decoded form; a template that is not valid JSON is kept as
// its raw text.
func (c *CLI) AsMap() map[string]any {
	rest := *c
	rest.Command = nil
	m := toMap(&rest)
	if m == nil {
		return nil
	}
	var command any
	if len(c.Command) > 0 {
		if err := json.Unmarshal(c.Command, &command); err != nil {
			command = string(c.Command)
		}
	}
	m["command"] = command
	return m
}
