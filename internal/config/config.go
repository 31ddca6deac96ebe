// Package config loads the wrapper configuration through viper and the
// per-invocation CLI payload.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/psantana5/twrap/internal/cgroups"
)

// ErrInvalidConfig is matched by every *Error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Error describes a configuration problem found before the run starts.
type Error struct {
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrInvalidConfig, msg)
	}
	return fmt.Sprintf("%v: %s: %s", ErrInvalidConfig, e.Field, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrInvalidConfig }

// Config is the typed wrapper configuration. Keys not modelled here are kept
// in Extra.
type Config struct {
	Metrics Metrics        `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Wrapper Wrapper        `mapstructure:"wrapper" json:"wrapper" yaml:"wrapper"`
	Log     Log            `mapstructure:"log" json:"log" yaml:"log"`
	Tracing Tracing        `mapstructure:"tracing" json:"tracing" yaml:"tracing"`
	Status  Status         `mapstructure:"status" json:"status" yaml:"status"`
	History History        `mapstructure:"history" json:"history" yaml:"history"`
	Extra   map[string]any `mapstructure:",remain" json:"extra,omitempty" yaml:"extra,omitempty"`
}

type Metrics struct {
	Namespace string `mapstructure:"namespace" json:"namespace" yaml:"namespace"`
	Team      string `mapstructure:"team" json:"team" yaml:"team"`
	Region    string `mapstructure:"region" json:"region" yaml:"region"`
	// Rate is the heartbeat interval while the child runs; zero disables it.
	Rate           time.Duration `mapstructure:"rate" json:"rate" yaml:"rate"`
	Sink           string        `mapstructure:"sink" json:"sink" yaml:"sink"`
	PushgatewayURL string        `mapstructure:"pushgateway_url" json:"pushgateway_url,omitempty" yaml:"pushgateway_url,omitempty"`
	TextfilePath   string        `mapstructure:"textfile_path" json:"textfile_path,omitempty" yaml:"textfile_path,omitempty"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

type Wrapper struct {
	// Timeout bounds each attempt; zero disables it.
	Timeout       time.Duration  `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	GracePeriod   time.Duration  `mapstructure:"grace_period" json:"grace_period" yaml:"grace_period"`
	Retries       int            `mapstructure:"retries" json:"retries" yaml:"retries"`
	RetryDelay    time.Duration  `mapstructure:"retry_delay" json:"retry_delay" yaml:"retry_delay"`
	RetryMaxDelay time.Duration  `mapstructure:"retry_max_delay" json:"retry_max_delay" yaml:"retry_max_delay"`
	OutputLimit   int            `mapstructure:"output_limit" json:"output_limit" yaml:"output_limit"`
	Stream        bool           `mapstructure:"stream" json:"stream" yaml:"stream"`
	Limits        cgroups.Limits `mapstructure:"limits" json:"limits" yaml:"limits"`
}

type Log struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
	Dir    string `mapstructure:"dir" json:"dir,omitempty" yaml:"dir,omitempty"`
}

type Tracing struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Insecure    bool   `mapstructure:"insecure" json:"insecure" yaml:"insecure"`
	Environment string `mapstructure:"environment" json:"environment,omitempty" yaml:"environment,omitempty"`
}

type Status struct {
	// Listen is the address of the status server, e.g. ":9102". Empty disables it.
	Listen   string `mapstructure:"listen" json:"listen,omitempty" yaml:"listen,omitempty"`
	// Token, when set, is required as a bearer token on every route but /healthz.
	Token    string `mapstructure:"token" json:"-" yaml:"-"`
	TLSCert  string `mapstructure:"tls_cert" json:"tls_cert,omitempty" yaml:"tls_cert,omitempty"`
	TLSKey   string `mapstructure:"tls_key" json:"tls_key,omitempty" yaml:"tls_key,omitempty"`
	ClientCA string `mapstructure:"client_ca" json:"client_ca,omitempty" yaml:"client_ca,omitempty"`
}

type History struct {
	Driver string `mapstructure:"driver" json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `mapstructure:"dsn" json:"-" yaml:"-"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("metrics.sink", "log")
	v.SetDefault("metrics.rate", 0)
	v.SetDefault("metrics.timeout", "10s")
	v.SetDefault("wrapper.timeout", 0)
	v.SetDefault("wrapper.grace_period", "10s")
	v.SetDefault("wrapper.retries", 0)
	v.SetDefault("wrapper.retry_max_delay", "5m")
	v.SetDefault("wrapper.output_limit", 1<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("history.driver", "sqlite3")
}

// Load decodes and validates the configuration held by v. Plain numbers are
// accepted for durations and read as seconds.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, &Error{Msg: "decode", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required keys and ranges.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Metrics.Namespace) == "":
		return &Error{Field: "metrics.namespace", Msg: "required"}
	case strings.TrimSpace(c.Metrics.Team) == "":
		return &Error{Field: "metrics.team", Msg: "required"}
	case c.Metrics.Rate < 0:
		return &Error{Field: "metrics.rate", Msg: "must not be negative"}
	case c.Wrapper.Timeout < 0:
		return &Error{Field: "wrapper.timeout", Msg: "must not be negative"}
	case c.Wrapper.GracePeriod < 0:
		return &Error{Field: "wrapper.grace_period", Msg: "must not be negative"}
	case c.Wrapper.Retries < 0:
		return &Error{Field: "wrapper.retries", Msg: "must not be negative"}
	case c.Wrapper.OutputLimit < 0:
		return &Error{Field: "wrapper.output_limit", Msg: "must not be negative"}
	}
	switch strings.ToLower(c.Metrics.Sink) {
	case "", "log", "none":
	case "pushgateway":
		if c.Metrics.PushgatewayURL == "" {
			return &Error{Field: "metrics.pushgateway_url", Msg: "required for the pushgateway sink"}
		}
	case "textfile":
		if c.Metrics.TextfilePath == "" {
			return &Error{Field: "metrics.textfile_path", Msg: "required for the textfile sink"}
		}
	default:
		return &Error{Field: "metrics.sink", Msg: fmt.Sprintf("unknown sink %q", c.Metrics.Sink)}
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return &Error{Field: "tracing.endpoint", Msg: "required when tracing is enabled"}
	}
	if (c.Status.TLSCert == "") != (c.Status.TLSKey == "") {
		return &Error{Field: "status.tls_cert", Msg: "tls_cert and tls_key must be set together"}
	}
	if c.Status.ClientCA != "" && c.Status.TLSCert == "" {
		return &Error{Field: "status.client_ca", Msg: "requires tls_cert and tls_key"}
	}
	if err := c.Wrapper.Limits.Validate(); err != nil {
		return &Error{Field: "wrapper.limits", Err: err}
	}
	return nil
}

// AsMap renders the configuration as a generic document for the execution
// context.
func (c *Config) AsMap() map[string]any {
	return toMap(c)
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsHook decodes numeric values into durations as seconds.
func secondsHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		var n float64
		if _, err := fmt.Sscanf(v, "%g", &n); err == nil && fmt.Sprint(n) == strings.TrimSpace(v) {
			return time.Duration(n * float64(time.Second)), nil
		}
	}
	return data, nil
}

func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
