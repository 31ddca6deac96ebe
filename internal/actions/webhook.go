package actions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/internal/execctx"
	"github.com/psantana5/twrap/pkg/retry"
)

// webhookAction sends selected context keys as a JSON document. With no
// keys the whole context is sent.
type webhookAction struct {
	base
	url     string
	method  string
	headers map[string]string
	keys    []string
	client  *resty.Client
	retry   retry.Config
}

func newWebhookAction(b base, params map[string]any, _ Deps) (Action, error) {
	p := struct {
		URL        string            `mapstructure:"url"`
		Method     string            `mapstructure:"method"`
		Headers    map[string]string `mapstructure:"headers"`
		Keys       []string          `mapstructure:"keys"`
		Timeout    time.Duration     `mapstructure:"timeout"`
		Retries    int               `mapstructure:"retries"`
		RetryDelay time.Duration     `mapstructure:"retry_delay"`
	}{Method: http.MethodPost, Timeout: 10 * time.Second, Retries: 2, RetryDelay: time.Second}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, errors.New("url is required")
	}
	rc := retry.DefaultConfig()
	rc.MaxRetries = p.Retries
	rc.InitialBackoff = p.RetryDelay
	return &webhookAction{
		base:    b,
		url:     p.URL,
		method:  p.Method,
		headers: p.Headers,
		keys:    p.Keys,
		client:  resty.New().SetTimeout(p.Timeout),
		retry:   rc,
	}, nil
}

func (a *webhookAction) Run(ctx context.Context, ec *execctx.Context, dry bool) error {
	url, err := command.Expand(a.url, ec)
	if err != nil {
		return err
	}
	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range a.headers {
		if headers[k], err = command.Expand(v, ec); err != nil {
			return fmt.Errorf("header %s: %w", k, err)
		}
	}
	body := a.body(ec)
	if dry {
		return nil
	}

	return retry.Do(ctx, a.retry, func() error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(body).
			Execute(a.method, url)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("%s %s returned %d", a.method, url, resp.StatusCode())
		}
		return nil
	})
}

func (a *webhookAction) body(ec *execctx.Context) map[string]any {
	if len(a.keys) == 0 {
		return ec.Snapshot()
	}
	out := make(map[string]any, len(a.keys))
	for _, k := range a.keys {
		if v, ok := ec.Lookup(k); ok {
			out[k] = v
		}
	}
	return out
}
