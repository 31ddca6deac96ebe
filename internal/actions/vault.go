package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/internal/execctx"
)

// vaultAction reads a KV v2 secret. Fields maps context keys to secret
// fields; without it every field is injected as prefix+field.
type vaultAction struct {
	base
	address string
	token   string
	mount   string
	path    string
	prefix  string
	fields  map[string]string
	timeout time.Duration
}

func newVaultAction(b base, params map[string]any, _ Deps) (Action, error) {
	p := struct {
		Address string            `mapstructure:"address"`
		Token   string            `mapstructure:"token"`
		Mount   string            `mapstructure:"mount"`
		Path    string            `mapstructure:"path"`
		Prefix  string            `mapstructure:"prefix"`
		Fields  map[string]string `mapstructure:"fields"`
		Timeout time.Duration     `mapstructure:"timeout"`
	}{Mount: "secret", Timeout: 30 * time.Second}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, errors.New("path is required")
	}
	return &vaultAction{
		base:    b,
		address: p.Address,
		token:   p.Token,
		mount:   p.Mount,
		path:    p.Path,
		prefix:  p.Prefix,
		fields:  p.Fields,
		timeout: p.Timeout,
	}, nil
}

func (a *vaultAction) Run(ctx context.Context, ec *execctx.Context, _ bool) error {
	address, err := command.Expand(a.address, ec)
	if err != nil {
		return err
	}
	token, err := command.Expand(a.token, ec)
	if err != nil {
		return err
	}
	path, err := command.Expand(a.path, ec)
	if err != nil {
		return err
	}

	cfg := vault.DefaultConfig()
	if cfg.Error != nil {
		return cfg.Error
	}
	cfg.Timeout = a.timeout
	client, err := vault.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("vault client: %w", err)
	}
	if address != "" {
		if err := client.SetAddress(address); err != nil {
			return err
		}
	}
	if token != "" {
		client.SetToken(token)
	}

	secret, err := client.KVv2(a.mount).Get(ctx, path)
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", a.mount, path, err)
	}

	if len(a.fields) == 0 {
		for field, v := range secret.Data {
			ec.Set(a.prefix+field, v)
		}
		return nil
	}
	for key, field := range a.fields {
		v, ok := secret.Data[field]
		if !ok {
			return fmt.Errorf("secret %s has no field %q", path, field)
		}
		ec.Set(key, v)
	}
	return nil
}
