package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	tlsutil "github.com/psantana5/twrap/pkg/tls"
)

// ClientOptions describe how to reach a status server. A CAFile switches the
// client to HTTPS; CertFile and KeyFile are presented for mutual TLS.
type ClientOptions struct {
	Token    string
	CAFile   string
	CertFile string
	KeyFile  string
	Timeout  time.Duration
}

// Client reads the endpoints of a running wrapper.
type Client struct {
	base string
	http *resty.Client
}

// NewClient builds a client for addr. An addr without a host, such as
// ":9102", targets the loopback interface.
func NewClient(addr string, opts ClientOptions) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("status address is required")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	client := resty.New().SetTimeout(opts.Timeout)
	scheme := "http"
	if opts.CAFile != "" {
		tc, err := tlsutil.LoadClientConfig(opts.CertFile, opts.KeyFile, opts.CAFile)
		if err != nil {
			return nil, err
		}
		client.SetTLSClientConfig(tc)
		scheme = "https"
	}
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	return &Client{base: scheme + "://" + addr, http: client}, nil
}

// Get fetches path and returns the response body. Non-2xx answers are errors.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	url := c.base + "/" + strings.TrimPrefix(path, "/")
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET %s returned %d: %s", url, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return resp.Body(), nil
}
