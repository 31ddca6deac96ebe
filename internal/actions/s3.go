package actions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/psantana5/twrap/internal/command"
	"github.com/psantana5/twrap/internal/execctx"
)

const (
	s3Get = "get"
	s3Put = "put"
)

// s3Action moves one object between an S3 compatible store and the host.
//
// get downloads object to path and stores the path under key.
// put uploads path, or the value held by source when path is empty.
type s3Action struct {
	base
	op        string
	endpoint  string
	bucket    string
	object    string
	path      string
	key       string
	source    string
	accessKey string
	secretKey string
	region    string
	secure    bool
}

func newS3Action(b base, params map[string]any, _ Deps) (Action, error) {
	p := struct {
		Op        string `mapstructure:"op"`
		Endpoint  string `mapstructure:"endpoint"`
		Bucket    string `mapstructure:"bucket"`
		Object    string `mapstructure:"object"`
		Path      string `mapstructure:"path"`
		Key       string `mapstructure:"key"`
		Source    string `mapstructure:"source"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		Region    string `mapstructure:"region"`
		Secure    bool   `mapstructure:"secure"`
	}{Op: s3Get, Endpoint: "s3.amazonaws.com", Secure: true}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	p.Op = strings.ToLower(p.Op)
	if p.Bucket == "" || p.Object == "" {
		return nil, errors.New("bucket and object are required")
	}
	switch p.Op {
	case s3Get:
		if p.Key == "" {
			return nil, errors.New("key is required for get")
		}
	case s3Put:
		if p.Path == "" && p.Source == "" {
			return nil, errors.New("path or source is required for put")
		}
	default:
		return nil, fmt.Errorf("unknown op %q (want get or put)", p.Op)
	}
	return &s3Action{
		base:      b,
		op:        p.Op,
		endpoint:  p.Endpoint,
		bucket:    p.Bucket,
		object:    p.Object,
		path:      p.Path,
		key:       p.Key,
		source:    p.Source,
		accessKey: p.AccessKey,
		secretKey: p.SecretKey,
		region:    p.Region,
		secure:    p.Secure,
	}, nil
}

func (a *s3Action) Run(ctx context.Context, ec *execctx.Context, dry bool) error {
	object, err := command.Expand(a.object, ec)
	if err != nil {
		return err
	}
	path, err := command.Expand(a.path, ec)
	if err != nil {
		return err
	}
	if a.op == s3Get && path == "" {
		path = filepath.Join(os.TempDir(), filepath.Base(object))
	}

	if dry {
		if a.op == s3Get {
			ec.Set(a.key, path)
		}
		return nil
	}

	client, err := a.client(ec)
	if err != nil {
		return err
	}

	switch a.op {
	case s3Get:
		if err := client.FGetObject(ctx, a.bucket, object, path, minio.GetObjectOptions{}); err != nil {
			return fmt.Errorf("get s3://%s/%s: %w", a.bucket, object, err)
		}
		ec.Set(a.key, path)
	case s3Put:
		if path != "" {
			if _, err := client.FPutObject(ctx, a.bucket, object, path, minio.PutObjectOptions{}); err != nil {
				return fmt.Errorf("put s3://%s/%s: %w", a.bucket, object, err)
			}
			return nil
		}
		v, ok := ec.Lookup(a.source)
		if !ok {
			return fmt.Errorf("source key %s not set", a.source)
		}
		body := execctx.Stringify(v)
		_, err := client.PutObject(ctx, a.bucket, object, strings.NewReader(body), int64(len(body)),
			minio.PutObjectOptions{ContentType: "text/plain"})
		if err != nil {
			return fmt.Errorf("put s3://%s/%s: %w", a.bucket, object, err)
		}
	}
	return nil
}

// client uses static keys when given and the usual environment and
// instance credentials otherwise.
func (a *s3Action) client(ec *execctx.Context) (*minio.Client, error) {
	endpoint, err := command.Expand(a.endpoint, ec)
	if err != nil {
		return nil, err
	}
	accessKey, err := command.Expand(a.accessKey, ec)
	if err != nil {
		return nil, err
	}
	secretKey, err := command.Expand(a.secretKey, ec)
	if err != nil {
		return nil, err
	}

	var creds *credentials.Credentials
	if accessKey != "" {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
		})
	}
	return minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: a.secure,
		Region: a.region,
	})
}
