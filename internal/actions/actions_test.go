package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/twrap/internal/config"
	"github.com/psantana5/twrap/internal/execctx"
	"github.com/psantana5/twrap/internal/history"
)

func build(t *testing.T, typ string, params map[string]any, deps Deps) Action {
	t.Helper()
	acts, err := Build([]config.ActionSpec{{Name: typ, Type: typ, Stage: "START", Params: params}}, deps)
	require.NoError(t, err)
	return acts[0]
}

func TestEnvAction(t *testing.T) {
	ec := execctx.New()
	ec.Set("BASE", "/srv")
	a := build(t, "env", map[string]any{"values": map[string]any{
		"DATA": "${BASE}/data",
		"PORT": 8080,
	}}, Deps{})

	require.NoError(t, a.Run(context.Background(), ec, false))
	v, _ := ec.String("DATA")
	assert.Equal(t, "/srv/data", v)
	v, _ = ec.String("PORT")
	assert.Equal(t, "8080", v)
}

func TestEnvActionUnresolved(t *testing.T) {
	a := build(t, "env", map[string]any{"values": map[string]any{"X": "${MISSING}"}}, Deps{})
	err := a.Run(context.Background(), execctx.New(), false)
	assert.Error(t, err)
}

func TestTempFileAction(t *testing.T) {
	dir := t.TempDir()
	ec := execctx.New()
	ec.Set("NAME", "world")
	a := build(t, "tempfile", map[string]any{
		"key":     "CFG",
		"dir":     dir,
		"pattern": "cfg-*.txt",
		"content": "hello ${NAME}",
	}, Deps{})

	require.NoError(t, a.Run(context.Background(), ec, false))
	path, ok := ec.String("CFG")
	require.True(t, ok)
	assert.Equal(t, dir, filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestTempFileActionDry(t *testing.T) {
	dir := t.TempDir()
	ec := execctx.New()
	a := build(t, "tempfile", map[string]any{"key": "CFG", "dir": dir, "pattern": "cfg-*.txt"}, Deps{})

	require.NoError(t, a.Run(context.Background(), ec, true))
	path, _ := ec.String("CFG")
	assert.Equal(t, filepath.Join(dir, "cfg-dry-run.txt"), path)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDotenvAction(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("A=1\n# comment\nB=\"two words\"\n"), 0o644))

	ec := execctx.New()
	ec.Set("APP_A", "keep")
	a := build(t, "dotenv", map[string]any{"path": path, "prefix": "APP_", "override": false}, Deps{})
	require.NoError(t, a.Run(context.Background(), ec, false))

	v, _ := ec.String("APP_A")
	assert.Equal(t, "keep", v)
	v, _ = ec.String("APP_B")
	assert.Equal(t, "two words", v)
}

func TestDotenvActionOptional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.env")
	a := build(t, "dotenv", map[string]any{"path": missing, "optional": true}, Deps{})
	assert.NoError(t, a.Run(context.Background(), execctx.New(), false))

	a = build(t, "dotenv", map[string]any{"path": missing}, Deps{})
	assert.Error(t, a.Run(context.Background(), execctx.New(), false))
}

func TestJQAction(t *testing.T) {
	ec := execctx.New()
	ec.Set("PAYLOAD", `{"items":[{"id":1},{"id":2}]}`)
	ec.Set("Team", "data")

	a := build(t, "jq", map[string]any{"query": "[.items[].id]", "key": "IDS", "input": "PAYLOAD"}, Deps{})
	require.NoError(t, a.Run(context.Background(), ec, false))
	v, _ := ec.String("IDS")
	assert.Equal(t, "[1,2]", v)

	a = build(t, "jq", map[string]any{"query": ".Team | ascii_upcase", "key": "TEAM"}, Deps{})
	require.NoError(t, a.Run(context.Background(), ec, false))
	v, _ = ec.String("TEAM")
	assert.Equal(t, "DATA", v)
}

func TestJQActionInvalidQuery(t *testing.T) {
	_, err := Build([]config.ActionSpec{{Type: "jq", Stage: "START", Params: map[string]any{"query": ".[", "key": "X"}}}, Deps{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestVaultAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/kv/data/jobs/etl" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Vault-Token") != "s.test" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"user":"etl","password":"hunter2"},"metadata":{"version":1}}}`))
	}))
	defer srv.Close()

	ec := execctx.New()
	ec.Set("JOB", "etl")
	a := build(t, "vault", map[string]any{
		"address": srv.URL,
		"token":   "s.test",
		"mount":   "kv",
		"path":    "jobs/${JOB}",
		"fields":  map[string]any{"DB_PASSWORD": "password"},
	}, Deps{})

	require.NoError(t, a.Run(context.Background(), ec, false))
	v, _ := ec.String("DB_PASSWORD")
	assert.Equal(t, "hunter2", v)
	_, ok := ec.Lookup("user")
	assert.False(t, ok)
}

func TestWebhookAction(t *testing.T) {
	var calls atomic.Int32
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ec := execctx.New()
	ec.Set("TOKEN", "abc")
	ec.Set(execctx.KeyExitCode, 3)
	ec.Set("SECRET", "do-not-send")
	a := build(t, "webhook", map[string]any{
		"url":         srv.URL,
		"headers":     map[string]any{"Authorization": "Bearer ${TOKEN}"},
		"keys":        []any{execctx.KeyExitCode},
		"retry_delay": "10ms",
	}, Deps{})

	require.NoError(t, a.Run(context.Background(), ec, false))
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, map[string]any{execctx.KeyExitCode: float64(3)}, got)
}

func TestWebhookActionDry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	a := build(t, "webhook", map[string]any{"url": srv.URL}, Deps{})
	require.NoError(t, a.Run(context.Background(), execctx.New(), true))
	assert.Zero(t, calls.Load())
}

func TestShellAction(t *testing.T) {
	ec := execctx.FromEnviron(os.Environ())
	ec.Set("WHO", "twrap")
	a := build(t, "shell", map[string]any{
		"command": []any{"sh", "-c", "echo hello $WHO"},
		"capture": "GREETING",
	}, Deps{})

	require.NoError(t, a.Run(context.Background(), ec, false))
	v, _ := ec.String("GREETING")
	assert.Equal(t, "hello twrap", v)
}

func TestShellActionFailure(t *testing.T) {
	ec := execctx.FromEnviron(os.Environ())
	a := build(t, "shell", map[string]any{"command": "sh -c 'echo bad >&2; exit 3'"}, Deps{})
	err := a.Run(context.Background(), ec, false)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bad"), err.Error())
}

func TestShellActionDry(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	ec := execctx.FromEnviron(os.Environ())
	ec.Set("MARKER", marker)
	a := build(t, "shell", map[string]any{"command": "touch ${MARKER}", "capture": "OUT"}, Deps{})

	require.NoError(t, a.Run(context.Background(), ec, true))
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
	v, ok := ec.String("OUT")
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestS3ActionDry(t *testing.T) {
	ec := execctx.New()
	ec.Set("DAY", "2024-01-01")
	a := build(t, "s3", map[string]any{
		"op":     "get",
		"bucket": "inputs",
		"object": "daily/${DAY}.csv",
		"path":   "/data/${DAY}.csv",
		"key":    "INPUT",
	}, Deps{})

	require.NoError(t, a.Run(context.Background(), ec, true))
	v, _ := ec.String("INPUT")
	assert.Equal(t, "/data/2024-01-01.csv", v)
}

func TestS3ActionValidation(t *testing.T) {
	tests := []map[string]any{
		{"op": "get", "bucket": "b", "object": "o"},
		{"op": "put", "bucket": "b", "object": "o"},
		{"op": "copy", "bucket": "b", "object": "o", "key": "K"},
		{"op": "get", "object": "o", "key": "K"},
	}
	for _, params := range tests {
		_, err := Build([]config.ActionSpec{{Type: "s3", Stage: "START", Params: params}}, Deps{})
		assert.ErrorIs(t, err, config.ErrInvalidConfig, "%v", params)
	}
}

func TestRecordAction(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	deps := Deps{
		History: config.History{Driver: "sqlite3", DSN: dsn},
		Team:    "data",
		Group:   "nightly",
		Job:     "etl",
	}
	acts, err := Build([]config.ActionSpec{{Type: "record", Stage: "END"}}, deps)
	require.NoError(t, err)

	ec := execctx.New()
	id := ec.ExecutionID()
	ec.Update(map[string]any{
		execctx.KeyExitCode:         2,
		execctx.KeyDuration:         int64(7),
		execctx.KeyAttempts:         3,
		execctx.KeyTerminationCause: "retry_exhausted",
		execctx.KeyHost:             "node-1",
	})

	require.NoError(t, acts[0].Run(context.Background(), ec, true))
	require.NoError(t, acts[0].Run(context.Background(), ec, false))

	store, err := history.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Recent(context.Background(), "etl", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ExecutionID)
	assert.Equal(t, 2, runs[0].ExitCode)
	assert.EqualValues(t, 7, runs[0].Duration)
	assert.Equal(t, 3, runs[0].Attempts)
	assert.Equal(t, "retry_exhausted", runs[0].Cause)
	assert.Equal(t, "node-1", runs[0].Host)
}
