package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tlsutil "github.com/psantana5/twrap/pkg/tls"
)

func TestReadPayload(t *testing.T) {
	inline, err := readPayload(`{"job": "etl"}`)
	if err != nil || string(inline) != `{"job": "etl"}` {
		t.Errorf("inline payload = %q, %v", inline, err)
	}

	path := filepath.Join(t.TempDir(), "cli.json")
	if err := os.WriteFile(path, []byte(`{"job": "file"}`), 0644); err != nil {
		t.Fatal(err)
	}
	fromFile, err := readPayload("@" + path)
	if err != nil || string(fromFile) != `{"job": "file"}` {
		t.Errorf("file payload = %q, %v", fromFile, err)
	}

	if _, err := readPayload("@" + filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for a missing payload file")
	}
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"metrics": map[string]any{"team": "data", "rate": 0},
		"empty":   map[string]any{},
		"list":    []any{"a", "b"},
	})
	want := map[string]string{
		"metrics.team": "data",
		"metrics.rate": "0",
		"empty":        "{}",
		"list":         `["a","b"]`,
	}
	if len(got) != len(want) {
		t.Fatalf("flatten = %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestConfigCert(t *testing.T) {
	dir := t.TempDir()
	certFile = filepath.Join(dir, "status.pem")
	certKeyFile = filepath.Join(dir, "status-key.pem")
	certCN = "wrapper-01"
	certHosts = []string{"10.0.0.5"}

	var out bytes.Buffer
	configCertCmd.SetOut(&out)
	if err := runConfigCert(configCertCmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "status.pem") {
		t.Errorf("output = %q", out.String())
	}

	info, err := os.Stat(certKeyFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}
	if _, err := tlsutil.LoadServerConfig(certFile, certKeyFile, certFile); err != nil {
		t.Errorf("generated pair does not load: %v", err)
	}
}
