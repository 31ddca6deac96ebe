package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateAndLoad(t *testing.T) {
	dir := t.TempDir()
	cert, key := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")
	if err := GenerateSelfSignedCert(cert, key, "node-1", "10.0.0.5", "jobs.internal"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(key)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key mode = %v, want 0600", info.Mode().Perm())
	}

	server, err := LoadServerConfig(cert, key, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(server.Certificates) != 1 || server.ClientAuth != tls.NoClientCert {
		t.Errorf("unexpected server config: %+v", server)
	}

	mtls, err := LoadServerConfig(cert, key, cert)
	if err != nil {
		t.Fatal(err)
	}
	if mtls.ClientAuth != tls.RequireAndVerifyClientCert || mtls.ClientCAs == nil {
		t.Error("client CA did not enable client verification")
	}

	client, err := LoadClientConfig(cert, key, cert)
	if err != nil {
		t.Fatal(err)
	}
	if client.RootCAs == nil || len(client.Certificates) != 1 {
		t.Errorf("unexpected client config: %+v", client)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadServerConfig(filepath.Join(dir, "missing.pem"), filepath.Join(dir, "missing.key"), ""); err == nil {
		t.Error("expected error for missing key pair")
	}
	bad := filepath.Join(dir, "bad.pem")
	if err := os.WriteFile(bad, []byte("not a cert"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClientConfig("", "", bad); err == nil {
		t.Error("expected error for unparsable CA")
	}
}
