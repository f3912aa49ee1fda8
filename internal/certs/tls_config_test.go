package certs

import (
	"crypto/tls"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClientTrustsConfiguredCA(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	if err := os.WriteFile(caPath, block, 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}

	// httptest certificates are issued for example.com and 127.0.0.1.
	tlsConfig, err := LoadClientTLSConfig(Files{CAFile: caPath}, server.URL)
	if err != nil {
		t.Fatalf("LoadClientTLSConfig: %v", err)
	}
	if tlsConfig.ServerName != "127.0.0.1" {
		t.Fatalf("unexpected server name %q", tlsConfig.ServerName)
	}

	resp, err := NewHTTPClient(tlsConfig, 2*time.Second).Get(server.URL)
	if err != nil {
		t.Fatalf("request with configured CA: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	if _, err := NewHTTPClient(&tls.Config{MinVersion: tls.VersionTLS12}, 2*time.Second).Get(server.URL); err == nil {
		t.Fatalf("expected verification failure without the CA")
	}
}

func TestLoadClientTLSConfigValidates(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.pem")
	if err := os.WriteFile(bogus, []byte("not pem"), 0o600); err != nil {
		t.Fatalf("write bogus: %v", err)
	}

	cases := map[string]struct {
		files Files
		url   string
	}{
		"cert without key": {Files{CertFile: bogus}, "https://collector.example.com"},
		"missing url":      {Files{}, ""},
		"no hostname":      {Files{}, "https:///path"},
		"bad ca":           {Files{CAFile: bogus}, "https://collector.example.com"},
		"bad keypair":      {Files{CertFile: bogus, KeyFile: bogus}, "https://collector.example.com"},
	}
	for name, tc := range cases {
		if _, err := LoadClientTLSConfig(tc.files, tc.url); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	if !(Files{}).Empty() || (Files{CAFile: "x"}).Empty() {
		t.Fatalf("unexpected Empty result")
	}
}
