package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
agent:
  server: https://central.example.com
  data_dir: /var/lib/pptpagent
  labels: ["site=ATL-1","isp=Comcast","broken"]
  tls:
    ca_file: /etc/pptpagent/ca.pem
probes:
  workers: 8
  timeout: 10s
  read_timeout: 5s
  rate_per_sec: 20
  burst: 5
queue:
  mem_items_cap: 5000
run:
  tick_resolution: 250ms
targets:
  - id: gw-atl
    host: 203.0.113.7
    login: admin
    password: admin
    cadence_ms: 30000
  - host: " 198.51.100.20 "
    port: 1724
    login: probe
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "agent.yaml", sampleYAML)

	cfg, err := Load(ctx, path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Agent.Server != "https://central.example.com" {
		t.Fatalf("unexpected server: %s", cfg.Agent.Server)
	}
	if cfg.Agent.TLS.CAFile != "/etc/pptpagent/ca.pem" || cfg.Agent.TLS.CertFile != "" {
		t.Fatalf("unexpected tls files: %+v", cfg.Agent.TLS)
	}
	if cfg.Probes.Timeout != 10*time.Second || cfg.Probes.ReadTimeout != 5*time.Second {
		t.Fatalf("unexpected probe timeouts: %+v", cfg.Probes)
	}
	if cfg.Run.TickResolution != 250*time.Millisecond {
		t.Fatalf("unexpected tick resolution: %s", cfg.Run.TickResolution)
	}
	if cfg.Queue.MemItemsCap != 5000 {
		t.Fatalf("unexpected queue mem cap: %d", cfg.Queue.MemItemsCap)
	}
	if cfg.Metrics.Addr != DefaultMetricsAddr {
		t.Fatalf("expected default metrics addr got %s", cfg.Metrics.Addr)
	}
	if cfg.Run.Cadence != DefaultCadence {
		t.Fatalf("expected default cadence got %s", cfg.Run.Cadence)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("expected 2 targets got %d", len(cfg.Targets))
	}
	if cfg.Targets[0].ID != "gw-atl" || cfg.Targets[0].Password != "admin" {
		t.Fatalf("unexpected first target: %+v", cfg.Targets[0])
	}
	if cfg.Targets[1].ID != "probe@198.51.100.20:1724" {
		t.Fatalf("expected generated id got %q", cfg.Targets[1].ID)
	}
}

func TestLabelMap(t *testing.T) {
	cfg, err := Load(context.Background(), writeFile(t, "agent.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	labels := cfg.Agent.LabelMap()
	if len(labels) != 2 || labels["site"] != "ATL-1" || labels["isp"] != "Comcast" {
		t.Fatalf("unexpected labels: %#v", labels)
	}
}

func TestLoadFromEnv(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "agent.yaml", sampleYAML)

	t.Setenv(envConfigPath, path)

	cfg, err := LoadFromEnv(ctx)
	if err != nil {
		t.Fatalf("LoadFromEnv returned error: %v", err)
	}

	if cfg.Agent.DataDir != "/var/lib/pptpagent" {
		t.Fatalf("unexpected data dir: %s", cfg.Agent.DataDir)
	}
}

func TestLoadProbeToken(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "agent.yaml", "metrics:\n  probe_token: from-file\n")

	cfg, err := Load(ctx, path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Metrics.ProbeToken != "from-file" {
		t.Fatalf("expected token from file got %q", cfg.Metrics.ProbeToken)
	}

	t.Setenv(envProbeToken, "from-env")
	cfg, err = Load(ctx, path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Metrics.ProbeToken != "from-env" {
		t.Fatalf("expected env token to win got %q", cfg.Metrics.ProbeToken)
	}
}

func TestLoadRejectsInvalidTargets(t *testing.T) {
	cases := map[string]string{
		"missing host":  "targets:\n  - id: a\n    login: x\n",
		"duplicate":     "targets:\n  - id: a\n    host: h1\n  - id: a\n    host: h2\n",
		"bad port":      "targets:\n  - host: h1\n    port: 70000\n",
		"tls cert only": "agent:\n  tls:\n    cert_file: /tmp/c.pem\n",
	}
	for name, body := range cases {
		_, err := Load(context.Background(), writeFile(t, "agent.yaml", body))
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if !strings.Contains(err.Error(), "validate config") {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "open config") {
		t.Fatalf("expected open error got %v", err)
	}
}

func TestLoadTargetsAcceptsBothShapes(t *testing.T) {
	ctx := context.Background()
	bare := "- host: 192.0.2.1\n  login: a\n- host: 192.0.2.2\n  login: b\n"
	wrapped := "targets:\n  - host: 192.0.2.1\n    login: a\n"

	targets, err := LoadTargets(ctx, writeFile(t, "bare.yaml", bare))
	if err != nil {
		t.Fatalf("bare list: %v", err)
	}
	if len(targets) != 2 || targets[1].ID != "b@192.0.2.2:1723" {
		t.Fatalf("unexpected bare targets: %+v", targets)
	}

	targets, err = LoadTargets(ctx, writeFile(t, "wrapped.yaml", wrapped))
	if err != nil {
		t.Fatalf("wrapped list: %v", err)
	}
	if len(targets) != 1 || targets[0].Login != "a" {
		t.Fatalf("unexpected wrapped targets: %+v", targets)
	}
}
