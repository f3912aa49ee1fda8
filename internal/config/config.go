package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/pptpagent/pkg/types"
)

const (
	envConfigPath     = "PPTPAGENT_CONFIG"
	envProbeToken     = "PPTPAGENT_PROBE_TOKEN"
	DefaultConfigPath = "/etc/pptpagent/agent.yaml"

	DefaultMetricsAddr = "127.0.0.1:9310"
	DefaultCadence     = time.Minute
)

type Config struct {
	Agent   AgentConfig    `yaml:"agent"`
	Probes  ProbeConfig    `yaml:"probes"`
	Queue   QueueConfig    `yaml:"queue"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Run     RunConfig      `yaml:"run"`
	Targets []types.Target `yaml:"targets"`
}

type AgentConfig struct {
	Server      string   `yaml:"server"`
	DataDir     string   `yaml:"data_dir"`
	Labels      []string `yaml:"labels"`
	DatabaseURL string   `yaml:"database_url"`
	TLS         TLSFiles `yaml:"tls"`
}

// TLSFiles points at optional PEM material for the collector connection.
type TLSFiles struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

type ProbeConfig struct {
	Workers     int           `yaml:"workers"`
	Timeout     time.Duration `yaml:"timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	RatePerSec  float64       `yaml:"rate_per_sec"`
	Burst       int           `yaml:"burst"`
}

type QueueConfig struct {
	MemItemsCap int `yaml:"mem_items_cap"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
	// ProbeToken enables POST /api/v1/probe and is the bearer token it
	// requires. PPTPAGENT_PROBE_TOKEN overrides it.
	ProbeToken string `yaml:"probe_token"`
}

type RunConfig struct {
	TickResolution time.Duration `yaml:"tick_resolution"`
	Cadence        time.Duration `yaml:"cadence"`
}

func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	data, err := readFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config %q: %w", path, err)
	}
	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

// LoadTargets reads a standalone target list, either a bare YAML sequence or
// a document with a top-level targets key.
func LoadTargets(ctx context.Context, path string) ([]types.Target, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var targets []types.Target
	if err := yaml.Unmarshal(data, &targets); err != nil {
		var doc struct {
			Targets []types.Target `yaml:"targets"`
		}
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("parse targets %q: %w", path, err)
		}
		targets = doc.Targets
	}

	targets = normalizeTargets(targets)
	if err := validateTargets(targets); err != nil {
		return nil, fmt.Errorf("validate targets %q: %w", path, err)
	}
	return targets, nil
}

func (c *Config) ApplyDefaults() {
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if token := strings.TrimSpace(os.Getenv(envProbeToken)); token != "" {
		c.Metrics.ProbeToken = token
	}
	if c.Queue.MemItemsCap <= 0 {
		c.Queue.MemItemsCap = 1024
	}
	if c.Run.Cadence <= 0 {
		c.Run.Cadence = DefaultCadence
	}
	c.Targets = normalizeTargets(c.Targets)
}

func (c Config) Validate() error {
	if c.Probes.Timeout < 0 || c.Probes.ReadTimeout < 0 {
		return errors.New("probe timeouts must not be negative")
	}
	if (c.Agent.TLS.CertFile == "") != (c.Agent.TLS.KeyFile == "") {
		return errors.New("agent.tls cert_file and key_file must be set together")
	}
	if c.Probes.RatePerSec < 0 {
		return errors.New("probes.rate_per_sec must not be negative")
	}
	return validateTargets(c.Targets)
}

// LabelMap converts "key=value" labels into a map, skipping malformed entries.
func (a AgentConfig) LabelMap() map[string]string {
	if len(a.Labels) == 0 {
		return nil
	}
	labels := make(map[string]string, len(a.Labels))
	for _, raw := range a.Labels {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		labels[key] = strings.TrimSpace(value)
	}
	return labels
}

func normalizeTargets(targets []types.Target) []types.Target {
	out := make([]types.Target, 0, len(targets))
	for _, t := range targets {
		t.Host = strings.TrimSpace(t.Host)
		if t.ID == "" && t.Host != "" {
			t.ID = defaultTargetID(t)
		}
		out = append(out, t)
	}
	return out
}

func defaultTargetID(t types.Target) string {
	port := t.Port
	if port <= 0 {
		port = 1723
	}
	id := net.JoinHostPort(t.Host, strconv.Itoa(port))
	if t.Login != "" {
		id = t.Login + "@" + id
	}
	return id
}

func validateTargets(targets []types.Target) error {
	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		if t.Host == "" {
			return fmt.Errorf("target %d: host is required", i)
		}
		if t.Port < 0 || t.Port > 65535 {
			return fmt.Errorf("target %q: port %d out of range", t.ID, t.Port)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("target %q: duplicate id", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return data, nil
}
