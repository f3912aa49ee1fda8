package diag

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/pptpagent/internal/config"
)

const (
	DefaultBaseURL = "http://" + config.DefaultMetricsAddr

	reportName  = "diagnostics/report.json"
	configName  = "config/agent.yaml"
	stateName   = "state/" + config.StateFileName
	metricsName = "observability/metrics.prom"
	readyName   = "observability/readyz.json"
)

// Options selects what goes into a diagnostics bundle.
type Options struct {
	ConfigPath string
	DataDir    string
	OutputPath string
	// BaseURL points at the running agent's HTTP listener. Empty skips the
	// scrape.
	BaseURL string
	Timeout time.Duration
}

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now        func() time.Time
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Report is written into the bundle and returned to the caller.
type Report struct {
	GeneratedAt string          `json:"generated_at"`
	OutputPath  string          `json:"output_path"`
	ConfigPath  string          `json:"config_path,omitempty"`
	DataDir     string          `json:"data_dir,omitempty"`
	AgentID     string          `json:"agent_id,omitempty"`
	Targets     int             `json:"targets"`
	Metrics     *MetricsSummary `json:"metrics,omitempty"`
	Ready       *bool           `json:"ready,omitempty"`
	GoVersion   string          `json:"go_version"`
	Platform    string          `json:"platform"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// MetricsSummary pulls the headline numbers out of a metrics scrape.
type MetricsSummary struct {
	QueueDepth   *int64  `json:"queue_depth,omitempty"`
	QueueDropped *uint64 `json:"queue_dropped_total,omitempty"`
	SinkFailures *uint64 `json:"sink_failures_total,omitempty"`
	Probes       uint64  `json:"probes_total"`
}

// Collect writes a tar.gz bundle describing the local agent. Missing inputs
// become warnings in the report; only failures to write the bundle itself
// are returned as errors.
func Collect(ctx context.Context, opts Options, deps Dependencies) (Report, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	ts := now().UTC()
	report := Report{
		GeneratedAt: ts.Format(time.RFC3339),
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		logger.Printf("diag: %s", msg)
		report.Warnings = append(report.Warnings, msg)
	}

	files := make(map[string][]byte)

	dataDir := strings.TrimSpace(opts.DataDir)
	if opts.ConfigPath != "" {
		cfg, err := config.Load(ctx, opts.ConfigPath)
		if err != nil {
			warn("config unavailable: %v", err)
			if raw, readErr := os.ReadFile(opts.ConfigPath); readErr == nil {
				files[configName] = RedactText(raw)
			}
		} else {
			report.ConfigPath = opts.ConfigPath
			report.Targets = len(cfg.Targets)
			if dataDir == "" {
				dataDir = cfg.Agent.DataDir
			}
			data, err := yaml.Marshal(RedactConfig(cfg))
			if err != nil {
				warn("marshal config: %v", err)
			} else {
				files[configName] = data
			}
		}
	}

	if dataDir != "" {
		report.DataDir = dataDir
		if state, err := config.LoadState(ctx, dataDir); err != nil {
			warn("state unavailable: %v", err)
		} else {
			report.AgentID = state.AgentID
			if data, err := yaml.Marshal(state); err == nil {
				files[stateName] = data
			}
		}
	}

	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		scrapeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if body, err := fetch(scrapeCtx, client, base+"/metrics", false); err != nil {
			warn("metrics scrape failed: %v", err)
		} else {
			files[metricsName] = body
			report.Metrics = SummarizeMetrics(body)
		}

		if body, err := fetch(scrapeCtx, client, base+"/readyz", true); err != nil {
			warn("readiness check failed: %v", err)
		} else {
			files[readyName] = body
			var status struct {
				Ready bool `json:"ready"`
			}
			if err := json.Unmarshal(body, &status); err == nil {
				report.Ready = &status.Ready
			}
		}
	}

	outPath := opts.OutputPath
	if outPath == "" {
		outPath = fmt.Sprintf("pptpagent-diag-%s.tar.gz", ts.Format("20060102T150405Z"))
	}
	report.OutputPath = outPath

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return report, fmt.Errorf("marshal report: %w", err)
	}
	files[reportName] = payload

	if err := writeBundle(outPath, files, ts); err != nil {
		return report, err
	}
	return report, nil
}

// fetch reads url. allowUnavailable accepts 503 so an unready agent still
// reports why.
func fetch(ctx context.Context, client *http.Client, url string, allowUnavailable bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok && !(allowUnavailable && resp.StatusCode == http.StatusServiceUnavailable) {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

func writeBundle(path string, files map[string][]byte, modTime time.Time) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure output directory %q: %w", dir, err)
		}
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create bundle %q: %w", path, err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	// report last so it can be found quickly with tar -t
	names := []string{configName, stateName, metricsName, readyName, reportName}
	for _, name := range names {
		data, ok := files[name]
		if !ok {
			continue
		}
		header := &tar.Header{Name: name, Mode: 0o600, Size: int64(len(data)), ModTime: modTime}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %q: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write %q: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return out.Close()
}

// SummarizeMetrics extracts queue, sink and probe totals from a Prometheus
// text scrape. Unknown lines are ignored.
func SummarizeMetrics(body []byte) *MetricsSummary {
	summary := &MetricsSummary{}
	for _, line := range strings.Split(string(body), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		name := fields[0]
		if i := strings.IndexByte(name, '{'); i >= 0 {
			name = name[:i]
		}
		switch name {
		case "pptpagent_queue_depth_number":
			v := int64(value)
			summary.QueueDepth = &v
		case "pptpagent_queue_dropped_total":
			v := uint64(value)
			summary.QueueDropped = &v
		case "pptpagent_sink_failures_total":
			v := uint64(value)
			summary.SinkFailures = &v
		case "pptpagent_probes_total":
			summary.Probes += uint64(value)
		}
	}
	return summary
}
