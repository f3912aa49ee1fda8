package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pingsantohq/pptpagent/internal/metrics"
	"github.com/pingsantohq/pptpagent/internal/transmit"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

const (
	defaultResultsPath   = "/api/pptp/v1/results"
	defaultHeartbeatPath = "/api/pptp/v1/heartbeat"
	defaultHTTPTimeout   = 15 * time.Second
	userAgent            = "pptpagent/0.1.0"
)

// Config holds the static configuration for an Uplink client.
type Config struct {
	ServerURL string
	AgentID   string
	Labels    map[string]string
}

// Dependencies allow test overrides for HTTP client, clock, and logging.
type Dependencies struct {
	HTTPClient    *http.Client
	Metrics       *metrics.Store
	Now           func() time.Time
	Logger        *log.Logger
	ResultsPath   string
	HeartbeatPath string
	NewBatchID    func() string
}

// Client publishes probe results and heartbeats to the central collector.
type Client struct {
	httpClient   *http.Client
	resultsURL   string
	heartbeatURL string
	agentID      string
	labels       map[string]string
	metrics      *metrics.Store
	now          func() time.Time
	newBatchID   func() string
	logger       *log.Logger
	seq          atomic.Uint64
}

// NewClient builds an Uplink client from configuration and dependencies.
func NewClient(cfg Config, deps Dependencies) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("agent ID is required")
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	resultsPath := deps.ResultsPath
	if resultsPath == "" {
		resultsPath = defaultResultsPath
	}
	heartbeatPath := deps.HeartbeatPath
	if heartbeatPath == "" {
		heartbeatPath = defaultHeartbeatPath
	}
	newBatchID := deps.NewBatchID
	if newBatchID == nil {
		newBatchID = uuid.NewString
	}

	client := &Client{
		httpClient:   httpClient,
		resultsURL:   joinURL(cfg.ServerURL, resultsPath),
		heartbeatURL: joinURL(cfg.ServerURL, heartbeatPath),
		agentID:      cfg.AgentID,
		labels:       cloneLabels(cfg.Labels),
		metrics:      deps.Metrics,
		now:          now,
		newBatchID:   newBatchID,
		logger:       logger,
	}
	return client, nil
}

// Send implements transmit.Sink, encoding results into a result envelope.
func (c *Client) Send(ctx context.Context, results []types.ProbeResult) error {
	if len(results) == 0 {
		return nil
	}

	envelope := types.ResultEnvelope{
		AgentID:  c.agentID,
		BatchID:  c.newBatchID(),
		SentAt:   c.now().UTC(),
		BatchSeq: c.seq.Add(1),
		Labels:   cloneLabels(c.labels),
		Results:  cloneResults(results),
	}

	if err := c.post(ctx, c.resultsURL, envelope); err != nil {
		return fmt.Errorf("upload results: %w", err)
	}
	return nil
}

// post sends body as JSON and treats any non-2xx status as an error.
func (c *Client) post(ctx context.Context, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// RunHeartbeat emits heartbeat payloads on the configured interval until the context is cancelled.
func (c *Client) RunHeartbeat(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.sendHeartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sendHeartbeat(ctx)
		}
	}
}

func (c *Client) sendHeartbeat(ctx context.Context) {
	if err := c.post(ctx, c.heartbeatURL, c.heartbeatPayload()); err != nil && ctx.Err() == nil {
		c.logger.Printf("heartbeat failed: %v", err)
	}
}

func (c *Client) heartbeatPayload() heartbeatPayload {
	snap := metrics.Snapshot{}
	if c.metrics != nil {
		snap = c.metrics.Snapshot()
	}
	outcomes := make(map[string]uint64, len(snap.Outcomes))
	for _, oc := range snap.Outcomes {
		outcomes[oc.Outcome] = oc.Count
	}
	return heartbeatPayload{
		AgentID:           c.agentID,
		SentAt:            c.now().UTC(),
		Labels:            cloneLabels(c.labels),
		Ready:             snap.Ready,
		QueueDepth:        snap.QueueDepth,
		QueueDroppedTotal: snap.QueueDroppedTotal,
		ProbesTotal:       snap.ProbesTotal,
		Outcomes:          outcomes,
		SinkFailures:      snap.SinkFailures,
	}
}

type heartbeatPayload struct {
	AgentID           string            `json:"agent_id"`
	SentAt            time.Time         `json:"sent_at"`
	Labels            map[string]string `json:"labels"`
	Ready             bool              `json:"ready"`
	QueueDepth        int64             `json:"queue_depth"`
	QueueDroppedTotal uint64            `json:"queue_dropped_total"`
	ProbesTotal       uint64            `json:"probes_total"`
	Outcomes          map[string]uint64 `json:"outcomes"`
	SinkFailures      uint64            `json:"sink_failures_total"`
}

func cloneResults(in []types.ProbeResult) []types.ProbeResult {
	out := make([]types.ProbeResult, len(in))
	copy(out, in)
	return out
}

func cloneLabels(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func joinURL(base, path string) string {
	if base == "" {
		return path
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

var _ transmit.Sink = (*Client)(nil)
