package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pingsantohq/pptpagent/internal/health"
	"github.com/pingsantohq/pptpagent/internal/metrics"
	"github.com/pingsantohq/pptpagent/internal/probe"
	"github.com/pingsantohq/pptpagent/internal/resultstore"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

const maxProbeBody = 64 << 10

// Config controls HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// BearerToken guards the on-demand probe endpoint. The endpoint is not
	// registered without one.
	BearerToken      string
	ProbeTimeout     time.Duration
	ProbeReadTimeout time.Duration
}

// Batcher runs probes on demand. *probe.Runner satisfies it.
type Batcher interface {
	Batch(ctx context.Context, reqs []probe.Request) ([]types.ProbeResult, error)
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger  *log.Logger
	Metrics *metrics.Store
	Health  *health.Checker
	Results *resultstore.Memory
	Prober  Batcher
	Now     func() time.Time
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

// New constructs the agent's local HTTP server.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9310"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewStore()
	}
	if deps.Results == nil {
		deps.Results = resultstore.NewMemory()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.NewHTTPHandler(deps.Metrics))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.HandleFunc("/readyz", readyHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/results", listResultsHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/results/{target_id}", getResultHandler(deps)).Methods(http.MethodGet)
	if deps.Prober != nil && cfg.BearerToken != "" {
		r.HandleFunc("/api/v1/probe", probeHandler(cfg, deps)).Methods(http.MethodPost)
	}

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}
}

func readyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if deps.Health == nil {
			writeJSON(w, http.StatusOK, map[string]any{"ready": true})
			return
		}
		ready, reasons := deps.Health.Ready(deps.Now())
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready, "reasons": reasons})
	}
}

func listResultsHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"results": deps.Results.Latest()})
	}
}

func getResultHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["target_id"]
		res, ok := deps.Results.Get(id)
		if !ok {
			http.Error(w, "target not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type probeRequest struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Login     string `json:"login"`
	Password  string `json:"password"`
	TimeoutMs int    `json:"timeout_ms"`
}

func probeHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorize(r, cfg.BearerToken) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req probeRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxProbeBody)).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		req.Host = strings.TrimSpace(req.Host)
		if req.Host == "" {
			http.Error(w, "host required", http.StatusBadRequest)
			return
		}
		if req.Port < 0 || req.Port > 65535 {
			http.Error(w, "port out of range", http.StatusBadRequest)
			return
		}

		timeout := cfg.ProbeTimeout
		if req.TimeoutMs > 0 {
			timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		}
		results, err := deps.Prober.Batch(r.Context(), []probe.Request{{
			TargetID:    "adhoc:" + req.Host,
			Host:        req.Host,
			Port:        req.Port,
			Login:       req.Login,
			Password:    req.Password,
			Timeout:     timeout,
			ReadTimeout: cfg.ProbeReadTimeout,
		}})
		if err != nil || len(results) == 0 {
			deps.Logger.Printf("on-demand probe %s failed: %v", req.Host, err)
			http.Error(w, "probe aborted", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, results[0])
	}
}

func authorize(r *http.Request, token string) bool {
	if token == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header[len(prefix):]), []byte(token)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
