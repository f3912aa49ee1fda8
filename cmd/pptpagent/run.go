package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/pptpagent/internal/certs"
	"github.com/pingsantohq/pptpagent/internal/config"
	"github.com/pingsantohq/pptpagent/internal/events"
	"github.com/pingsantohq/pptpagent/internal/health"
	"github.com/pingsantohq/pptpagent/internal/logging"
	"github.com/pingsantohq/pptpagent/internal/metrics"
	"github.com/pingsantohq/pptpagent/internal/pptp"
	"github.com/pingsantohq/pptpagent/internal/probe"
	"github.com/pingsantohq/pptpagent/internal/resultstore"
	"github.com/pingsantohq/pptpagent/internal/runtime"
	"github.com/pingsantohq/pptpagent/internal/scheduler"
	"github.com/pingsantohq/pptpagent/internal/server"
	"github.com/pingsantohq/pptpagent/internal/transmit"
	"github.com/pingsantohq/pptpagent/internal/uplink"
	"github.com/pingsantohq/pptpagent/internal/worker"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	shutdownFlushTimeout     = 5 * time.Second
	uplinkTimeout            = 15 * time.Second
)

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to agent configuration file (default $PPTPAGENT_CONFIG or "+config.DefaultConfigPath+")")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Agent.DataDir == "" {
		return fmt.Errorf("agent data_dir must be configured")
	}
	state, err := config.EnsureState(ctx, cfg.Agent.DataDir, time.Now())
	if err != nil {
		return fmt.Errorf("load agent state: %w", err)
	}

	logger := logging.NewWriter(stderr)
	logger.Printf("agent %s starting (targets=%d, data_dir=%s)", state.AgentID, len(cfg.Targets), cfg.Agent.DataDir)

	metricsStore := metrics.NewStore()
	healthChecker := health.NewChecker(metricsStore, 3*cfg.Run.Cadence)
	healthChecker.SetExpectProbes(len(cfg.Targets) > 0)
	recorder := events.NewLogRecorder(logger)

	runner := probe.NewRunner(
		probe.WithProber(pptp.NewProber(pptp.Dependencies{Logger: logger})),
		probe.WithConcurrency(cfg.Probes.Workers),
		probe.WithRateLimit(cfg.Probes.RatePerSec, cfg.Probes.Burst),
	)

	opts := []runtime.Option{
		runtime.WithQueueCapacity(cfg.Queue.MemItemsCap),
		runtime.WithMetricsStore(metricsStore),
		runtime.WithEventRecorder(recorder),
		runtime.WithWorkerOptions(
			worker.WithBatcher(runner.Batch),
			worker.WithLogger(logger),
		),
	}
	if cfg.Probes.Workers > 0 {
		opts = append(opts, runtime.WithWorkerOptions(worker.WithWorkerCount(cfg.Probes.Workers)))
	}
	if cfg.Run.TickResolution > 0 {
		opts = append(opts, runtime.WithTickResolution(cfg.Run.TickResolution))
	}
	rt := runtime.New(opts...)
	rt.UpdateTargets(targetSpecs(cfg))

	latest := resultstore.NewMemory()
	sinks, uplinkClient, closeSinks, err := buildSinks(ctx, cfg, state, latest, metricsStore, stdout, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	transmitter := rt.NewTransmitter(sinks,
		transmit.WithSendRecorder(healthChecker),
		transmit.WithLogger(logger),
	)

	srv := buildServer(cfg, server.Dependencies{
		Logger:  logger,
		Metrics: metricsStore,
		Health:  healthChecker,
		Results: latest,
		Prober:  runner,
	})
	if cfg.Metrics.ProbeToken == "" {
		logger.Printf("on-demand probe endpoint disabled: metrics.probe_token not set")
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	grp, groupCtx := errgroup.WithContext(runCtx)
	wait := rt.Start(groupCtx)

	grp.Go(func() error {
		if err := transmitter.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if uplinkClient != nil {
		grp.Go(func() error {
			err := uplinkClient.RunHeartbeat(groupCtx, defaultHeartbeatInterval)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	grp.Go(func() error {
		return reloadOnHangup(groupCtx, *configPath, rt, healthChecker, logger)
	})

	grp.Go(func() error {
		<-groupCtx.Done()
		wait()
		return nil
	})

	grp.Go(func() error {
		return serve(groupCtx, srv, logger)
	})

	err = grp.Wait()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
	defer cancel()
	if ferr := transmitter.Flush(flushCtx); ferr != nil {
		logger.Printf("final flush failed: %v", ferr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Printf("agent stopped")
	return nil
}

func loadConfig(ctx context.Context, path string) (config.Config, error) {
	if path == "" {
		return config.LoadFromEnv(ctx)
	}
	return config.Load(ctx, path)
}

func buildServer(cfg config.Config, deps server.Dependencies) *server.Server {
	return server.New(server.Config{
		Addr:             cfg.Metrics.Addr,
		BearerToken:      cfg.Metrics.ProbeToken,
		ProbeTimeout:     cfg.Probes.Timeout,
		ProbeReadTimeout: cfg.Probes.ReadTimeout,
	}, deps)
}

func targetSpecs(cfg config.Config) []scheduler.TargetSpec {
	specs := make([]scheduler.TargetSpec, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		specs = append(specs, scheduler.SpecFor(t, cfg.Run.Cadence, cfg.Probes.Timeout, cfg.Probes.ReadTimeout))
	}
	return specs
}

// buildSinks assembles result delivery. The in-memory store always receives
// results; the collector and database are added when configured, and stdout
// is used when neither is.
func buildSinks(ctx context.Context, cfg config.Config, state config.State, latest *resultstore.Memory, store *metrics.Store, stdout io.Writer, logger *log.Logger) (transmit.MultiSink, *uplink.Client, func(), error) {
	sinks := transmit.MultiSink{latest}
	closeFn := func() {}

	var client *uplink.Client
	if cfg.Agent.Server != "" {
		var httpClient *http.Client
		files := certs.Files(cfg.Agent.TLS)
		if !files.Empty() {
			tlsConfig, err := certs.LoadClientTLSConfig(files, cfg.Agent.Server)
			if err != nil {
				return nil, nil, closeFn, fmt.Errorf("load collector tls: %w", err)
			}
			httpClient = certs.NewHTTPClient(tlsConfig, uplinkTimeout)
		}

		c, err := uplink.NewClient(
			uplink.Config{
				ServerURL: cfg.Agent.Server,
				AgentID:   state.AgentID,
				Labels:    cfg.Agent.LabelMap(),
			},
			uplink.Dependencies{
				HTTPClient: httpClient,
				Metrics:    store,
				Logger:     logger,
			},
		)
		if err != nil {
			return nil, nil, closeFn, fmt.Errorf("init uplink client: %w", err)
		}
		client = c
		sinks = append(sinks, c)
	}

	if cfg.Agent.DatabaseURL != "" {
		pg, err := resultstore.NewPostgresSink(ctx, cfg.Agent.DatabaseURL, state.AgentID)
		if err != nil {
			return nil, nil, closeFn, fmt.Errorf("init result database: %w", err)
		}
		closeFn = pg.Close
		sinks = append(sinks, pg)
	}

	if len(sinks) == 1 {
		sinks = append(sinks, uplink.NewWriterSink(stdout))
	}
	return sinks, client, closeFn, nil
}

// reloadOnHangup re-reads the target list on SIGHUP. Other settings need a
// restart.
func reloadOnHangup(ctx context.Context, configPath string, rt *runtime.Runtime, checker *health.Checker, logger *log.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			cfg, err := loadConfig(ctx, configPath)
			if err != nil {
				logger.Printf("reload failed, keeping current targets: %v", err)
				continue
			}
			rt.UpdateTargets(targetSpecs(cfg))
			checker.SetExpectProbes(len(cfg.Targets) > 0)
			logger.Printf("reloaded %d targets", rt.ScheduledTargets())
		}
	}
}

func serve(ctx context.Context, srv *server.Server, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("http listening on http://%s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
