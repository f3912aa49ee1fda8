package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/pingsantohq/pptpagent/internal/config"
	"github.com/pingsantohq/pptpagent/internal/logging"
	"github.com/pingsantohq/pptpagent/internal/pptp"
	"github.com/pingsantohq/pptpagent/internal/probe"
	"github.com/pingsantohq/pptpagent/internal/uplink"
)

func batch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	targetsPath := fs.String("targets", "", "YAML file listing targets")
	workers := fs.Int("workers", 8, "Concurrent probes")
	ratePerSec := fs.Float64("rate", 0, "Max probes started per second (0 = unlimited)")
	timeout := fs.Duration("timeout", pptp.DefaultTimeout, "Connect timeout for targets without their own")
	readTimeout := fs.Duration("read-timeout", pptp.DefaultReadTimeout, "Per-reply read timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *targetsPath == "" {
		return errors.New("--targets is required")
	}

	targets, err := config.LoadTargets(ctx, *targetsPath)
	if err != nil {
		return err
	}

	logger := logging.NewWriter(stderr)
	reqs := make([]probe.Request, 0, len(targets))
	for _, t := range targets {
		if t.Disabled {
			continue
		}
		reqs = append(reqs, probe.RequestFor(t, *timeout, *readTimeout))
	}

	runner := probe.NewRunner(
		probe.WithConcurrency(*workers),
		probe.WithRateLimit(*ratePerSec, *workers),
	)
	results, batchErr := runner.Batch(ctx, reqs)

	if err := uplink.NewWriterSink(stdout).Send(context.WithoutCancel(ctx), results); err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	logger.Printf("batch complete: %d probed, %d succeeded, %d failed", len(results), len(results)-failed, failed)

	if batchErr != nil {
		return fmt.Errorf("batch interrupted: %w", batchErr)
	}
	if failed > 0 {
		return errProbeFailed
	}
	return nil
}
