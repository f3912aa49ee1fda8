package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/pingsantohq/pptpagent/internal/config"
	"github.com/pingsantohq/pptpagent/internal/diag"
	"github.com/pingsantohq/pptpagent/internal/logging"
)

func diagnostics(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("diag", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to agent configuration file")
	dataDir := fs.String("data-dir", "", "Override for agent data directory")
	output := fs.String("output", "", "Bundle path (default ./pptpagent-diag-<ts>.tar.gz)")
	baseURL := fs.String("url", diag.DefaultBaseURL, "Running agent HTTP address; empty skips the scrape")
	timeout := fs.Duration("timeout", 3*time.Second, "HTTP timeout for the scrape")

	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := diag.Collect(ctx, diag.Options{
		ConfigPath: *configPath,
		DataDir:    *dataDir,
		OutputPath: *output,
		BaseURL:    *baseURL,
		Timeout:    *timeout,
	}, diag.Dependencies{Logger: logging.NewWriter(stderr)})
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "diagnostics written to %s (%d warnings)\n", report.OutputPath, len(report.Warnings))
	return nil
}
