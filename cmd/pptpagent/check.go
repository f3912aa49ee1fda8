package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/pingsantohq/pptpagent/internal/logging"
	"github.com/pingsantohq/pptpagent/internal/pptp"
	"github.com/pingsantohq/pptpagent/internal/probe"
)

func check(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	host := fs.String("host", "", "PPTP server host or IP")
	port := fs.Int("port", pptp.ControlPort, "PPTP control port")
	login := fs.String("login", "", "Login to present in the call request")
	password := fs.String("password", "", "Password (accepted, not transmitted by the control channel)")
	timeout := fs.Duration("timeout", pptp.DefaultTimeout, "Connect timeout")
	readTimeout := fs.Duration("read-timeout", pptp.DefaultReadTimeout, "Per-reply read timeout")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	verbose := fs.Bool("v", false, "Log handshake progress to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *host == "" {
		return errors.New("--host is required")
	}

	deps := pptp.Dependencies{}
	if *verbose {
		deps.Logger = logging.NewWriter(stderr)
	}
	req := probe.Request{
		TargetID:    *login + "@" + *host,
		Host:        *host,
		Port:        *port,
		Login:       *login,
		Password:    *password,
		Timeout:     *timeout,
		ReadTimeout: *readTimeout,
	}
	res := pptp.NewProber(deps).Probe(ctx, req.PPTP())

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(probe.ToResult(req, res, time.Now())); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		status := "OK"
		if !res.Success {
			status = "FAIL"
		}
		fmt.Fprintf(stdout, "%s %s [%s] %s\n", status, req.PPTP().Addr(), res.Kind, res.Message)
	}

	if !res.Success {
		return errProbeFailed
	}
	return nil
}
