package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// errProbeFailed marks a run that completed but saw at least one failed
// probe. It maps to exit status 2.
var errProbeFailed = errors.New("probe failed")

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	cmd := args[0]
	var err error

	switch cmd {
	case "check":
		err = check(ctx, args[1:], stdout, stderr)
	case "batch":
		err = batch(ctx, args[1:], stdout, stderr)
	case "run":
		err = run(ctx, args[1:], stdout, stderr)
	case "diag":
		err = diagnostics(ctx, args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", cmd)
		printUsage(stderr)
		return 1
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errProbeFailed):
		return 2
	case errors.Is(err, flag.ErrHelp):
		return 0
	default:
		fmt.Fprintf(stderr, "command %s failed: %v\n", cmd, err)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "PPTP credential probe agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  pptpagent check --host HOST --login USER --password PASS [--port 1723] [--timeout 10s] [--read-timeout 5s] [--json]")
	fmt.Fprintln(w, "  pptpagent batch --targets targets.yaml [--workers N] [--rate N] [--timeout 10s] [--read-timeout 5s]")
	fmt.Fprintln(w, "  pptpagent run [--config /etc/pptpagent/agent.yaml]")
	fmt.Fprintln(w, "  pptpagent diag [--config PATH] [--output bundle.tar.gz] [--url http://127.0.0.1:9310]")
}
