package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Mindburn-Labs/tokenledger/pkg/config"
	"github.com/Mindburn-Labs/tokenledger/pkg/session"

	_ "github.com/lib/pq" // Postgres driver
)

// Version is the binary version, set at build time with -ldflags.
var Version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	slog.SetDefault(newLogger(cfg, stderr))

	switch args[1] {
	case "demo":
		return runDemoCmd(cfg, args[2:], stdout, stderr)
	case "profile":
		return runProfileCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "tokenledger %s (protocol %s)\n", Version, session.ProtocolVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: tokenledger <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Commands:")
	_, _ = fmt.Fprintln(w, "  demo [--profile path]   Run issue, split, join, move and swap on an in-process network")
	_, _ = fmt.Fprintln(w, "  profile <path>          Validate a network profile")
	_, _ = fmt.Fprintln(w, "  version                 Print version information")
}
