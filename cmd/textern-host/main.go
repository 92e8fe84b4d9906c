// Command textern-host is the native messaging host for the Textern browser
// extension. The browser starts it and talks to it over standard input and
// output; humans only run it with --version or the doctor subcommand.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/textern/internal/config"
	"github.com/mattjoyce/textern/internal/doctor"
	"github.com/mattjoyce/textern/internal/host"
	"github.com/mattjoyce/textern/internal/log"
	"github.com/mattjoyce/textern/internal/protocol"
	"github.com/mattjoyce/textern/internal/scratch"
	"github.com/mattjoyce/textern/internal/watch"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "doctor" {
		return runDoctor(args[1:], stdout, stderr)
	}
	return runHost(ctx, args, stdin, stdout, stderr)
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprint(w, `textern-host - native messaging host for the Textern extension

Usage:
  textern-host [flags] [browser arguments...]
  textern-host doctor [--config PATH] [--editor JSON] [--format human|json]

The browser starts the host; running it by hand is only useful with --version
or the doctor subcommand.

Flags:
`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func runHost(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("textern-host", pflag.ContinueOnError)
	// Browsers append their own arguments: Firefox passes the manifest path and
	// the extension id, Chrome the caller origin and on Windows --parent-window.
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "Path to the host configuration file")
	logLevel := fs.String("log-level", "", "Log level override (debug, info, warn, error)")
	showVersion := fs.Bool("version", false, "Print version information and exit")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printUsage(stdout, fs)
			return 0
		}
		fmt.Fprintf(stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Fprintf(stdout, "textern-host version %s\n", version)
		return 0
	}

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logOut := stderr
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	log.Setup(cfg.Log.Level, cfg.Log.Format, logOut)
	logger := log.WithComponent("main")
	logger.Info("textern-host starting", "version", version, "config", cfg.SourceFile, "pid", os.Getpid())
	if extra := fs.Args(); len(extra) > 0 {
		logger.Debug("ignoring browser arguments", "args", extra)
	}

	store, err := scratch.New(cfg.ScratchParent)
	if err != nil {
		logger.Error("failed to create scratch directory", "parent", cfg.ScratchParent, "error", err)
		return 1
	}

	watcher, err := watch.New(store.Dir())
	if err != nil {
		logger.Error("failed to watch scratch directory", "dir", store.Dir(), "error", err)
		if cerr := store.Close(); cerr != nil {
			logger.Warn("failed to remove scratch directory", "error", cerr)
		}
		return 1
	}

	h := host.New(store, watcher, protocol.NewReader(stdin), protocol.NewWriter(stdout), host.Options{
		DefaultKillTimeout: cfg.DefaultKillTimeout,
	})
	if err := h.Run(ctx); err != nil {
		return 1
	}
	return 0
}

func runDoctor(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to the host configuration file")
	editorCmd := fs.String("editor", "", `Editor command as a JSON array, e.g. '["gvim", "-f"]'`)
	format := fs.String("format", "human", "Output format (human, json)")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 1
	}

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, *editorCmd).Validate()

	switch *format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	default:
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}
