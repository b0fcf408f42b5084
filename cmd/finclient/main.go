// Command finclient is a terminal client for the personal finance backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"finance-client/pkg/config"
	"finance-client/pkg/httpclient"
	"finance-client/pkg/logging"
	promMetrics "finance-client/pkg/metrics/prometheus"
)

func main() {
	// Load .env for local development; a missing file is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]
	cmd, ok := commands[name]
	if !ok {
		if name != "help" && name != "-h" && name != "--help" {
			fmt.Fprintf(os.Stderr, "finclient: unknown command %q\n\n", name)
		}
		usage(os.Stderr)
		os.Exit(2)
	}

	base := logging.DefaultConfig()
	if name == "serve" {
		base = logging.ServiceConfig()
	}
	logger, err := logging.NewLoggerFromEnv(base)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", zap.Error(err))
		os.Exit(1)
	}

	collector, err := promMetrics.NewPrometheusCollector("finclient")
	if err != nil {
		logger.Fatal("Failed to create metrics collector", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, collector)
	if err != nil {
		logger.Error("Failed to initialize client", zap.Error(err))
		os.Exit(1)
	}
	a.out = os.Stdout
	a.in = os.Stdin

	err = cmd.run(ctx, a, args)
	if cerr := a.close(); cerr != nil {
		logger.Warn("shutdown incomplete", zap.Error(cerr))
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "finclient: %s\n", userMessage(err))
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: finclient <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-20s %s\n", name, commands[name].summary)
	}
}

// userMessage keeps backend details and hides transport internals.
func userMessage(err error) string {
	var se *httpclient.StatusError
	if errors.As(err, &se) || errors.Is(err, httpclient.ErrTransport) {
		return httpclient.Message(err)
	}
	return err.Error()
}
