// Command kiln is the CLI entry point: three subcommands, `dev`,
// `build`, and `start`, over the kiln package's three entry points of
// the same shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiln-framework/kiln"
	"github.com/kiln-framework/kiln/internal/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}

	log := logger.New("kiln")

	switch args[0] {
	case "dev":
		return runDev(log, args[1:])
	case "build":
		return runBuild(log, args[1:])
	case "start":
		return runStart(log, args[1:])
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "kiln: unknown command %q\n", args[0])
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  kiln dev   [--port N] [--host H] [--verbose] [--no-watch] [--no-studio]
  kiln build [--verbose]
  kiln start [--port N] [--host H] [--verbose] [--output DIR] [--https] [--cert FILE] [--key FILE]`)
}

func baseOptions(routesRoot string) kiln.Options {
	return kiln.Options{RoutesRoot: routesRoot}
}

func runDev(log *logger.Logger, args []string) int {
	fs := flag.NewFlagSet("dev", flag.ContinueOnError)
	port := fs.Int("port", 0, "server port")
	host := fs.String("host", "", "server host")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	noWatch := fs.Bool("no-watch", false, "disable the file watcher")
	noStudio := fs.Bool("no-studio", false, "disable the telemetry fan-out")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	log.Debug = *verbose
	opts := baseOptions("routes")
	opts.Log = log

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyShutdown(cancel)

	dev, errCh := kiln.StartDev(ctx, opts, kiln.DevOptions{
		Host:     *host,
		Port:     *port,
		NoWatch:  *noWatch,
		NoStudio: *noStudio,
	})

	select {
	case err := <-errCh:
		if err != nil {
			log.Errorf("kiln: dev loop exited: %v", err)
			return 1
		}
	case <-ctx.Done():
		dev.Stop()
	}
	return 0
}

func runBuild(log *logger.Logger, args []string) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	log.Debug = *verbose
	opts := baseOptions("routes")
	opts.Log = log

	result, err := kiln.Build(opts)
	if err != nil {
		log.Errorf("kiln: build failed: %v", err)
		return 1
	}
	log.Infof("kiln: built %d route(s), %d compiled, %d up to date",
		result.Routes, len(result.Compiled), len(result.Skipped))
	return 0
}

func runStart(log *logger.Logger, args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	port := fs.Int("port", 0, "server port")
	host := fs.String("host", "", "server host")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	output := fs.String("output", "", "output directory (overrides the default)")
	https := fs.Bool("https", false, "serve over TLS using --cert/--key")
	cert := fs.String("cert", "", "TLS certificate file")
	key := fs.String("key", "", "TLS key file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	log.Debug = *verbose
	opts := baseOptions("routes")
	opts.Log = log
	if *output != "" {
		opts.OutputRoot = *output
	}

	srv, err := kiln.Start(opts, kiln.StartOptions{
		Host:     *host,
		Port:     *port,
		HTTPS:    *https,
		CertFile: *cert,
		KeyFile:  *key,
	})
	if err != nil {
		log.Errorf("kiln: start failed: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	notifyShutdown(cancel)
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("kiln: shutdown: %v", err)
		return 1
	}
	return 0
}

func notifyShutdown(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
}
