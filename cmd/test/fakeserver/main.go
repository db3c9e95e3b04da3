// Command fakeserver stands in for the backend when trying the launcher without Python.
// It reads PORT from the environment or ./.env, prints the usual startup lines and serves /api/health.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/envfile"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Port        int  `long:"port" description:"Port to listen on; defaults to PORT from the environment or .env"`
	RunDuration int  `long:"run-duration" description:"Duration in seconds to run before exiting"`
	Quiet       bool `long:"quiet" description:"Do not print the startup lines"`
	Unhealthy   bool `long:"unhealthy" description:"Answer health checks with 503"`
}

const defaultPort = 9002

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	port := opts.Port
	if port == 0 {
		port = portFromEnvironment()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.RunDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to listen on port %d: %v\n", port, err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if opts.Unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"healthy"}`)
	})
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "fakeserver")
	})
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	if !opts.Quiet {
		fmt.Println("Starting Multi-LLM Lawyer Bot server")
		fmt.Printf("Server running at http://localhost:%d\n", port)
		fmt.Printf("Health check endpoint: http://localhost:%d/api/health\n", port)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("fakeserver stopped")
}

func portFromEnvironment() int {
	if port, err := strconv.Atoi(os.Getenv(envfile.KeyPort)); err == nil && port > 0 {
		return port
	}
	if value, found, err := envfile.ReadValue(".env", envfile.KeyPort); err == nil && found {
		if port, err := strconv.Atoi(value); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}
