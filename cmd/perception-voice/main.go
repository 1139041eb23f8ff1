package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/perception-voice/internal/client"
	"github.com/lexiqai/perception-voice/internal/config"
	"github.com/lexiqai/perception-voice/internal/ingest"
	"github.com/lexiqai/perception-voice/internal/observability"
	"github.com/lexiqai/perception-voice/internal/resilience"
	"github.com/lexiqai/perception-voice/internal/server"
	"github.com/lexiqai/perception-voice/internal/stt"
	"github.com/lexiqai/perception-voice/internal/transcript"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `Usage:
  perception-voice [-c config.yml] serve [-v]
  perception-voice [-c config.yml] client set <uid>
  perception-voice [-c config.yml] client get <uid>
  perception-voice --version
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("perception-voice", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := flags.String("c", "", "path to config.yml")
	showVersion := flags.Bool("version", false, "print version and exit")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *showVersion {
		fmt.Fprintf(stdout, "perception-voice %s\n", version)
		return exitOK
	}

	rest := flags.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	switch rest[0] {
	case "serve":
		return runServe(*configPath, rest[1:], stderr)
	case "client":
		return runClient(*configPath, rest[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
}

func runServe(configPath string, args []string, stderr io.Writer) int {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { fmt.Fprint(stderr, usage) }
	verbose := flags.Bool("v", false, "debug logging")
	if err := flags.Parse(args); err != nil || flags.NArg() != 0 {
		if flags.NArg() != 0 {
			fmt.Fprint(stderr, usage)
		}
		return exitUsage
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		// Logger is not configured yet
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitFailure
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("version", version).
		Str("socket", cfg.SocketFile()).
		Int("retention_minutes", cfg.RetentionMinutes).
		Str("http_addr", cfg.HTTPAddr).
		Str("grpc_health_addr", cfg.GRPCHealthAddr).
		Bool("stt_enabled", cfg.STTEnabled()).
		Str("log_level", cfg.LogLevel).
		Msg("Perception voice service starting")

	if err := serve(cfg); err != nil {
		logger.Error().Err(err).Msg("Service failed")
		return exitFailure
	}
	logger.Info().Msg("Service exited gracefully")
	return exitOK
}

func serve(cfg *config.Config) error {
	logger := observability.GetLogger()

	log := transcript.NewLog(cfg.Retention(), transcript.WithDiscardPhrases(cfg.DiscardPhrases))
	svc := transcript.NewService(log, transcript.NewCursorTable(cfg.MaxCursors))

	srv := server.New(server.NewDispatcher(svc), server.Options{
		SocketPath:      cfg.SocketFile(),
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxMessageSize:  cfg.MaxMessageSize,
		MaxConnections:  int64(cfg.MaxConnections),
	})
	// Bind before anything else so a second instance fails fast
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ctx)
	})
	g.Go(func() error {
		return log.Run(ctx, cfg.SweepInterval)
	})

	if cfg.HTTPAddr != "" {
		startHTTP(ctx, g, cfg, svc)
	}

	if cfg.GRPCHealthAddr != "" {
		health := observability.NewGRPCHealthServer()
		health.MarkServing()
		g.Go(func() error {
			return health.Serve(ctx, cfg.GRPCHealthAddr)
		})
	}

	err := g.Wait()
	logger.Info().Int("utterances", log.Len()).Msg("Shutting down")
	return err
}

func startHTTP(ctx context.Context, g *errgroup.Group, cfg *config.Config, svc *transcript.Service) {
	logger := observability.GetLogger()
	mux := http.NewServeMux()

	var breaker *resilience.CircuitBreaker
	if cfg.IngestEnabled && cfg.STTEnabled() {
		breaker = stt.NewDeepgramBreaker(cfg)
	}

	mux.HandleFunc("/health", observability.HealthCheckHandler(version, func() interface{} {
		details := map[string]interface{}{
			"transcript":  svc.Stats(),
			"stt_enabled": breaker != nil,
		}
		if breaker != nil {
			state, requests, failures, failureRate := breaker.GetStats()
			details["stt"] = map[string]interface{}{
				"circuit":      state.String(),
				"requests":     requests,
				"failures":     failures,
				"failure_rate": failureRate,
			}
		}
		return details
	}))
	mux.HandleFunc("/ready", observability.ReadinessHandler(version, readinessChecks(cfg, breaker)))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	var ingestHandler *ingest.Handler
	if cfg.IngestEnabled {
		var factory stt.Factory
		if breaker != nil {
			factory = stt.NewDeepgramFactory(cfg, breaker)
		}
		ingestHandler = ingest.NewHandler(svc, cfg, factory)
		mux.Handle("/ingest", ingestHandler)
		logger.Info().Bool("audio", factory != nil).Msg("Ingest enabled at /ingest")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
		}
		// Hijacked websocket connections are not covered by Shutdown
		if ingestHandler != nil {
			ingestHandler.Shutdown()
		}
		return nil
	})
}

// readinessChecks dials the socket and, when audio transcription is on, reports the
// Deepgram circuit. An open circuit means new audio sessions will not be transcribed.
func readinessChecks(cfg *config.Config, breaker *resilience.CircuitBreaker) map[string]observability.HealthCheckFunc {
	socketPath := cfg.SocketFile()
	checks := map[string]observability.HealthCheckFunc{
		"socket": func(ctx context.Context) (bool, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "unix", socketPath)
			if err != nil {
				return false, err
			}
			conn.Close()
			return true, nil
		},
	}
	if breaker != nil {
		checks["stt"] = func(ctx context.Context) (bool, error) {
			if state := breaker.GetState(); state == resilience.StateOpen {
				return false, fmt.Errorf("deepgram circuit %s", state)
			}
			return true, nil
		}
	}
	return checks
}

func runClient(configPath string, args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 || (args[0] != "set" && args[0] != "get") || args[1] == "" {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	command, uid := args[0], args[1]

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitFailure
	}
	observability.InitLoggerWithWriter(cfg.LogLevel, cfg.LogPretty, stderr)

	c := client.New(cfg.SocketFile(), client.Options{
		Timeout:        cfg.ClientTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.ClientRetryAttempts,
			InitialBackoff:    cfg.ClientRetryBackoff,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "set":
		err = c.Set(ctx, uid)
	case "get":
		var text string
		text, err = c.Get(ctx, uid)
		if err == nil && text != "" {
			fmt.Fprintln(stdout, text)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}
