package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/hubtap/internal/runner"
	"github.com/ajitpratap0/hubtap/pkg/clients"
	"github.com/ajitpratap0/hubtap/pkg/config"
	"github.com/ajitpratap0/hubtap/pkg/hubspot"
	jsonpool "github.com/ajitpratap0/hubtap/pkg/json"
	"github.com/ajitpratap0/hubtap/pkg/logger"
	"github.com/ajitpratap0/hubtap/pkg/observability"
	"github.com/ajitpratap0/hubtap/pkg/sink"
	"github.com/ajitpratap0/hubtap/pkg/state"
	"github.com/ajitpratap0/hubtap/pkg/streams"
)

var version = "0.1.0"

// exitCode carries the run outcome past cobra: 0 all streams synced, 1 none
// did, 2 some did.
var exitCode int

func main() {
	// Load .env if present for local development
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "hubtap",
		Short: "hubtap - incremental HubSpot CRM extraction",
		Long: `hubtap extracts HubSpot CRM data incrementally and emits it as
newline-delimited JSON RECORD and STATE documents. Bookmarks in the STATE
documents let the next run resume where the previous one stopped.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hubtap v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var asJSON bool
	streamsCmd := &cobra.Command{
		Use:   "streams",
		Short: "List extractable streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				type entry struct {
					Name        string `json:"name"`
					Replication string `json:"replication"`
					BookmarkKey string `json:"bookmark_key,omitempty"`
				}
				catalog := make([]entry, 0, len(streams.Catalog()))
				for _, def := range streams.Catalog() {
					catalog = append(catalog, entry{
						Name:        def.Name(),
						Replication: def.Replication(),
						BookmarkKey: def.BookmarkKey(),
					})
				}
				data, err := jsonpool.MarshalIndent(catalog, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			for _, def := range streams.Catalog() {
				key := def.BookmarkKey()
				if key == "" {
					key = "-"
				}
				fmt.Printf("%-20s %-12s %s\n", def.Name(), def.Replication(), key)
			}
			return nil
		},
	}
	streamsCmd.Flags().BoolVar(&asJSON, "json", false, "Emit the stream catalog as JSON")
	root.AddCommand(streamsCmd)

	var configFile, stateFile, logLevel string
	var selected []string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run an extraction",
		Long: `Run an extraction against the configured HubSpot account.

Records and state checkpoints go to the configured output; logs go to
stderr. When --state points at a file, bookmarks from a previous run are
loaded from it and the final bookmarks are written back.

Example:
  hubtap run --config hubtap.yaml --state state.json --streams contacts,deals`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, stateFile, selected, logLevel)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file (required)")
	_ = runCmd.MarkFlagRequired("config")
	runCmd.Flags().StringVar(&stateFile, "state", "", "Path to the bookmark state file")
	runCmd.Flags().StringSliceVar(&selected, "streams", nil, "Streams to sync; defaults to the full catalog")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func run(configFile, stateFile string, selected []string, logLevel string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if len(selected) > 0 {
		cfg.Extraction.Streams = selected
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout carries output documents; everything else goes to stderr
	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    "json",
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tracing, err := observability.Init("hubtap", version, cfg.Observability.EnableTracing)
	if err != nil {
		return err
	}

	runCtx := context.WithValue(context.Background(), logger.RunIDKey, uuid.NewString())
	log := logger.WithContext(runCtx)

	ctx, stop := signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.EnableMetrics {
		go serveMetrics(cfg.Observability.MetricsAddr, log)
	}

	store, err := state.Load(stateFile)
	if err != nil {
		return err
	}

	out, err := sink.New(ctx, &cfg.Output, log)
	if err != nil {
		return err
	}

	client := buildClient(cfg, log)

	rt := &streams.Runtime{
		Client:     client,
		Logger:     log,
		Discovered: streams.NewDiscovered(),
		PageSize:   cfg.Extraction.PageSize,
	}

	summary, runErr := runner.New(cfg, streams.Catalog(), store, out, rt, tracing.Tracer(), log, stateFile).Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := out.Close(closeCtx); err != nil {
		log.Error("failed to close output", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	if err := tracing.Shutdown(closeCtx); err != nil {
		log.Warn("failed to shut down tracing", zap.Error(err))
	}

	log.Info("run finished",
		zap.Int64("records", summary.Records()),
		zap.Int("streams", len(summary.Results)),
		zap.Int("failed", summary.Failed()),
		zap.Duration("duration", summary.Duration))

	exitCode = summary.ExitCode()
	if runErr != nil && exitCode == 0 {
		exitCode = 1
	}
	return nil
}

// buildClient wires the credentials, rate limiter, circuit breaker and retry
// policy into an API client.
func buildClient(cfg *config.Config, log *zap.Logger) *hubspot.Client {
	baseURL := cfg.Extraction.BaseURL
	if baseURL == "" {
		baseURL = hubspot.DefaultBaseURL
	}

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RateLimit = cfg.Reliability.RateLimitPerSec
	httpCfg.RateBurst = cfg.Reliability.RateBurst
	httpCfg.RequestTimeout = cfg.Reliability.RequestTimeout
	httpCfg.CircuitBreakerEnabled = cfg.Reliability.CircuitBreaker

	tokens := clients.NewTokenManager(clients.TokenConfig{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		RefreshToken: cfg.Credentials.RefreshToken,
		RedirectURI:  cfg.Credentials.RedirectURI,
		AccessToken:  cfg.Credentials.AccessToken,
		TokenURL:     baseURL + hubspot.TokenPath,
	}, log)

	retry := clients.NewRetryPolicy(cfg.Reliability.RetryAttempts, cfg.Reliability.RetryDelay)
	retry.MaxDelay = cfg.Reliability.MaxRetryDelay
	retry.Multiplier = cfg.Reliability.RetryMultiplier

	return hubspot.NewClient(hubspot.Options{
		BaseURL: baseURL,
		HTTP:    clients.NewHTTPClient(httpCfg, log),
		Tokens:  tokens,
		Retry:   retry,
		Logger:  log,
	})
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics listener stopped", zap.Error(err))
	}
}
