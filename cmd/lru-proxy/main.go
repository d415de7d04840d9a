package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lruproxy "github.com/always-cache/lru-proxy"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	// CLI flags
	supportedFlag       string
	limitFlag           int
	providerFlag        string
	maxEntriesFlag      int
	maxAgeFlag          time.Duration
	upstreamTimeoutFlag time.Duration
	portFlag            int
	quietFlag           bool
	templatesFlag       string
	configFlag          string
	verbosityTraceFlag  bool
	logFilenameFlag     string

	// this is set by goreleaser
	version string
)

var rootCmd = &cobra.Command{
	Use:   "lru-proxy",
	Short: "Caching proxy for a single upstream resource",
	Long: `lru-proxy serves one upstream resource from an in-memory LRU cache.

Request the resource by using its URL as the path:

  curl http://localhost:3300/https://skimdb.npmjs.com/registry/_design/app/_view/browseAuthors?limit=10

Missing responses are streamed from the upstream and stored while they
are sent. The limit query parameter is capped by --limit.`,
	Args: cobra.NoArgs,
	Run:  run,
}

func init() {
	bindFlags(rootCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	if version == "" {
		version = "DEV"
	}
	rootCmd.Version = version
}

func bindFlags(cmd *cobra.Command) {
	defaults := defaultConfig()
	flags := cmd.Flags()
	flags.StringVar(&supportedFlag, "supported", defaults.Supported, "Upstream URL to proxy and cache")
	flags.IntVar(&limitFlag, "limit", defaults.Limit, "Upper bound and default of the limit query parameter")
	flags.StringVar(&providerFlag, "provider", defaults.Provider, "Cache provider (memory or sqlite, both in-memory)")
	flags.IntVar(&maxEntriesFlag, "max-entries", defaults.MaxEntries, "Maximum number of cached responses (0 for unbounded)")
	flags.DurationVar(&maxAgeFlag, "max-age", mustDuration(defaults.MaxAge), "Maximum age of a cached response (0 for no expiry)")
	flags.DurationVar(&upstreamTimeoutFlag, "upstream-timeout", mustDuration(defaults.UpstreamTimeout), "Timeout of upstream requests (0 for none)")
	flags.IntVar(&portFlag, "port", defaults.Port, "Port to listen on")
	flags.BoolVarP(&quietFlag, "quiet", "q", defaults.Quiet, "Do not log requests")
	flags.StringVar(&templatesFlag, "templates", defaults.Templates, "Directory with index.html and error.html overriding the built-in pages")
	flags.StringVarP(&configFlag, "config", "c", "", "Config file (.yaml, .yml or .toml), flags take precedence")
	flags.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flags.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
}

func run(cmd *cobra.Command, args []string) {
	setupLogging()

	config := defaultConfig()
	if configFlag != "" {
		var err error
		if config, err = getConfig(configFlag); err != nil {
			log.Fatal().Err(err).Str("file", configFlag).Msg("Could not read config")
		}
	}
	mergeFlags(cmd, &config)

	proxyConfig, err := config.proxyConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	proxy, err := lruproxy.New(proxyConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create proxy")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: proxy,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()
	log.Info().
		Str("provider", proxyConfig.Provider).
		Int("maxEntries", proxyConfig.MaxEntries).
		Dur("maxAge", proxyConfig.MaxAge).
		Msgf("Proxying port %v to %s", config.Port, config.Supported)

	select {
	case err := <-serverErr:
		proxy.Close()
		log.Fatal().Err(err).Msg("Server failed")
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Could not shut down gracefully")
	}
	if err := proxy.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close cache")
	}
}
