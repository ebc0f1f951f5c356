// Package main provides the retrieval core binary: a single process that
// loads configuration, wires the four channel clients, the intent
// classifier, the relevance cache, and the orchestrator together, and
// serves them over HTTP.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"
	"github.com/spf13/cobra"

	"github.com/hybridretrieval/retrieval-core/internal/api"
	"github.com/hybridretrieval/retrieval-core/internal/bus"
	"github.com/hybridretrieval/retrieval-core/internal/cache"
	"github.com/hybridretrieval/retrieval-core/internal/channel"
	"github.com/hybridretrieval/retrieval-core/internal/channel/graphstore"
	"github.com/hybridretrieval/retrieval-core/internal/channel/sparse"
	"github.com/hybridretrieval/retrieval-core/internal/channel/vector"
	"github.com/hybridretrieval/retrieval-core/internal/config"
	"github.com/hybridretrieval/retrieval-core/internal/embedding"
	"github.com/hybridretrieval/retrieval-core/internal/intent"
	"github.com/hybridretrieval/retrieval-core/internal/orchestrator"
	"github.com/hybridretrieval/retrieval-core/internal/pkg/logger"
	"github.com/hybridretrieval/retrieval-core/internal/telemetry"
	"github.com/hybridretrieval/retrieval-core/internal/types"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "retrieval-core",
		Short: "4-way hybrid retrieval core: dense, sparse, graph-local, graph-global fusion",
		Long: `retrieval-core serves the hybrid retrieval core over HTTP: intent
classification, concurrent dense/sparse/graph-local/graph-global channel
dispatch, weighted reciprocal rank fusion, and a namespace-scoped
relevance cache.

Examples:
  retrieval-core serve
  retrieval-core serve --config ./retrieval.yaml --port 8080
  retrieval-core version`,
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the retrieval core HTTP server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringP("config", "c", "", "config file path")
	serveCmd.Flags().BoolP("verbose", "v", false, "verbose (debug) logging")
	serveCmd.Flags().Int("port", 0, "HTTP server port (overrides config)")
	serveCmd.Flags().String("host", "", "HTTP server host (overrides config)")
	serveCmd.Flags().String("qdrant", "", "Qdrant URL (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("retrieval-core %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")
	qdrantURL, _ := cmd.Flags().GetString("qdrant")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if qdrantURL != "" {
		cfg.Qdrant.URL = qdrantURL
	}

	logLevel := cfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	log := logger.New(logLevel, cfg.Log.Format)
	log.Info("starting retrieval core", "version", version, "host", cfg.Host, "port", cfg.Port)

	deps := make(map[string]api.Pinger)

	// Qdrant: backs the vector and sparse channels.
	qdrantHost, qdrantPort, err := parseQdrantURL(cfg.Qdrant.URL)
	if err != nil {
		return fmt.Errorf("invalid qdrant URL: %w", err)
	}
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   qdrantHost,
		Port:   qdrantPort,
		APIKey: cfg.Qdrant.APIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant client: %w", err)
	}
	defer func() { _ = qc.Close() }()
	log.Info("connected to qdrant", "host", qdrantHost, "port", qdrantPort)

	vectorClient := vector.New(qc, vector.Config{
		Timeout:          time.Duration(cfg.Retrieval.ChannelTimeoutMS) * time.Millisecond,
		CollectionPrefix: cfg.Qdrant.CollectionPrefix,
	})
	sparseClient := sparse.New(qc, sparse.Config{
		Timeout:          time.Duration(cfg.Retrieval.ChannelTimeoutMS) * time.Millisecond,
		CollectionPrefix: cfg.Qdrant.CollectionPrefix,
	})
	deps["qdrant"] = vectorClient

	// Graph store: backs the graph-local and graph-global channels.
	graphStore, err := graphstore.New(graphstore.Config{
		URL:                 cfg.GraphStore.RedisURL,
		Timeout:             time.Duration(cfg.Retrieval.ChannelTimeoutMS) * time.Millisecond,
		ConfidenceThreshold: cfg.GraphStore.EntityConfidenceThresh,
	})
	if err != nil {
		return fmt.Errorf("failed to create graph store: %w", err)
	}
	defer func() { _ = graphStore.Close() }()
	deps["graph_store"] = graphStore
	log.Info("connected to graph store")

	channels := []channel.Client{
		vectorClient,
		sparseClient,
		graphstore.NewLocalClient(graphStore),
		graphstore.NewGlobalClient(graphStore),
	}

	// Embedding service: feeds the vector/sparse channels and the intent
	// classifier's canonical embeddings.
	embedder := embedding.New(embedding.Config{
		BaseURL: cfg.Embedding.URL,
		Timeout: time.Duration(cfg.Embedding.TimeoutMS) * time.Millisecond,
	})

	intentClassifier := intent.New(embedder, log, intent.Config{
		CacheSize:           cfg.Intent.CacheSize,
		ConfidenceThreshold: cfg.Intent.ConfidenceThreshold,
		FallbackConfidence:  cfg.Intent.FallbackConfidence,
	})
	// Warm the classifier ahead of the first request rather than paying
	// the canonical-embedding cost on a caller's request. A failure here
	// only means the classifier starts in fallback-only mode; it never
	// blocks startup.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := intentClassifier.WarmUp(warmCtx); err != nil {
		log.Warn("intent classifier warm-up failed, starting in fallback-only mode", "error", err)
	}
	warmCancel()

	// The cache backend is the in-process LRU unless a Redis URL is set,
	// in which case replicas share one tier and one invalidation surface.
	var relevanceCache relevanceCacheBackend
	if cfg.Cache.RedisURL != "" {
		redisTier, err := cache.NewRedisTier(cache.RedisConfig{
			URL: cfg.Cache.RedisURL,
			TTL: time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis cache tier: %w", err)
		}
		defer func() { _ = redisTier.Close() }()
		deps["cache_redis"] = redisTier
		relevanceCache = redisTier
		log.Info("relevance cache backed by redis", "url", cfg.Cache.RedisURL)
	} else {
		relevanceCache = cache.New(cache.Config{
			Capacity: cfg.Cache.Capacity,
			TTL:      time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		})
	}

	metrics := telemetry.NewMetrics()
	var traceStore *telemetry.Store
	if cfg.Observability.MetricsEnabled {
		traceStore = telemetry.NewStore(cfg.Observability.TraceCapacity)
	}

	eventBus, err := bus.NewBus(cfg.Bus)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	if cfg.Bus.EventLogPath != "" {
		eventLogger, err := bus.NewEventLogger(cfg.Bus.EventLogPath)
		if err != nil {
			return fmt.Errorf("failed to create bus event logger: %w", err)
		}
		eventBus = bus.NewLoggedBus(eventBus, eventLogger, log)
	}
	eventBus = bus.NewInstrumentedBus(eventBus, metrics)
	defer func() { _ = eventBus.Close() }()
	log.Info("event bus ready", "type", cfg.Bus.Type)

	weightProfiles := make(map[types.Intent]types.WeightProfile, len(cfg.Retrieval.WeightProfiles))
	for name, w := range cfg.Retrieval.WeightProfiles {
		weightProfiles[types.Intent(name)] = types.WeightProfile{
			Vector:      w.Vector,
			Sparse:      w.Sparse,
			GraphLocal:  w.GraphLocal,
			GraphGlobal: w.GraphGlobal,
		}
	}

	orch := orchestrator.New(channels, embedder, intentClassifier, relevanceCache, log, metrics, traceStore, eventBus, orchestrator.Config{
		RRFK:                cfg.Retrieval.RRFK,
		ChannelTimeout:      time.Duration(cfg.Retrieval.ChannelTimeoutMS) * time.Millisecond,
		RequestDeadline:     time.Duration(cfg.Retrieval.RequestDeadlineMS) * time.Millisecond,
		MaxInFlightRequests: cfg.Retrieval.MaxInFlightRequests,
		NamespaceDefault:    cfg.Retrieval.NamespaceDefault,
		WeightProfiles:      weightProfiles,
	})

	server := api.New(api.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Version:     version,
		CORSOrigins: cfg.Security.CORSOrigins,
		RateLimit:   cfg.Security.RateLimit,
		RateBurst:   cfg.Security.RateBurst,
	}, orch, relevanceCache, eventBus, metrics, deps, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			log.Error("http server error", "error", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
		return err
	}

	log.Info("retrieval core stopped")
	return nil
}

// relevanceCacheBackend is what both the orchestrator and the cache
// invalidation endpoint need from whichever cache backend is configured.
type relevanceCacheBackend interface {
	orchestrator.Cache
	api.NamespaceInvalidator
}

// parseQdrantURL extracts host and gRPC port from a Qdrant URL, matching
// the teacher's http-port-plus-one convention for deriving the gRPC port
// from the commonly-configured HTTP URL.
func parseQdrantURL(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, err
	}

	h := u.Hostname()
	if h == "" {
		h = "localhost"
	}

	portStr := u.Port()
	httpPort := 6333
	if portStr != "" {
		httpPort, err = strconv.Atoi(portStr)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port: %s", portStr)
		}
	}

	return h, httpPort + 1, nil
}
