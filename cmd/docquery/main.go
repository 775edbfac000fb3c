package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/docquery/internal/config"
	"github.com/efebarandurmaz/docquery/internal/document"
	"github.com/efebarandurmaz/docquery/internal/embed"
	"github.com/efebarandurmaz/docquery/internal/llm"
	"github.com/efebarandurmaz/docquery/internal/llm/anthropic"
	"github.com/efebarandurmaz/docquery/internal/llm/openai"
	"github.com/efebarandurmaz/docquery/internal/observability"
	"github.com/efebarandurmaz/docquery/internal/rag"
	"github.com/efebarandurmaz/docquery/internal/secrets"
	"github.com/efebarandurmaz/docquery/internal/server"
	"github.com/efebarandurmaz/docquery/internal/temporal"
	"github.com/efebarandurmaz/docquery/internal/vector"
	"github.com/efebarandurmaz/docquery/internal/vector/qdrant"
)

const version = "0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "docquery",
		Short: "Retrieval-augmented question answering over your documents",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/docquery.yaml", "Config file path")

	var (
		ingestURL      string
		ingestUser     string
		ingestPassword string
		ingestDurable  bool
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Extract, chunk, embed, and store a document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			return runIngest(configPath, path, ingestURL, ingestUser, ingestPassword, ingestDurable)
		},
	}
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "Fetch the document from a URL instead of a local file")
	ingestCmd.Flags().StringVar(&ingestUser, "user", "", "Basic auth username for --url")
	ingestCmd.Flags().StringVar(&ingestPassword, "password", "", "Basic auth password for --url")
	ingestCmd.Flags().BoolVar(&ingestDurable, "durable", false, "Run the ingestion as a Temporal workflow (requires --url and a running worker)")

	var askStream bool
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question using the ingested documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(configPath, strings.Join(args, " "), askStream)
		},
	}
	askCmd.Flags().BoolVar(&askStream, "stream", false, "Print the answer as it is generated")

	var searchTopK int
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the stored chunks most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(configPath, strings.Join(args, " "), searchTopK)
		},
	}
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "Number of chunks to return (default: search.max_results)")

	collectionCmd := &cobra.Command{
		Use:   "collection",
		Short: "Inspect or delete the vector collection",
	}
	collectionInfoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show collection point count and dimension",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollectionInfo(configPath)
		},
	}
	collectionDeleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the collection and all stored chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollectionDelete(configPath)
		},
	}
	collectionCmd.AddCommand(collectionInfoCmd, collectionDeleteCmd)

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available LLM providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-14s %s\n", name, url)
			}
			fmt.Println("  anthropic      https://api.anthropic.com (completion only, no embeddings)")
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println("  none           (run without LLM — collection operations only)")
			fmt.Println()
			fmt.Println("Configure in docquery.yaml or via environment:")
			fmt.Println("  DOCQUERY_LLM_PROVIDER=groq")
			fmt.Println("  DOCQUERY_LLM_API_KEY=gsk_...")
			fmt.Println("  DOCQUERY_LLM_MODEL=openai/gpt-oss-20b")
		},
	}

	var healthAddr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API with health probes and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, healthAddr)
		},
	}
	serveCmd.Flags().StringVar(&healthAddr, "health-addr", ":8081", "Address for health probe endpoints")

	rootCmd.AddCommand(ingestCmd, askCmd, searchCmd, collectionCmd, providersCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the pipeline components every command needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider llm.Provider
	store    *vector.Gateway
	svc      *rag.Service
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config load failed (%v), using defaults\n", err)
		if cfg, err = config.Load(""); err != nil {
			return nil, err
		}
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	// Keys absent from config and environment may still live in the secret
	// store (file or Vault, depending on deployment).
	ctx := context.Background()
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretLLMAPIKey), "")
	}
	if cfg.Vector.APIKey == "" {
		cfg.Vector.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretVectorAPIKey), "")
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}

	transport, err := qdrant.New(qdrant.Config{
		Host:   cfg.Vector.Host,
		Port:   cfg.Vector.Port,
		APIKey: cfg.Vector.APIKey,
		UseTLS: cfg.Vector.UseTLS,
	})
	if err != nil {
		return nil, err
	}
	store := vector.NewGateway(transport, vector.DefaultRetryPolicy(), logger)

	// A configured zero overlap is a real choice, not an unset option.
	overlap := cfg.Chunk.Overlap
	if overlap == 0 {
		overlap = rag.NoOverlap
	}
	svc := rag.New(store, embed.New(provider), provider, rag.Options{
		Collection: cfg.Vector.Collection,
		TopK:       cfg.Search.MaxResults,
		ChunkSize:  cfg.Chunk.Size,
		Overlap:    overlap,
		Logger:     logger,
	})

	return &app{cfg: cfg, logger: logger, provider: provider, store: store, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing vector store", "error", err)
	}
}

// requireProvider fails fast for commands that need embeddings.
func (a *app) requireProvider() error {
	if a.provider == nil {
		return fmt.Errorf("no LLM provider configured — set llm.provider (see 'docquery providers')")
	}
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildProvider assembles the provider factory and creates the configured
// provider. A nil provider (provider "none") is a valid result.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	factory := llm.NewFactory()
	factory.Register("anthropic", func(c llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.New(c.APIKey, c.Model, c.BaseURL), nil
	})
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New("openai", c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	// All OpenAI-compatible providers
	for _, p := range []struct{ name, url string }{
		{"groq", llm.KnownProviders["groq"]},
		{"ollama", llm.KnownProviders["ollama"]},
		{"together", llm.KnownProviders["together"]},
		{"deepseek", llm.KnownProviders["deepseek"]},
		{"custom", ""},
	} {
		p := p
		factory.Register(p.name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			return openai.New(p.name, c.APIKey, c.Model, base, c.EmbedModel), nil
		})
	}

	// Defaults carry the retry budget; without them the factory returns a
	// bare client that gives up on the first transient failure.
	pcfg := llm.DefaultProviderConfig()
	pcfg.Provider = cfg.LLM.Provider
	pcfg.APIKey = cfg.LLM.APIKey
	pcfg.Model = cfg.LLM.Model
	pcfg.BaseURL = cfg.LLM.BaseURL
	pcfg.EmbedModel = cfg.LLM.EmbedModel
	return factory.Create(pcfg)
}

func runIngest(configPath, path, url, username, password string, durable bool) error {
	if path == "" && url == "" {
		return fmt.Errorf("provide a file path or --url")
	}
	if path != "" && url != "" {
		return fmt.Errorf("provide a file path or --url, not both")
	}
	if durable && url == "" {
		return fmt.Errorf("--durable requires --url")
	}

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if durable {
		return runDurableIngest(a, url, username, password)
	}
	if err := a.requireProvider(); err != nil {
		return err
	}

	ctx := context.Background()
	var doc *document.Document

	if url != "" {
		fetcher := document.NewFetcher(0)
		fmt.Printf("Fetching %s...\n", url)
		result, err := fetcher.Fetch(ctx, url, username, password)
		if err != nil {
			return err
		}
		defer result.Cleanup()

		if doc, err = result.Read(); err != nil {
			return err
		}
		doc.Name = document.SourceName(url)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if doc, err = document.New(filepath.Base(path), data); err != nil {
			return err
		}
	}

	report, err := a.svc.Ingest(ctx, doc)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

// runDurableIngest hands the ingestion to a Temporal worker and waits for the
// result, so a worker restart mid-download does not lose the job.
func runDurableIngest(a *app, url, username, password string) error {
	ctx := context.Background()

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  a.cfg.Temporal.Host,
		Namespace: a.cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	workflowID := "ingest-" + uuid.NewString()
	start := time.Now()

	run, err := c.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: a.cfg.Temporal.TaskQueue,
	}, temporal.IngestDocumentWorkflow, temporal.IngestInput{
		URL:      url,
		Username: username,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("starting workflow: %w", err)
	}
	observability.Audit().LogWorkflowStart(ctx, workflowID, url)
	fmt.Printf("Started workflow %s\n", workflowID)

	var output temporal.IngestOutput
	if err := run.Get(ctx, &output); err != nil {
		observability.Audit().LogWorkflowEnd(ctx, workflowID, false, time.Since(start), 0)
		return fmt.Errorf("workflow: %w", err)
	}
	observability.Audit().LogWorkflowEnd(ctx, workflowID, true, time.Since(start), output.Chunks)

	printReport(&rag.IngestReport{
		Source:     output.Source,
		Format:     output.Format,
		Units:      output.Units,
		UnitName:   output.UnitName,
		Chunks:     output.Chunks,
		Characters: output.Characters,
	})
	return nil
}

func printReport(r *rag.IngestReport) {
	fmt.Printf("Ingested %s (%s): %d %s, %d chunks, %d characters\n",
		r.Source, r.Format, r.Units, r.UnitName, r.Chunks, r.Characters)
}

func runAsk(configPath, query string, stream bool) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireProvider(); err != nil {
		return err
	}

	ctx := context.Background()
	var answer *rag.Answer

	if stream {
		answer, err = a.svc.AskStream(ctx, query, func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()
	} else {
		answer, err = a.svc.Ask(ctx, query)
	}
	if errors.Is(err, vector.ErrCollectionNotFound) {
		fmt.Println(rag.NoDocumentsMessage)
		return nil
	}
	if errors.Is(err, rag.ErrNoResults) {
		fmt.Println(rag.NoResultsMessage)
		return nil
	}
	if err != nil {
		return err
	}

	if !stream {
		fmt.Println(answer.Text)
	}
	fmt.Printf("\nSources (%d chunks):\n", len(answer.Sources))
	for i, src := range answer.Sources {
		fmt.Printf("  %d. [%.3f] %s\n", i+1, src.Score, snippet(src.Text, 80))
	}
	return nil
}

func runSearch(configPath, query string, topK int) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireProvider(); err != nil {
		return err
	}

	results, err := a.svc.Search(context.Background(), query, topK)
	if errors.Is(err, vector.ErrCollectionNotFound) {
		fmt.Println("Collection is empty; ingest a document first.")
		return nil
	}
	if err != nil {
		return err
	}

	for i, r := range results {
		fmt.Printf("%d. score=%.3f source=%s\n", i+1, r.Score, r.Payload["source"])
		fmt.Printf("   %s\n", snippet(r.Text, 200))
	}
	return nil
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func runCollectionInfo(configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.store.CollectionInfo(context.Background(), a.cfg.Vector.Collection)
	if errors.Is(err, vector.ErrCollectionNotFound) {
		fmt.Printf("Collection %s does not exist.\n", a.cfg.Vector.Collection)
		return nil
	}
	if err != nil {
		return err
	}

	data, _ := json.MarshalIndent(info, "", "  ")
	fmt.Println(string(data))
	return nil
}

func runCollectionDelete(configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.store.DeleteCollection(ctx, a.cfg.Vector.Collection); err != nil {
		return err
	}
	observability.Audit().LogCollectionDrop(ctx, a.cfg.Vector.Collection)
	fmt.Printf("Deleted collection %s\n", a.cfg.Vector.Collection)
	return nil
}

func runServe(configPath, healthAddr string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	if err := a.requireProvider(); err != nil {
		return err
	}

	ctx := context.Background()
	if err := observability.InitGlobalAuditLogger(nil); err != nil {
		return err
	}

	var tracer *observability.TracerProvider
	if a.cfg.Tracing.Enabled {
		tracingCfg := observability.DefaultTracingConfig()
		tracingCfg.ServiceVersion = version
		tracingCfg.OTLPEndpoint = a.cfg.Tracing.Endpoint
		if tracer, err = observability.InitTracing(ctx, tracingCfg); err != nil {
			return err
		}
	}

	graceful := server.NewGracefulServer(
		&server.HealthConfig{Version: version},
		&server.ShutdownConfig{Logger: a.logger},
	)

	// A missing collection means nothing was ingested yet, not a broken store.
	graceful.Health.RegisterCheck("vector-store", server.VectorStoreHealthChecker(
		a.cfg.Vector.Collection,
		func(ctx context.Context) error {
			_, err := a.store.CollectionInfo(ctx, a.cfg.Vector.Collection)
			if errors.Is(err, vector.ErrCollectionNotFound) {
				return nil
			}
			return err
		},
	))
	providerName := "none"
	if a.provider != nil {
		providerName = a.provider.Name()
	}
	graceful.Health.RegisterCheck("llm", server.LLMHealthChecker(providerName, nil))

	api := server.NewAPI(a.svc, a.store, &server.APIConfig{
		Logger:  a.logger,
		Metrics: observability.Metrics(),
		Audit:   observability.Audit(),
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", api.Routes())
	mux.Handle("/metrics", observability.Metrics().Handler())

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	register := func(h server.ShutdownHook) {
		graceful.Shutdown.RegisterHook(h.Name, h.Priority, h.Fn)
	}
	register(server.HTTPServerShutdownHook("api-server", srv.Shutdown))
	register(server.VectorStoreShutdownHook(a.store.Close))
	register(server.AuditLoggerShutdownHook(observability.Audit().Close))
	if tracer != nil {
		register(server.TracingShutdownHook(tracer.Shutdown))
	}

	if err := graceful.Start(healthAddr); err != nil {
		return err
	}

	a.logger.Info("serving API",
		"addr", a.cfg.Server.Addr,
		"health_addr", healthAddr,
		"collection", a.cfg.Vector.Collection,
		"provider", providerName)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("api server failed", "error", err)
			graceful.Shutdown.Shutdown()
		}
	}()

	graceful.Wait()
	a.logger.Info("server stopped")
	return nil
}
