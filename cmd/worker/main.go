package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/docquery/internal/config"
	"github.com/efebarandurmaz/docquery/internal/document"
	"github.com/efebarandurmaz/docquery/internal/embed"
	"github.com/efebarandurmaz/docquery/internal/llm"
	"github.com/efebarandurmaz/docquery/internal/llm/anthropic"
	"github.com/efebarandurmaz/docquery/internal/llm/openai"
	"github.com/efebarandurmaz/docquery/internal/rag"
	"github.com/efebarandurmaz/docquery/internal/secrets"
	temporalmod "github.com/efebarandurmaz/docquery/internal/temporal"
	"github.com/efebarandurmaz/docquery/internal/vector"
	"github.com/efebarandurmaz/docquery/internal/vector/qdrant"
)

func main() {
	configPath := "configs/docquery.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx := context.Background()
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretLLMAPIKey), "")
	}
	if cfg.Vector.APIKey == "" {
		cfg.Vector.APIKey = secrets.GetOrDefault(ctx, string(secrets.SecretVectorAPIKey), "")
	}

	// Build LLM provider via factory
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

	pcfg := llm.DefaultProviderConfig()
	pcfg.Provider = cfg.LLM.Provider
	pcfg.APIKey = cfg.LLM.APIKey
	pcfg.Model = cfg.LLM.Model
	pcfg.BaseURL = cfg.LLM.BaseURL
	pcfg.EmbedModel = cfg.LLM.EmbedModel

	provider, err := factory.Create(pcfg)
	if err != nil {
		log.Fatalf("creating LLM provider: %v", err)
	}
	if provider == nil {
		log.Fatal("worker requires an LLM provider for embeddings (llm.provider is 'none')")
	}

	// Wire rate limiter before SetDependencies
	provider = llm.WithRateLimit(provider, llm.DefaultRateLimitConfig())

	transport, err := qdrant.New(qdrant.Config{
		Host:   cfg.Vector.Host,
		Port:   cfg.Vector.Port,
		APIKey: cfg.Vector.APIKey,
		UseTLS: cfg.Vector.UseTLS,
	})
	if err != nil {
		log.Fatalf("vector store: %v", err)
	}
	defer transport.Close()
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

	temporalmod.SetDependencies(&temporalmod.Dependencies{
		Service: svc,
		Fetcher: document.NewFetcher(0),
	})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	w.Stop()
	fmt.Println("Worker stopped")
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
