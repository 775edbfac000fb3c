// Package rag wires document extraction, chunking, embedding, vector storage,
// and LLM answering into the two user-facing operations: ingest and ask.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/docquery/internal/chunker"
	"github.com/efebarandurmaz/docquery/internal/document"
	"github.com/efebarandurmaz/docquery/internal/embed"
	"github.com/efebarandurmaz/docquery/internal/llm"
	"github.com/efebarandurmaz/docquery/internal/vector"
)

var (
	// ErrEmptyQuery is returned when the query is blank.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrNoResults is returned when the store holds nothing similar to the
	// query, typically because no document was ingested yet.
	ErrNoResults = errors.New("no results found")
	// ErrNoProvider is returned from Answer when the service was built
	// without an LLM provider (retrieval-only mode).
	ErrNoProvider = errors.New("no LLM provider configured")
)

// pointNamespace is the UUIDv5 namespace for chunk point IDs. Re-ingesting
// the same document overwrites its previous points instead of duplicating.
var pointNamespace = uuid.MustParse("b0c2f5d1-8e4a-4c3b-9f6d-2a7e51c08d94")

// answerOptions match the fixed generation parameters of the answering call.
var answerOptions = &llm.RequestOptions{
	Temperature: llm.Float(0.2),
	MaxTokens:   llm.Int(512),
}

// embedBatchSize caps texts per embedding request.
const embedBatchSize = 64

// NoOverlap selects chunking without overlap. Options' zero value picks the
// default overlap, so zero itself needs a distinct spelling.
const NoOverlap = -1

// Options configures a Service.
type Options struct {
	Collection string
	TopK       int
	ChunkSize  int
	Overlap    int // characters; 0 means default, NoOverlap means none
	Logger     *slog.Logger
}

// Service is the retrieval-augmented QA pipeline.
type Service struct {
	store      *vector.Gateway
	embedder   *embed.Embedder
	provider   llm.Provider
	collection string
	topK       int
	chunkSize  int
	overlap    int
	logger     *slog.Logger
}

// New creates a Service. provider may be nil for retrieval-only operation.
func New(store *vector.Gateway, embedder *embed.Embedder, provider llm.Provider, opts Options) *Service {
	if opts.Collection == "" {
		opts.Collection = "pdf_chunks"
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultSize
	}
	if opts.Overlap == 0 {
		opts.Overlap = chunker.DefaultOverlap
	} else if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:      store,
		embedder:   embedder,
		provider:   provider,
		collection: opts.Collection,
		topK:       opts.TopK,
		chunkSize:  opts.ChunkSize,
		overlap:    opts.Overlap,
		logger:     opts.Logger,
	}
}

// Collection returns the collection name the service operates on.
func (s *Service) Collection() string { return s.collection }

// IngestReport summarizes a completed ingestion.
type IngestReport struct {
	Source     string `json:"source"`
	Format     string `json:"format"`
	Units      int    `json:"units"`
	UnitName   string `json:"unit_name"`
	Chunks     int    `json:"chunks"`
	Characters int    `json:"characters"`
}

// Ingest extracts, chunks, embeds, and stores a document.
func (s *Service) Ingest(ctx context.Context, doc *document.Document) (*IngestReport, error) {
	extraction, err := document.Extract(doc)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", doc.Name, err)
	}
	if strings.TrimSpace(extraction.Text) == "" {
		return nil, fmt.Errorf("%s: %w", doc.Name, document.ErrEmptyExtraction)
	}

	chunks, err := chunker.Split(extraction.Text, s.chunkSize, s.overlap)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ingesting document",
		"source", doc.Name,
		"format", doc.Format.DisplayName(),
		"units", extraction.Count,
		"chunks", len(chunks))

	// A failed bootstrap is logged and ignored; the upsert path creates the
	// collection itself when the store reports it missing.
	if dim, err := s.embedder.Dimension(ctx); err == nil {
		if err := s.store.EnsureCollection(ctx, s.collection, uint64(dim)); err != nil {
			s.logger.Warn("collection bootstrap failed, deferring to upsert",
				"collection", s.collection, "error", err)
		}
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}

		points := make([]vector.Point, len(batch))
		for i, c := range batch {
			points[i] = vector.Point{
				ID:     PointID(doc.Name, c.Start),
				Vector: vectors[i],
				Payload: map[string]string{
					vector.PayloadTextKey: c.Text,
					"source":              doc.Name,
					"offset":              strconv.Itoa(c.Start),
				},
			}
		}
		if err := s.store.Upsert(ctx, s.collection, points); err != nil {
			return nil, err
		}
	}

	return &IngestReport{
		Source:     doc.Name,
		Format:     doc.Format.DisplayName(),
		Units:      extraction.Count,
		UnitName:   doc.Format.UnitName(),
		Chunks:     len(chunks),
		Characters: utf8.RuneCountInString(extraction.Text),
	}, nil
}

// PointID derives the deterministic point ID for a chunk from its source
// document and byte offset.
func PointID(source string, offset int) string {
	return uuid.NewSHA1(pointNamespace, []byte(source+"\x00"+strconv.Itoa(offset))).String()
}

// Search embeds the query and returns the most similar stored chunks.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]vector.SearchResult, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = s.topK
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.store.Search(ctx, s.collection, qvec, uint64(topK))
}

// Answer holds the generated answer and the chunks that grounded it.
type Answer struct {
	Text    string                `json:"text"`
	Sources []vector.SearchResult `json:"sources"`
}

// Ask retrieves context for the query and generates an answer. An LLM failure
// does not fail the call: the error is folded into the answer text so the
// retrieved sources still reach the caller.
func (s *Service) Ask(ctx context.Context, query string) (*Answer, error) {
	return s.ask(ctx, query, nil)
}

// AskStream is Ask with incremental output delivered through fn.
func (s *Service) AskStream(ctx context.Context, query string, fn llm.StreamFunc) (*Answer, error) {
	return s.ask(ctx, query, fn)
}

func (s *Service) ask(ctx context.Context, query string, fn llm.StreamFunc) (*Answer, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}

	results, err := s.Search(ctx, query, s.topK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	chunks := make([]string, len(results))
	for i, r := range results {
		chunks[i] = r.Text
	}
	prompt := llm.UserPrompt(buildPrompt(query, chunks))

	var resp *llm.Response
	if fn != nil {
		resp, err = s.provider.CompleteStream(ctx, prompt, answerOptions, fn)
	} else {
		resp, err = s.provider.Complete(ctx, prompt, answerOptions)
	}
	if err != nil {
		s.logger.Error("answer generation failed", "error", err)
		return &Answer{
			Text:    "Error generating answer: " + err.Error(),
			Sources: results,
		}, nil
	}

	// Local reasoning models wrap their thinking in <think> tags; the final
	// answer should not carry them.
	return &Answer{Text: llm.StripThinkingTags(resp.Content), Sources: results}, nil
}
