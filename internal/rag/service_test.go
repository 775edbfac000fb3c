package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/efebarandurmaz/docquery/internal/document"
	"github.com/efebarandurmaz/docquery/internal/embed"
	"github.com/efebarandurmaz/docquery/internal/llm"
	"github.com/efebarandurmaz/docquery/internal/vector"
	"github.com/efebarandurmaz/docquery/internal/vector/memory"
)

// fakeLLM embeds texts deterministically (hash-derived 3-dim vectors) and
// answers with a canned string, recording the last prompt it saw.
type fakeLLM struct {
	answer      string
	completeErr error
	lastPrompt  string
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	f.lastPrompt = prompt.Messages[0].Content
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &llm.Response{Content: f.answer}, nil
}

func (f *fakeLLM) CompleteStream(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions, fn llm.StreamFunc) (*llm.Response, error) {
	resp, err := f.Complete(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		for _, word := range strings.SplitAfter(resp.Content, " ") {
			fn(word)
		}
	}
	return resp, nil
}

func (f *fakeLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New32a()
		h.Write([]byte(t))
		sum := h.Sum32()
		out[i] = []float32{
			float32(sum%97) + 1,
			float32(sum%89) + 1,
			float32(sum%83) + 1,
		}
	}
	return out, nil
}

func newTestService(t *testing.T, provider llm.Provider) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gateway := vector.NewGateway(memory.New(), vector.DefaultRetryPolicy(), logger)

	var embedSource llm.Provider = provider
	if embedSource == nil {
		embedSource = &fakeLLM{}
	}
	return New(gateway, embed.New(embedSource), provider, Options{
		Collection: "test_chunks",
		TopK:       3,
		Logger:     logger,
	})
}

func textDocument(t *testing.T, name, text string) *document.Document {
	t.Helper()
	doc, err := document.New(name, []byte(text))
	if err != nil {
		t.Fatalf("document.New: %v", err)
	}
	return doc
}

func TestIngestStoresChunks(t *testing.T) {
	fake := &fakeLLM{answer: "ok"}
	svc := newTestService(t, fake)

	text := strings.Repeat("a", 1200)
	report, err := svc.Ingest(context.Background(), textDocument(t, "notes.txt", text))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if report.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", report.Chunks)
	}
	if report.Characters != 1200 {
		t.Errorf("Characters = %d, want 1200", report.Characters)
	}
	if report.Format != "Text File" {
		t.Errorf("Format = %q", report.Format)
	}

	info, err := svc.store.CollectionInfo(context.Background(), "test_chunks")
	if err != nil {
		t.Fatalf("CollectionInfo: %v", err)
	}
	if info.PointCount != 3 {
		t.Errorf("PointCount = %d, want 3", info.PointCount)
	}
}

func TestIngestCountsCharactersNotBytes(t *testing.T) {
	svc := newTestService(t, &fakeLLM{answer: "ok"})

	// 600 two-byte characters: chunk math must follow the character count.
	text := strings.Repeat("é", 600)
	report, err := svc.Ingest(context.Background(), textDocument(t, "accents.txt", text))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Characters != 600 {
		t.Errorf("Characters = %d, want 600", report.Characters)
	}
	if report.Chunks != 2 {
		t.Errorf("Chunks = %d, want 2", report.Chunks)
	}
}

func TestOptionsOverlapSelection(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	text := strings.Repeat("z", 1000)

	cases := []struct {
		name    string
		overlap int
		chunks  int
	}{
		{"default", 0, 3},      // steps of 400: offsets 0, 400, 800
		{"none", NoOverlap, 2}, // steps of 500: offsets 0, 500
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLLM{answer: "ok"}
			gateway := vector.NewGateway(memory.New(), vector.DefaultRetryPolicy(), logger)
			svc := New(gateway, embed.New(fake), fake, Options{
				Collection: "overlap_chunks",
				ChunkSize:  500,
				Overlap:    tt.overlap,
				Logger:     logger,
			})

			report, err := svc.Ingest(context.Background(), textDocument(t, "z.txt", text))
			if err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if report.Chunks != tt.chunks {
				t.Errorf("Chunks = %d, want %d", report.Chunks, tt.chunks)
			}
		})
	}
}

func TestReingestOverwritesInsteadOfDuplicating(t *testing.T) {
	fake := &fakeLLM{answer: "ok"}
	svc := newTestService(t, fake)

	doc := textDocument(t, "notes.txt", strings.Repeat("b", 1200))
	for i := 0; i < 2; i++ {
		if _, err := svc.Ingest(context.Background(), doc); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}

	info, err := svc.store.CollectionInfo(context.Background(), "test_chunks")
	if err != nil {
		t.Fatalf("CollectionInfo: %v", err)
	}
	if info.PointCount != 3 {
		t.Errorf("PointCount = %d after re-ingest, want 3", info.PointCount)
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	svc := newTestService(t, &fakeLLM{})
	_, err := svc.Ingest(context.Background(), textDocument(t, "empty.txt", "   \n  "))
	if !errors.Is(err, document.ErrEmptyExtraction) {
		t.Errorf("err = %v, want ErrEmptyExtraction", err)
	}
}

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("doc.pdf", 400)
	b := PointID("doc.pdf", 400)
	if a != b {
		t.Errorf("same inputs gave %s and %s", a, b)
	}
	if PointID("doc.pdf", 800) == a {
		t.Error("different offsets collided")
	}
	if PointID("other.pdf", 400) == a {
		t.Error("different sources collided")
	}
}

func TestAskBuildsPromptFromRetrievedChunks(t *testing.T) {
	fake := &fakeLLM{answer: "The delivery fee is 5 euros."}
	svc := newTestService(t, fake)

	if _, err := svc.Ingest(context.Background(), textDocument(t, "faq.txt", strings.Repeat("delivery fee details ", 30))); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	answer, err := svc.Ask(context.Background(), "what is the delivery fee?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer.Text != "The delivery fee is 5 euros." {
		t.Errorf("Text = %q", answer.Text)
	}
	if len(answer.Sources) == 0 {
		t.Error("no sources returned")
	}

	for _, want := range []string{
		"You are an expert assistant. Use ONLY the context below to answer.",
		"USER QUERY:\nwhat is the delivery fee?",
		"CONTEXT:\n",
		`- If context is insufficient, respond: "Not enough information in the document."`,
	} {
		if !strings.Contains(fake.lastPrompt, want) {
			t.Errorf("prompt missing %q\nprompt: %s", want, fake.lastPrompt)
		}
	}
}

func TestAskLLMFailureFoldedIntoAnswer(t *testing.T) {
	fake := &fakeLLM{completeErr: errors.New("model overloaded")}
	svc := newTestService(t, fake)

	if _, err := svc.Ingest(context.Background(), textDocument(t, "a.txt", strings.Repeat("x ", 300))); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	answer, err := svc.Ask(context.Background(), "anything?")
	if err != nil {
		t.Fatalf("Ask should not fail on LLM error, got: %v", err)
	}
	if !strings.HasPrefix(answer.Text, "Error generating answer: ") {
		t.Errorf("Text = %q, want error prefix", answer.Text)
	}
	if !strings.Contains(answer.Text, "model overloaded") {
		t.Errorf("Text = %q, want cause included", answer.Text)
	}
	if len(answer.Sources) == 0 {
		t.Error("sources should survive an LLM failure")
	}
}

func TestAskEmptyStore(t *testing.T) {
	svc := newTestService(t, &fakeLLM{answer: "ok"})

	// Collection exists but holds no points.
	if err := svc.store.EnsureCollection(context.Background(), "test_chunks", 3); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	_, err := svc.Ask(context.Background(), "anything?")
	if !errors.Is(err, ErrNoResults) {
		t.Errorf("err = %v, want ErrNoResults", err)
	}
}

func TestAskWithoutProvider(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.Ask(context.Background(), "anything?")
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := newTestService(t, &fakeLLM{})
	_, err := svc.Search(context.Background(), "", 5)
	if !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestAskStreamDeliversDeltas(t *testing.T) {
	fake := &fakeLLM{answer: "streamed answer text"}
	svc := newTestService(t, fake)

	if _, err := svc.Ingest(context.Background(), textDocument(t, "a.txt", strings.Repeat("y ", 300))); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var got strings.Builder
	answer, err := svc.AskStream(context.Background(), "anything?", func(delta string) {
		got.WriteString(delta)
	})
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}
	if got.String() != answer.Text {
		t.Errorf("streamed %q, final %q", got.String(), answer.Text)
	}
}
