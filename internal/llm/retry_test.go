package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// mockProvider fails a configurable number of times before succeeding.
type mockProvider struct {
	failures  int
	failErr   error
	calls     int
	streamOut []string
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, m.failErr
	}
	return &Response{Content: "ok", InputTokens: 10, OutputTokens: 5}, nil
}

func (m *mockProvider) CompleteStream(ctx context.Context, prompt *Prompt, opts *RequestOptions, fn StreamFunc) (*Response, error) {
	m.calls++
	var sb strings.Builder
	for _, delta := range m.streamOut {
		sb.WriteString(delta)
		if fn != nil {
			fn(delta)
		}
	}
	if m.calls <= m.failures {
		return nil, m.failErr
	}
	return &Response{Content: sb.String()}, nil
}

func (m *mockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, m.failErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	mock := &mockProvider{failures: 2, failErr: errors.New("503 Service Unavailable")}
	p := NewRetryProvider(mock, fastRetryConfig())

	resp, err := p.Complete(context.Background(), UserPrompt("hi"), nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want ok", resp.Content)
	}
	if mock.calls != 3 {
		t.Errorf("calls = %d, want 3", mock.calls)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	mock := &mockProvider{failures: 10, failErr: errors.New("401 Unauthorized")}
	p := NewRetryProvider(mock, fastRetryConfig())

	_, err := p.Complete(context.Background(), UserPrompt("hi"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if mock.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on 401)", mock.calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	mock := &mockProvider{failures: 10, failErr: errors.New("502 Bad Gateway")}
	p := NewRetryProvider(mock, fastRetryConfig())

	_, err := p.Complete(context.Background(), UserPrompt("hi"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "max retries") {
		t.Errorf("error = %v, want max retries message", err)
	}
	if mock.calls != 4 {
		t.Errorf("calls = %d, want 4 (initial + 3 retries)", mock.calls)
	}
}

func TestRetryDailyTokenLimitNotRetried(t *testing.T) {
	mock := &mockProvider{
		failures: 10,
		failErr:  errors.New("429 Too Many Requests: tokens per day limit reached"),
	}
	p := NewRetryProvider(mock, fastRetryConfig())

	_, err := p.Complete(context.Background(), UserPrompt("hi"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if mock.calls != 1 {
		t.Errorf("calls = %d, want 1 (TPD exhaustion is permanent)", mock.calls)
	}
}

func TestStreamNotRetriedAfterOutputEmitted(t *testing.T) {
	mock := &mockProvider{
		failures:  10,
		failErr:   errors.New("503 Service Unavailable"),
		streamOut: []string{"partial "},
	}
	p := NewRetryProvider(mock, fastRetryConfig())

	var got strings.Builder
	_, err := p.CompleteStream(context.Background(), UserPrompt("hi"), nil, func(delta string) {
		got.WriteString(delta)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if mock.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after partial output)", mock.calls)
	}
	if got.String() != "partial " {
		t.Errorf("emitted = %q, want single emission", got.String())
	}
}

func TestStreamRetriedWhenNothingEmitted(t *testing.T) {
	mock := &mockProvider{failures: 1, failErr: errors.New("503 Service Unavailable")}
	p := NewRetryProvider(mock, fastRetryConfig())

	resp, err := p.CompleteStream(context.Background(), UserPrompt("hi"), nil, nil)
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	if resp == nil {
		t.Fatal("nil response")
	}
	if mock.calls != 2 {
		t.Errorf("calls = %d, want 2", mock.calls)
	}
}

func TestRetryEmbed(t *testing.T) {
	mock := &mockProvider{failures: 1, failErr: errors.New("504 Gateway Timeout")}
	p := NewRetryProvider(mock, fastRetryConfig())

	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Errorf("len(vectors) = %d, want 2", len(vectors))
	}
	if mock.calls != 2 {
		t.Errorf("calls = %d, want 2", mock.calls)
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &mockProvider{failures: 10, failErr: errors.New("503 Service Unavailable")}
	cfg := fastRetryConfig()
	cfg.RetryDelay = time.Hour // forces the backoff path to observe cancellation
	p := NewRetryProvider(mock, cfg)

	_, err := p.Complete(ctx, UserPrompt("hi"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	p := NewRetryProvider(&mockProvider{}, nil)

	cases := []struct {
		err  error
		want bool
	}{
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("429 Too Many Requests: TPD exceeded"), false},
		{errors.New("500 Internal Server Error"), true},
		{errors.New("503 Service Unavailable"), true},
		{errors.New("400 Bad Request"), false},
		{errors.New("404 Not Found"), false},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
	}
	for _, tc := range cases {
		if got := p.isRetryable(tc.err); got != tc.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestCalculateBackoffCapped(t *testing.T) {
	p := NewRetryProvider(&mockProvider{}, &RetryConfig{
		MaxRetries: 10,
		RetryDelay: time.Second,
		MaxDelay:   4 * time.Second,
		Timeout:    time.Minute,
	})

	if d := p.calculateBackoff(1); d != time.Second {
		t.Errorf("backoff(1) = %v, want 1s", d)
	}
	if d := p.calculateBackoff(2); d != 2*time.Second {
		t.Errorf("backoff(2) = %v, want 2s", d)
	}
	if d := p.calculateBackoff(8); d != 4*time.Second {
		t.Errorf("backoff(8) = %v, want cap 4s", d)
	}
}
