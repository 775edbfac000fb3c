package llm

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitUnlimitedPassesThrough(t *testing.T) {
	mock := &mockProvider{}
	p := NewRateLimitProvider(mock, &RateLimitConfig{})

	for i := 0; i < 10; i++ {
		if _, err := p.Complete(context.Background(), UserPrompt("hi"), nil); err != nil {
			t.Fatalf("Complete %d: %v", i, err)
		}
	}
	if mock.calls != 10 {
		t.Errorf("calls = %d, want 10", mock.calls)
	}
}

func TestRateLimitBurstThenBlock(t *testing.T) {
	mock := &mockProvider{}
	p := NewRateLimitProvider(mock, &RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         2,
	})

	for i := 0; i < 2; i++ {
		if _, err := p.Complete(context.Background(), UserPrompt("hi"), nil); err != nil {
			t.Fatalf("burst call %d: %v", i, err)
		}
	}

	// Third call exceeds the burst and must wait for refill; a cancelled
	// context surfaces instead of blocking the test.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Complete(ctx, UserPrompt("hi"), nil)
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestRateLimitTracksTokenUsage(t *testing.T) {
	mock := &mockProvider{}
	p := NewRateLimitProvider(mock, &RateLimitConfig{
		TokensPerMinute: 1000,
	})

	if _, err := p.Complete(context.Background(), UserPrompt("hi"), nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	stats := p.Stats()
	if stats.TokensInWindow != 15 {
		t.Errorf("TokensInWindow = %d, want 15", stats.TokensInWindow)
	}
	if stats.RemainingTokens != 985 {
		t.Errorf("RemainingTokens = %d, want 985", stats.RemainingTokens)
	}
}

func TestRateLimitEmbedCountsRequestsOnly(t *testing.T) {
	mock := &mockProvider{}
	p := NewRateLimitProvider(mock, &RateLimitConfig{
		RequestsPerMinute: 60,
		TokensPerMinute:   1000,
		BurstSize:         5,
	})

	if _, err := p.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	stats := p.Stats()
	if stats.RequestsInWindow != 1 {
		t.Errorf("RequestsInWindow = %d, want 1", stats.RequestsInWindow)
	}
	if stats.TokensInWindow != 0 {
		t.Errorf("TokensInWindow = %d, want 0 (embeddings metered separately)", stats.TokensInWindow)
	}
}

func TestWithRateLimitNilProvider(t *testing.T) {
	if p := WithRateLimit(nil, nil); p != nil {
		t.Errorf("WithRateLimit(nil) = %v, want nil", p)
	}
}
