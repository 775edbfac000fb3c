package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewShutdownHandler(t *testing.T) {
	s := NewShutdownHandler(nil)
	if s == nil {
		t.Fatal("expected non-nil handler")
	}
	if s.timeout != 30*time.Second {
		t.Fatalf("expected 30s default timeout, got %v", s.timeout)
	}
}

func TestNewShutdownHandler_CustomTimeout(t *testing.T) {
	s := NewShutdownHandler(&ShutdownConfig{Timeout: 5 * time.Second})
	if s.timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", s.timeout)
	}
}

func TestShutdownHandler_RegisterHook(t *testing.T) {
	s := NewShutdownHandler(nil)

	s.RegisterHook("first", 10, func(ctx context.Context) error { return nil })
	s.RegisterHook("second", 20, func(ctx context.Context) error { return nil })

	if len(s.hooks) != 2 {
		t.Fatalf("expected 2 hooks, got %d", len(s.hooks))
	}
}

func TestShutdownHandler_HookPriorityOrdering(t *testing.T) {
	s := NewShutdownHandler(nil)

	s.RegisterHook("late", 90, func(ctx context.Context) error { return nil })
	s.RegisterHook("early", 10, func(ctx context.Context) error { return nil })
	s.RegisterHook("middle", 50, func(ctx context.Context) error { return nil })

	if s.hooks[0].Name != "early" || s.hooks[1].Name != "middle" || s.hooks[2].Name != "late" {
		t.Fatalf("hooks not sorted by priority: %s, %s, %s",
			s.hooks[0].Name, s.hooks[1].Name, s.hooks[2].Name)
	}
}

func TestShutdownHandler_RunsHooksInOrder(t *testing.T) {
	s := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	s.RegisterHook("store", 90, record("store"))
	s.RegisterHook("http", 10, record("http"))
	s.RegisterHook("worker", 20, record("worker"))

	s.Start()
	s.Shutdown()

	if !s.WaitWithTimeout(2 * time.Second) {
		t.Fatal("shutdown did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 hooks run, got %d", len(order))
	}
	if order[0] != "http" || order[1] != "worker" || order[2] != "store" {
		t.Fatalf("hooks ran out of order: %v", order)
	}
}

func TestShutdownHandler_FailingHookDoesNotStopOthers(t *testing.T) {
	s := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})

	var ran bool
	s.RegisterHook("failing", 10, func(ctx context.Context) error {
		return errors.New("close failed")
	})
	s.RegisterHook("after", 20, func(ctx context.Context) error {
		ran = true
		return nil
	})

	s.Start()
	s.Shutdown()

	if !s.WaitWithTimeout(2 * time.Second) {
		t.Fatal("shutdown did not complete")
	}
	if !ran {
		t.Fatal("hook after a failing hook should still run")
	}
}

func TestShutdownHandler_ShutdownBeforeStart(t *testing.T) {
	s := NewShutdownHandler(nil)

	// Should be a no-op, not a panic or deadlock.
	s.Shutdown()

	select {
	case <-s.Done():
		t.Fatal("shutdown should not complete without Start")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestShutdownHandler_DoubleShutdown(t *testing.T) {
	s := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})
	s.Start()

	s.Shutdown()
	s.Shutdown() // must not panic

	if !s.WaitWithTimeout(2 * time.Second) {
		t.Fatal("shutdown did not complete")
	}
}

func TestShutdownHandler_WaitWithTimeout_Expires(t *testing.T) {
	s := NewShutdownHandler(nil)

	// Never started, never shut down
	if s.WaitWithTimeout(50 * time.Millisecond) {
		t.Fatal("expected timeout")
	}
}

func TestShutdownHandler_StartIdempotent(t *testing.T) {
	s := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})
	s.Start()
	s.Start() // second call must be a no-op

	s.Shutdown()
	if !s.WaitWithTimeout(2 * time.Second) {
		t.Fatal("shutdown did not complete")
	}
}

// Test hook constructors

func TestHTTPServerShutdownHook(t *testing.T) {
	called := false
	hook := HTTPServerShutdownHook("api", func(ctx context.Context) error {
		called = true
		return nil
	})

	if hook.Name != "api" {
		t.Fatalf("expected name api, got %s", hook.Name)
	}
	if hook.Priority != 10 {
		t.Fatalf("expected priority 10, got %d", hook.Priority)
	}

	hook.Fn(context.Background())
	if !called {
		t.Fatal("expected shutdown function to be called")
	}
}

func TestTemporalWorkerShutdownHook(t *testing.T) {
	called := false
	hook := TemporalWorkerShutdownHook(func() { called = true })

	if hook.Name != "temporal-worker" {
		t.Fatalf("expected temporal-worker, got %s", hook.Name)
	}

	if err := hook.Fn(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected stop function to be called")
	}
}

func TestVectorStoreShutdownHook(t *testing.T) {
	hook := VectorStoreShutdownHook(func() error {
		return errors.New("connection already closed")
	})

	if hook.Name != "vector-store" {
		t.Fatalf("expected vector-store, got %s", hook.Name)
	}
	// Store closes late, after workers are done.
	if hook.Priority <= 20 {
		t.Fatalf("store hook should run after workers, priority %d", hook.Priority)
	}

	if err := hook.Fn(context.Background()); err == nil {
		t.Fatal("expected close error to propagate")
	}
}

func TestAuditLoggerShutdownHook(t *testing.T) {
	called := false
	hook := AuditLoggerShutdownHook(func() error {
		called = true
		return nil
	})

	// Audit logger closes last so it can record the shutdown itself.
	if hook.Priority < 90 {
		t.Fatalf("audit hook should run very late, priority %d", hook.Priority)
	}

	hook.Fn(context.Background())
	if !called {
		t.Fatal("expected close function to be called")
	}
}

func TestTracingShutdownHook(t *testing.T) {
	called := false
	hook := TracingShutdownHook(func(ctx context.Context) error {
		called = true
		return nil
	})

	if hook.Name != "tracing" {
		t.Fatalf("expected tracing, got %s", hook.Name)
	}

	hook.Fn(context.Background())
	if !called {
		t.Fatal("expected shutdown function to be called")
	}
}

// Test GracefulServer

func TestNewGracefulServer(t *testing.T) {
	g := NewGracefulServer(nil, &ShutdownConfig{Timeout: time.Second})
	if g.Health == nil {
		t.Fatal("expected non-nil health server")
	}
	if g.Shutdown == nil {
		t.Fatal("expected non-nil shutdown handler")
	}
}

func TestGracefulServer_ShutdownMarksNotReady(t *testing.T) {
	g := NewGracefulServer(nil, &ShutdownConfig{Timeout: time.Second})

	g.Shutdown.Start()
	g.Health.SetReady(true)

	g.Shutdown.Shutdown()
	g.Shutdown.Wait()

	// Readiness flips asynchronously when shutdown starts.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		g.Health.mu.RLock()
		ready := g.Health.ready
		g.Health.mu.RUnlock()
		if !ready {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected not ready after shutdown")
}

func TestGracefulServer_RegisterHook(t *testing.T) {
	g := NewGracefulServer(nil, &ShutdownConfig{Timeout: time.Second})

	ran := false
	g.RegisterHook("custom", 50, func(ctx context.Context) error {
		ran = true
		return nil
	})

	g.Shutdown.Start()
	g.Shutdown.Shutdown()
	if !g.Shutdown.WaitWithTimeout(2 * time.Second) {
		t.Fatal("shutdown did not complete")
	}
	if !ran {
		t.Fatal("expected custom hook to run")
	}
}
