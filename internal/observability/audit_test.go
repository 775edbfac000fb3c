package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ==================== AuditConfig Tests ====================

func TestDefaultAuditConfig(t *testing.T) {
	cfg := DefaultAuditConfig()
	if !cfg.Enabled {
		t.Fatal("expected enabled by default")
	}
	if cfg.OutputPath != "stdout" {
		t.Fatalf("expected stdout, got %s", cfg.OutputPath)
	}
}

// ==================== AuditLogger Tests ====================

func TestAuditLogger_New_Stdout(t *testing.T) {
	l, err := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestAuditLogger_New_File(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "audit.log")

	l, err := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: logPath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Fatal("expected log file to be created")
	}
}

func TestAuditLogger_New_NilConfig(t *testing.T) {
	l, err := NewAuditLogger(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l == nil {
		t.Fatal("expected non-nil logger with default config")
	}
}

func TestAuditLogger_Log_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{
		writer:  &buf,
		enabled: false,
	}

	err := l.Log(&AuditEvent{EventType: AuditEventIngestStart})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() > 0 {
		t.Fatal("expected no output when disabled")
	}
}

func TestAuditLogger_Log_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{
		writer:    &buf,
		sessionID: "test-session",
		userID:    "test-user",
		enabled:   true,
	}

	err := l.Log(&AuditEvent{
		EventType: AuditEventIngestStart,
		Success:   true,
		Message:   "test message",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var event AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}

	if event.EventType != AuditEventIngestStart {
		t.Fatalf("expected ingest.start, got %s", event.EventType)
	}
	if event.SessionID != "test-session" {
		t.Fatalf("expected test-session, got %s", event.SessionID)
	}
	if event.UserID != "test-user" {
		t.Fatalf("expected test-user, got %s", event.UserID)
	}
}

func TestAuditLogger_Log_FillsTimestamp(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{
		writer:  &buf,
		enabled: true,
	}

	before := time.Now().UTC()
	l.Log(&AuditEvent{EventType: AuditEventIngestStart})
	after := time.Now().UTC()

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.Timestamp.Before(before) || event.Timestamp.After(after) {
		t.Fatal("timestamp should be set automatically")
	}
}

func TestAuditLogger_SessionID_Generated(t *testing.T) {
	l, _ := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	})

	if l.sessionID == "" {
		t.Fatal("expected auto-generated session ID")
	}
	if !strings.HasPrefix(l.sessionID, "session-") {
		t.Fatalf("expected session- prefix, got %s", l.sessionID)
	}
}

// ==================== Convenience Methods Tests ====================

func TestAuditLogger_LogIngestStart(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: true}

	l.LogIngestStart(context.Background(), "report.pdf", "PDF", 2048)

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.EventType != AuditEventIngestStart {
		t.Fatalf("expected ingest.start, got %s", event.EventType)
	}
	if event.Details["source"] != "report.pdf" {
		t.Fatalf("expected report.pdf, got %v", event.Details["source"])
	}
}

func TestAuditLogger_LogIngestComplete(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: true}

	l.LogIngestComplete(context.Background(), "report.pdf", 42, 21000, 5*time.Second)

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.EventType != AuditEventIngestComplete {
		t.Fatalf("expected ingest.complete, got %s", event.EventType)
	}
	if !event.Success {
		t.Fatal("expected success=true")
	}
	if event.Details["chunks"].(float64) != 42 {
		t.Fatalf("expected 42 chunks, got %v", event.Details["chunks"])
	}
}

func TestAuditLogger_LogIngestError(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: true}

	l.LogIngestError(context.Background(), "broken.docx",
		&testError{msg: "document is corrupt"})

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.EventType != AuditEventIngestError {
		t.Fatalf("expected ingest.error, got %s", event.EventType)
	}
	if event.Success {
		t.Fatal("expected success=false for error")
	}
	if event.ErrorDetail != "document is corrupt" {
		t.Fatalf("expected error detail, got %s", event.ErrorDetail)
	}
}

func TestAuditLogger_LogSearch(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: true}

	l.LogSearch(context.Background(), "pdf_chunks", 35, 5, 200*time.Millisecond)

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.EventType != AuditEventSearch {
		t.Fatalf("expected search, got %s", event.EventType)
	}
	if event.Details["hits"].(float64) != 5 {
		t.Fatalf("expected 5 hits, got %v", event.Details["hits"])
	}
	// The query text itself must never appear.
	if _, ok := event.Details["query"]; ok {
		t.Fatal("query text must not be audited")
	}
}

func TestAuditLogger_LogLLMRequest(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: true}

	l.LogLLMRequest(context.Background(), "groq", "openai/gpt-oss-20b", 500, 200, 2*time.Second)

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.EventType != AuditEventLLMRequest {
		t.Fatalf("expected llm.request, got %s", event.EventType)
	}
	if event.Details["provider"] != "groq" {
		t.Fatalf("expected groq, got %v", event.Details["provider"])
	}
	if event.Details["total_tokens"].(float64) != 700 {
		t.Fatalf("expected 700 total tokens, got %v", event.Details["total_tokens"])
	}
}

func TestAuditLogger_LogLLMError(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: true}

	l.LogLLMError(context.Background(), "groq", "openai/gpt-oss-20b",
		&testError{msg: "rate limited"})

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.EventType != AuditEventLLMError {
		t.Fatalf("expected llm.error, got %s", event.EventType)
	}
	if event.Success {
		t.Fatal("expected success=false")
	}
}

func TestAuditLogger_LogCollectionDrop(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: true}

	l.LogCollectionDrop(context.Background(), "pdf_chunks")

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.EventType != AuditEventCollectionDrop {
		t.Fatalf("expected collection.drop, got %s", event.EventType)
	}
	if event.Details["collection"] != "pdf_chunks" {
		t.Fatalf("expected pdf_chunks, got %v", event.Details["collection"])
	}
}

func TestAuditLogger_LogWorkflowStart(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: true}

	l.LogWorkflowStart(context.Background(), "wf-456", "https://example.com/doc.pdf")

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.EventType != AuditEventWorkflowStart {
		t.Fatalf("expected workflow.start, got %s", event.EventType)
	}
	if event.WorkflowID != "wf-456" {
		t.Fatalf("expected wf-456, got %s", event.WorkflowID)
	}
}

func TestAuditLogger_LogWorkflowEnd(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: true}

	l.LogWorkflowEnd(context.Background(), "wf-456", true, 10*time.Minute, 42)

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)

	if event.EventType != AuditEventWorkflowEnd {
		t.Fatalf("expected workflow.end, got %s", event.EventType)
	}
	if !event.Success {
		t.Fatal("expected success=true")
	}
}

func TestAuditLogger_Close_File(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "audit.log")

	l, _ := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: logPath,
	})

	l.Log(&AuditEvent{EventType: AuditEventIngestStart})
	err := l.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Verify file exists and has content
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log content")
	}
}

func TestAuditLogger_Close_Stdout(t *testing.T) {
	l, _ := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	})

	// Should not error when closing stdout
	err := l.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ==================== Global Logger Tests ====================

func TestAudit_DisabledByDefault(t *testing.T) {
	// Reset global state
	globalAuditLogger = nil

	l := Audit()
	if l.enabled {
		t.Fatal("expected disabled logger when not initialized")
	}
}

// ==================== Event Type Constants ====================

func TestAuditEventTypes(t *testing.T) {
	types := []AuditEventType{
		AuditEventIngestStart,
		AuditEventIngestComplete,
		AuditEventIngestError,
		AuditEventFetch,
		AuditEventSearch,
		AuditEventAnswer,
		AuditEventLLMRequest,
		AuditEventLLMError,
		AuditEventCollectionDrop,
		AuditEventWorkflowStart,
		AuditEventWorkflowEnd,
	}

	for _, et := range types {
		if et == "" {
			t.Fatal("event type should not be empty")
		}
	}
}

// Helper error type for testing
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
