package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventIngestStart    AuditEventType = "ingest.start"
	AuditEventIngestComplete AuditEventType = "ingest.complete"
	AuditEventIngestError    AuditEventType = "ingest.error"
	AuditEventFetch          AuditEventType = "fetch"
	AuditEventSearch         AuditEventType = "search"
	AuditEventAnswer         AuditEventType = "answer"
	AuditEventLLMRequest     AuditEventType = "llm.request"
	AuditEventLLMError       AuditEventType = "llm.error"
	AuditEventCollectionDrop AuditEventType = "collection.drop"
	AuditEventWorkflowStart  AuditEventType = "workflow.start"
	AuditEventWorkflowEnd    AuditEventType = "workflow.end"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// AuditLogger handles audit event logging.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	userID    string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
	UserID     string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		userID:    config.UserID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}
	if event.UserID == "" {
		event.UserID = l.userID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogIngestStart logs the start of a document ingestion.
func (l *AuditLogger) LogIngestStart(ctx context.Context, source, format string, size int) {
	l.Log(&AuditEvent{
		EventType: AuditEventIngestStart,
		Success:   true,
		Message:   fmt.Sprintf("Ingesting %s", source),
		Details: map[string]interface{}{
			"source":     source,
			"format":     format,
			"size_bytes": size,
		},
	})
}

// LogIngestComplete logs a finished ingestion.
func (l *AuditLogger) LogIngestComplete(ctx context.Context, source string, chunks, characters int, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventIngestComplete,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Ingested %s: %d chunks", source, chunks),
		Details: map[string]interface{}{
			"source":     source,
			"chunks":     chunks,
			"characters": characters,
		},
	})
}

// LogIngestError logs a failed ingestion.
func (l *AuditLogger) LogIngestError(ctx context.Context, source string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventIngestError,
		Success:     false,
		Message:     fmt.Sprintf("Ingestion of %s failed", source),
		ErrorDetail: err.Error(),
		Details: map[string]interface{}{
			"source": source,
		},
	})
}

// LogFetch logs a remote document download.
func (l *AuditLogger) LogFetch(ctx context.Context, url string, size int, success bool, errMsg string) {
	event := &AuditEvent{
		EventType: AuditEventFetch,
		Success:   success,
		Message:   fmt.Sprintf("Fetched %s", url),
		Details: map[string]interface{}{
			"url":        url,
			"size_bytes": size,
		},
	}
	if errMsg != "" {
		event.ErrorDetail = errMsg
	}
	l.Log(event)
}

// LogSearch logs a similarity search. The query itself is not recorded, only
// its length, to keep user content out of audit trails.
func (l *AuditLogger) LogSearch(ctx context.Context, collection string, queryLength, hits int, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventSearch,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Search in %s returned %d hits", collection, hits),
		Details: map[string]interface{}{
			"collection":   collection,
			"query_length": queryLength,
			"hits":         hits,
		},
	})
}

// LogAnswer logs an answer generation.
func (l *AuditLogger) LogAnswer(ctx context.Context, provider, model string, duration time.Duration, success bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventAnswer,
		Success:   success,
		Duration:  duration,
		Message:   fmt.Sprintf("Answer generated by %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogLLMRequest logs an LLM request event.
func (l *AuditLogger) LogLLMRequest(ctx context.Context, provider, model string, inputTokens, outputTokens int, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventLLMRequest,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("LLM request to %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider":      provider,
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"total_tokens":  inputTokens + outputTokens,
		},
	})
}

// LogLLMError logs an LLM error event.
func (l *AuditLogger) LogLLMError(ctx context.Context, provider, model string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventLLMError,
		Success:     false,
		Message:     fmt.Sprintf("LLM error from %s/%s", provider, model),
		ErrorDetail: err.Error(),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogCollectionDrop logs the deletion of a collection.
func (l *AuditLogger) LogCollectionDrop(ctx context.Context, collection string) {
	l.Log(&AuditEvent{
		EventType: AuditEventCollectionDrop,
		Success:   true,
		Message:   fmt.Sprintf("Deleted collection %s", collection),
		Details: map[string]interface{}{
			"collection": collection,
		},
	})
}

// LogWorkflowStart logs a durable ingestion workflow start.
func (l *AuditLogger) LogWorkflowStart(ctx context.Context, workflowID, url string) {
	l.Log(&AuditEvent{
		EventType:  AuditEventWorkflowStart,
		WorkflowID: workflowID,
		Success:    true,
		Message:    "Ingestion workflow started",
		Details: map[string]interface{}{
			"url": url,
		},
	})
}

// LogWorkflowEnd logs a durable ingestion workflow completion.
func (l *AuditLogger) LogWorkflowEnd(ctx context.Context, workflowID string, success bool, duration time.Duration, chunks int) {
	l.Log(&AuditEvent{
		EventType:  AuditEventWorkflowEnd,
		WorkflowID: workflowID,
		Success:    success,
		Duration:   duration,
		Message:    fmt.Sprintf("Ingestion workflow completed: %d chunks", chunks),
		Details: map[string]interface{}{
			"chunks": chunks,
		},
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// Global audit logger instance
var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		// Return a disabled logger if not initialized
		return &AuditLogger{enabled: false}
	}
	return globalAuditLogger
}
