// Package temporal runs document ingestions as durable workflows: a fetch
// that survives worker restarts, followed by the extract-chunk-embed-store
// pipeline.
package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// IngestInput holds the parameters for a remote-document ingestion.
type IngestInput struct {
	URL      string
	Username string
	Password string
}

// IngestOutput holds the workflow result.
type IngestOutput struct {
	Source     string
	Format     string
	Units      int
	UnitName   string
	Chunks     int
	Characters int
}

// IngestDocumentWorkflow downloads a document and runs it through the
// ingestion pipeline. The fetch retries on transient network failures; the
// ingestion itself runs once, since the vector store layer already retries
// its own calls.
func IngestDocumentWorkflow(ctx workflow.Context, input IngestInput) (*IngestOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ingestion workflow started", "url", input.URL)

	fetchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeBadDocument},
		},
	})

	var staged StagedDocument
	if err := workflow.ExecuteActivity(fetchCtx, FetchDocumentActivity, input).Get(fetchCtx, &staged); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	// The staged file is deleted by the ingest activity, so it must not be
	// retried against a path that no longer exists.
	ingestCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var output IngestOutput
	if err := workflow.ExecuteActivity(ingestCtx, IngestDocumentActivity, staged).Get(ingestCtx, &output); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	logger.Info("ingestion workflow completed",
		"source", output.Source, "chunks", output.Chunks)
	return &output, nil
}
