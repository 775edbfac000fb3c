package temporal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/docquery/internal/document"
	"github.com/efebarandurmaz/docquery/internal/rag"
)

// ErrTypeBadDocument marks failures no retry can fix: unsupported formats,
// corrupt files, documents with no extractable text.
const ErrTypeBadDocument = "BadDocument"

// StagedDocument hands a fetched file from the fetch activity to the ingest
// activity. Both run on the same worker, so the path stays local.
type StagedDocument struct {
	Path      string
	Name      string
	Extension string
	Size      int64
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Service *rag.Service
	Fetcher *document.Fetcher
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

// FetchDocumentActivity downloads the document to a staging file. Each attempt
// stages a fresh file, so the activity is safe to retry.
func FetchDocumentActivity(ctx context.Context, input IngestInput) (StagedDocument, error) {
	result, err := deps.Fetcher.Fetch(ctx, input.URL, input.Username, input.Password)
	if err != nil {
		return StagedDocument{}, err
	}

	return StagedDocument{
		Path:      result.Path,
		Name:      document.SourceName(input.URL),
		Extension: result.Extension,
		Size:      result.Size,
	}, nil
}

// IngestDocumentActivity runs the staged file through the pipeline and removes
// it afterwards, on failure included.
func IngestDocumentActivity(ctx context.Context, staged StagedDocument) (*IngestOutput, error) {
	defer os.Remove(staged.Path)

	data, err := os.ReadFile(staged.Path)
	if err != nil {
		return nil, fmt.Errorf("reading staged file: %w", err)
	}

	format, err := document.DetectFormat(staged.Extension)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeBadDocument, err)
	}

	doc := &document.Document{Name: staged.Name, Format: format, Data: data}
	report, err := deps.Service.Ingest(ctx, doc)
	if err != nil {
		if isBadDocument(err) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeBadDocument, err)
		}
		return nil, err
	}

	return &IngestOutput{
		Source:     report.Source,
		Format:     report.Format,
		Units:      report.Units,
		UnitName:   report.UnitName,
		Chunks:     report.Chunks,
		Characters: report.Characters,
	}, nil
}

// isBadDocument reports whether the error is a document defect rather than an
// infrastructure failure.
func isBadDocument(err error) bool {
	return errors.Is(err, document.ErrUnsupportedFormat) ||
		errors.Is(err, document.ErrUnsupportedLegacyFormat) ||
		errors.Is(err, document.ErrEmptyDocument) ||
		errors.Is(err, document.ErrCorruptDocument) ||
		errors.Is(err, document.ErrEmptyExtraction)
}
