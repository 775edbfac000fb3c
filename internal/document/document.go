// Package document converts uploaded or downloaded files into plain text.
// It detects the document format from the file extension, validates the byte
// stream, and extracts text plus a per-format structural count (pages, slides,
// paragraphs or lines).
package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Extraction errors. Callers match these with errors.Is; the wrapped message
// carries the specific detail.
var (
	ErrUnsupportedFormat       = errors.New("unsupported document format")
	ErrUnsupportedLegacyFormat = errors.New("legacy format not supported, convert to the modern format (.docx/.pptx) first")
	ErrEmptyDocument           = errors.New("document is empty")
	ErrCorruptDocument         = errors.New("document is corrupt or not in the expected format")
	ErrEmptyExtraction         = errors.New("no text could be extracted from the document")
	ErrDownloadFailed          = errors.New("download failed")
)

// Format identifies a supported document format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDocx Format = "docx"
	FormatPptx Format = "pptx"
	FormatText Format = "txt"
	FormatHTML Format = "html"
)

// DisplayName returns a human-readable name for the format.
func (f Format) DisplayName() string {
	switch f {
	case FormatPDF:
		return "PDF"
	case FormatDocx:
		return "Word Document"
	case FormatPptx:
		return "PowerPoint Presentation"
	case FormatText:
		return "Text File"
	case FormatHTML:
		return "Web Page"
	}
	return "Document"
}

// UnitName returns what the structural count of an extraction counts.
func (f Format) UnitName() string {
	switch f {
	case FormatPDF:
		return "pages"
	case FormatDocx:
		return "paragraphs"
	case FormatPptx:
		return "slides"
	case FormatText:
		return "lines"
	case FormatHTML:
		return "blocks"
	}
	return "units"
}

// DetectFormat maps a filename (or bare extension) to a Format. Legacy Office
// formats are recognized but rejected with ErrUnsupportedLegacyFormat; anything
// else unknown fails with ErrUnsupportedFormat.
func DetectFormat(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" && strings.HasPrefix(filename, ".") {
		ext = strings.ToLower(filename)
	}
	switch ext {
	case ".pdf":
		return FormatPDF, nil
	case ".docx":
		return FormatDocx, nil
	case ".pptx":
		return FormatPptx, nil
	case ".txt":
		return FormatText, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".doc", ".ppt":
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLegacyFormat, ext)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Document is a raw byte stream paired with its detected format. It exists only
// for the duration of an ingestion.
type Document struct {
	Name   string
	Format Format
	Data   []byte
}

// New builds a Document from a filename and its contents, detecting the format
// from the filename extension.
func New(name string, data []byte) (*Document, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}
	return &Document{Name: name, Format: format, Data: data}, nil
}
