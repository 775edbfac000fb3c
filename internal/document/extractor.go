package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extraction is the result of converting a document to plain text. Count is the
// structural count for the format: pages for PDF, paragraphs for DOCX, slides
// for PPTX, non-blank lines for plain text, text blocks for HTML.
type Extraction struct {
	Text  string
	Count int
}

// Extract converts the document's bytes into plain text. It is pure and
// stateless; the same input always yields the same output.
func Extract(doc *Document) (*Extraction, error) {
	switch doc.Format {
	case FormatPDF:
		return extractPDF(doc.Data)
	case FormatDocx:
		return extractDocx(doc.Data)
	case FormatPptx:
		return extractPptx(doc.Data)
	case FormatText:
		return extractText(doc.Data), nil
	case FormatHTML:
		return extractHTML(doc.Data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, doc.Format)
}

// extractPDF concatenates per-page text with newline separators. A page whose
// extraction yields nothing contributes an empty string, not an error.
func extractPDF(data []byte) (*Extraction, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	total := reader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages with unusual font encodings yield no text rather than
			// aborting the whole document.
			text = ""
		}
		pages = append(pages, text)
	}
	return &Extraction{Text: strings.Join(pages, "\n"), Count: total}, nil
}

// extractText reads the bytes as UTF-8, replacing invalid sequences instead of
// failing. Count is the number of non-blank lines.
func extractText(data []byte) *Extraction {
	content := strings.ToValidUTF8(string(data), "�")
	count := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return &Extraction{Text: content, Count: count}
}
