package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockSelector matches the elements whose text forms one extracted block each.
const blockSelector = "p, h1, h2, h3, h4, h5, h6, li, td, th, pre, blockquote"

// extractHTML pulls the visible text out of a web page. Scripts, styles and
// navigation noise are dropped; each block-level element becomes one line.
// Count is the number of non-blank blocks.
func extractHTML(data []byte) (*Extraction, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	page.Find("script, style, noscript, nav, header, footer").Remove()

	var blocks []string
	page.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		// Skip containers whose text is already captured by a nested block.
		if sel.Find(blockSelector).Length() > 0 {
			return
		}
		text := strings.TrimSpace(collapseSpace(sel.Text()))
		if text != "" {
			blocks = append(blocks, text)
		}
	})

	if len(blocks) == 0 {
		// Pages without block markup still have body text worth keeping.
		text := strings.TrimSpace(collapseSpace(page.Find("body").Text()))
		if text != "" {
			blocks = append(blocks, text)
		}
	}
	return &Extraction{Text: strings.Join(blocks, "\n"), Count: len(blocks)}, nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
