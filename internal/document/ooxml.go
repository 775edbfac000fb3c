package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Office Open XML containers are ZIP archives; both validators check the
// archive structure before any XML parsing happens.

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// extractDocx concatenates non-blank paragraph text with newline separators.
// Count is the total paragraph count, blank paragraphs included.
func extractDocx(data []byte) (*Extraction, error) {
	archive, err := openArchive(data, false)
	if err != nil {
		return nil, err
	}

	body, err := readArchiveFile(archive, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("%w: missing word/document.xml", ErrCorruptDocument)
	}

	paragraphs, err := collectParagraphs(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	var kept []string
	for _, p := range paragraphs {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return &Extraction{Text: strings.Join(kept, "\n"), Count: len(paragraphs)}, nil
}

// extractPptx concatenates text from every shape across all slides in slide
// order. Table cell text lives in the same a:t runs and is picked up by the
// paragraph walk. Count is the slide count; an empty deck is not an error.
func extractPptx(data []byte) (*Extraction, error) {
	archive, err := openArchive(data, true)
	if err != nil {
		return nil, err
	}

	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range archive.File {
		m := slideNameRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var lines []string
	for _, s := range slides {
		body, err := readArchiveFile(archive, s.name)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s", ErrCorruptDocument, s.name)
		}
		paragraphs, err := collectParagraphs(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
		for _, p := range paragraphs {
			if strings.TrimSpace(p) != "" {
				lines = append(lines, p)
			}
		}
	}
	return &Extraction{Text: strings.Join(lines, "\n"), Count: len(slides)}, nil
}

// openArchive validates the byte stream and opens it as a ZIP archive. When
// checkSignature is set, the stream must begin with the ZIP local-file-header
// signature ("PK") — the cheap corruption check for files that arrived over
// the network.
func openArchive(data []byte, checkSignature bool) (*zip.Reader, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if checkSignature && (len(data) < 2 || data[0] != 'P' || data[1] != 'K') {
		return nil, fmt.Errorf("%w: missing ZIP signature", ErrCorruptDocument)
	}
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return archive, nil
}

func readArchiveFile(archive *zip.Reader, name string) ([]byte, error) {
	f, err := archive.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// collectParagraphs walks an OOXML body and returns the text of each paragraph
// element (w:p in WordprocessingML, a:p in DrawingML) with its runs joined.
func collectParagraphs(body []byte) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))

	var (
		paragraphs []string
		current    strings.Builder
		inPara     bool
		inRun      bool
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				current.Reset()
			case "t":
				inRun = true
			case "tab":
				if inPara {
					current.WriteByte('\t')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if inPara {
					paragraphs = append(paragraphs, current.String())
				}
				inPara = false
			case "t":
				inRun = false
			}
		case xml.CharData:
			if inPara && inRun {
				current.Write(t)
			}
		}
	}
	return paragraphs, nil
}
