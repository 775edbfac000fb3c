// Package chunker splits extracted document text into fixed-size overlapping
// segments for embedding and retrieval. Sizes and offsets are measured in
// characters (runes), so multi-byte text never gets cut mid-rune.
package chunker

import "fmt"

const (
	// DefaultSize is the default chunk length in characters.
	DefaultSize = 500
	// DefaultOverlap is the default overlap between adjacent chunks in characters.
	DefaultOverlap = 100
)

// Chunk is a contiguous segment of a document's text. Start is the character
// offset of the segment within the source text.
type Chunk struct {
	Start int
	Text  string
}

// Split cuts text into overlapping chunks of at most size characters, advancing
// size-overlap characters between chunks. Chunks are emitted in source order;
// only the final chunk may be shorter than size. Empty text yields no chunks.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d with size %d", overlap, size)
	}

	runes := []rune(text)
	var chunks []Chunk
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Start: start, Text: string(runes[start:end])})
	}
	return chunks, nil
}

// Count returns the number of chunks Split produces for text of n characters
// without materializing them.
func Count(n, size, overlap int) int {
	if n <= 0 {
		return 0
	}
	if n <= overlap {
		return 1
	}
	step := size - overlap
	return (n - overlap + step - 1) / step
}

// Stitch reconstructs the original text from chunks produced by Split with the
// given overlap, dropping the overlapping prefix of every chunk after the first.
func Stitch(chunks []Chunk, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	out := []rune(chunks[0].Text)
	for _, c := range chunks[1:] {
		runes := []rune(c.Text)
		if overlap >= len(runes) {
			// Fully contained in the previous chunk.
			continue
		}
		out = append(out, runes[overlap:]...)
	}
	return string(out)
}
