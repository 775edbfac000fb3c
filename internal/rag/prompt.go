package rag

import (
	"fmt"
	"strings"
)

// NoAnswer is the model's mandated reply when retrieved context cannot
// support an answer. Callers can compare against it to detect the case.
const NoAnswer = "Not enough information in the document."

// Sentinel responses for queries that never reach the model: the collection
// does not exist yet, or retrieval came back empty.
const (
	NoDocumentsMessage = "No documents ingested yet. Please upload a document first."
	NoResultsMessage   = "No results found. Please upload a document first."
)

const promptTemplate = `
You are an expert assistant. Use ONLY the context below to answer.

USER QUERY:
%s

CONTEXT:
%s

RULES:
- Only use the provided context.
- If context is insufficient, respond: "Not enough information in the document."
`

// buildPrompt renders the answering prompt from the query and retrieved
// chunks. Chunks are separated by blank lines.
func buildPrompt(query string, chunks []string) string {
	return fmt.Sprintf(promptTemplate, query, strings.Join(chunks, "\n\n"))
}
