package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/efebarandurmaz/docquery/internal/document"
	"github.com/efebarandurmaz/docquery/internal/observability"
	"github.com/efebarandurmaz/docquery/internal/rag"
	"github.com/efebarandurmaz/docquery/internal/vector"
)

const defaultMaxUploadBytes = 32 << 20 // 32 MiB

// APIConfig configures the JSON API.
type APIConfig struct {
	MaxUploadBytes int64
	FetchTimeout   time.Duration
	Logger         *slog.Logger
	Metrics        *observability.PipelineMetrics
	Audit          *observability.AuditLogger
}

// API exposes the ingest/search/ask pipeline over HTTP. All endpoints speak
// JSON except the ingest upload, which also accepts multipart form data.
type API struct {
	svc            *rag.Service
	store          *vector.Gateway
	fetcher        *document.Fetcher
	logger         *slog.Logger
	metrics        *observability.PipelineMetrics
	audit          *observability.AuditLogger
	maxUploadBytes int64
}

// NewAPI creates the API over a pipeline service and its vector store.
func NewAPI(svc *rag.Service, store *vector.Gateway, cfg *APIConfig) *API {
	if cfg == nil {
		cfg = &APIConfig{}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.Metrics()
	}
	if cfg.Audit == nil {
		cfg.Audit = observability.Audit()
	}
	return &API{
		svc:            svc,
		store:          store,
		fetcher:        document.NewFetcher(cfg.FetchTimeout),
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		audit:          cfg.Audit,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

// Routes returns the API handler.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ingest", a.handleIngest)
	mux.HandleFunc("/api/ask", a.handleAsk)
	mux.HandleFunc("/api/search", a.handleSearch)
	mux.HandleFunc("/api/collection", a.handleCollection)
	return mux
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

type ingestRequest struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// handleIngest ingests a document. Multipart uploads carry the file in the
// "file" field; JSON bodies name a URL to download.
func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var (
		doc *document.Document
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		doc, err = a.readUpload(r)
	} else {
		doc, err = a.fetchRemote(r)
	}
	if err != nil {
		writeError(w, ingestStatus(err), err.Error())
		return
	}

	a.audit.LogIngestStart(r.Context(), doc.Name, doc.Format.DisplayName(), len(doc.Data))

	start := time.Now()
	report, err := a.svc.Ingest(r.Context(), doc)
	a.metrics.RecordIngest(time.Since(start), reportChunks(report), err)
	if err != nil {
		a.audit.LogIngestError(r.Context(), doc.Name, err)
		a.logger.Error("ingestion failed", "source", doc.Name, "error", err)
		writeError(w, ingestStatus(err), err.Error())
		return
	}
	a.audit.LogIngestComplete(r.Context(), doc.Name, report.Chunks, report.Characters, time.Since(start))

	writeJSON(w, http.StatusOK, report)
}

func reportChunks(report *rag.IngestReport) int {
	if report == nil {
		return 0
	}
	return report.Chunks
}

func (a *API) readUpload(r *http.Request) (*document.Document, error) {
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		return nil, errors.New("invalid multipart form: " + err.Error())
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New(`multipart form needs a "file" field`)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, a.maxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > a.maxUploadBytes {
		return nil, errors.New("uploaded file exceeds the size limit")
	}
	return document.New(header.Filename, data)
}

func (a *API) fetchRemote(r *http.Request) (*document.Document, error) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body: " + err.Error())
	}
	if req.URL == "" {
		return nil, errors.New("url is required")
	}

	result, err := a.fetcher.Fetch(r.Context(), req.URL, req.Username, req.Password)
	if err != nil {
		a.audit.LogFetch(r.Context(), req.URL, 0, false, err.Error())
		return nil, err
	}
	defer result.Cleanup()
	a.audit.LogFetch(r.Context(), req.URL, int(result.Size), true, "")

	doc, err := result.Read()
	if err != nil {
		return nil, err
	}
	doc.Name = document.SourceName(req.URL)
	return doc, nil
}

// ingestStatus maps ingestion errors to HTTP status codes. Bad input is the
// client's fault; an unreachable origin is a gateway problem; everything else
// is ours.
func ingestStatus(err error) int {
	switch {
	case errors.Is(err, document.ErrUnsupportedFormat),
		errors.Is(err, document.ErrUnsupportedLegacyFormat),
		errors.Is(err, document.ErrEmptyDocument),
		errors.Is(err, document.ErrCorruptDocument),
		errors.Is(err, document.ErrEmptyExtraction):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrDownloadFailed):
		return http.StatusBadGateway
	}
	if strings.Contains(err.Error(), "invalid") || strings.Contains(err.Error(), "required") ||
		strings.Contains(err.Error(), `"file" field`) || strings.Contains(err.Error(), "size limit") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type askRequest struct {
	Query string `json:"query"`
}

// handleAsk generates an answer for a query. A store with nothing relevant is
// not an error at this level: the response carries a sentinel answer and an
// empty source list, distinguishing a never-populated store from a query that
// matched nothing.
func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	start := time.Now()
	answer, err := a.svc.Ask(r.Context(), req.Query)
	a.metrics.RecordAnswer(err)
	switch {
	case err == nil:
	case errors.Is(err, rag.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, rag.ErrNoProvider):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, vector.ErrCollectionNotFound):
		answer = &rag.Answer{Text: rag.NoDocumentsMessage, Sources: []vector.SearchResult{}}
	case errors.Is(err, rag.ErrNoResults):
		answer = &rag.Answer{Text: rag.NoResultsMessage, Sources: []vector.SearchResult{}}
	default:
		a.logger.Error("ask failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.audit.LogSearch(r.Context(), a.svc.Collection(), len(req.Query), len(answer.Sources), time.Since(start))

	writeJSON(w, http.StatusOK, answer)
}

type searchResponse struct {
	Results []vector.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

// handleSearch runs a raw similarity search without answer generation.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		query = r.URL.Query().Get("query")
	}
	topK := 0
	if s := r.URL.Query().Get("top_k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = n
	}

	start := time.Now()
	results, err := a.svc.Search(r.Context(), query, topK)
	a.metrics.RecordSearch(time.Since(start))
	switch {
	case err == nil:
	case errors.Is(err, rag.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, vector.ErrCollectionNotFound):
		writeError(w, http.StatusNotFound, "collection is empty; ingest a document first")
		return
	default:
		a.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.audit.LogSearch(r.Context(), a.svc.Collection(), len(query), len(results), time.Since(start))

	if results == nil {
		results = []vector.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

// handleCollection reports on (GET) or drops (DELETE) the active collection.
func (a *API) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		info, err := a.store.CollectionInfo(r.Context(), a.svc.Collection())
		if errors.Is(err, vector.ErrCollectionNotFound) {
			writeError(w, http.StatusNotFound, "collection does not exist")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, info)
	case http.MethodDelete:
		if err := a.store.DeleteCollection(r.Context(), a.svc.Collection()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		a.audit.LogCollectionDrop(r.Context(), a.svc.Collection())
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
