package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const fetchUserAgent = "docquery/1.0"

// contentTypeExtensions maps response Content-Type values to file extensions,
// used when the URL path carries no usable extension.
var contentTypeExtensions = map[string]string{
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.ms-powerpoint":                                             ".ppt",
	"text/plain": ".txt",
	"text/html":  ".html",
}

// Fetcher downloads remote documents to a staging file on disk. Authentication
// beyond optional basic credentials is the caller's concern; the fetcher only
// needs "fetch bytes and detect the type".
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// FetchResult describes a staged download. Callers must invoke Cleanup when
// done with the file, on error paths included.
type FetchResult struct {
	Path      string
	Extension string
	Size      int64
}

// Cleanup removes the staged file. Safe to call more than once.
func (r *FetchResult) Cleanup() {
	if r != nil && r.Path != "" {
		os.Remove(r.Path)
		r.Path = ""
	}
}

// Read loads the staged file and wraps it in a Document, detecting the format
// from the extension established during the fetch.
func (r *FetchResult) Read() (*Document, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("reading staged download: %w", err)
	}
	name := filepath.Base(r.Path)
	format, err := DetectFormat(r.Extension)
	if err != nil {
		return nil, err
	}
	return &Document{Name: name, Format: format, Data: data}, nil
}

// Fetch downloads rawURL to a temporary file. The document type is detected,
// in order, from the final URL path after redirects, the Content-Type header,
// and the Content-Disposition filename. Downloads that turn out to be HTML
// sign-in pages for a non-HTML document fail with ErrDownloadFailed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, username, password string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "*/*")
	if username != "" {
		req.SetBasicAuth(username, password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned %s", ErrDownloadFailed, resp.Status)
	}

	ext := detectExtension(resp)
	if ext == "" {
		return nil, fmt.Errorf("%w: could not determine the document type from the URL or response headers", ErrDownloadFailed)
	}

	tmp, err := os.CreateTemp("", "docquery-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("%w: staging file: %v", ErrDownloadFailed, err)
	}
	size, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	result := &FetchResult{Path: tmp.Name(), Extension: ext, Size: size}
	if err := validateDownload(result); err != nil {
		result.Cleanup()
		return nil, err
	}
	return result, nil
}

// detectExtension derives a file extension for the download, trying the final
// URL path, then the Content-Type header, then the Content-Disposition
// filename. Returns "" when nothing usable is found.
func detectExtension(resp *http.Response) string {
	finalURL := resp.Request.URL
	if ext := strings.ToLower(path.Ext(finalURL.Path)); usableExtension(ext) {
		return ext
	}

	ct := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if ext, ok := contentTypeExtensions[strings.TrimSpace(strings.ToLower(ct))]; ok {
		return ext
	}

	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if ext := strings.ToLower(path.Ext(params["filename"])); usableExtension(ext) {
				return ext
			}
		}
	}
	return ""
}

// usableExtension reports whether ext identifies the document type. SharePoint
// viewer URLs end in .aspx, which says nothing about the file behind them.
func usableExtension(ext string) bool {
	return ext != "" && ext != ".aspx"
}

// validateDownload rejects empty downloads and HTML interstitials masquerading
// as documents (the usual symptom of a link that needs authentication).
func validateDownload(r *FetchResult) error {
	if r.Size == 0 {
		return fmt.Errorf("%w: downloaded file is empty; the URL may require authentication", ErrDownloadFailed)
	}
	if r.Extension == ".html" || r.Extension == ".htm" {
		return nil
	}

	file, err := os.Open(r.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer file.Close()

	head := make([]byte, 1024)
	n, _ := io.ReadFull(file, head)
	lower := bytes.ToLower(head[:n])
	if bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<!doctype")) {
		return fmt.Errorf("%w: the response is a web page, not a document; the URL likely requires authentication or a direct download link", ErrDownloadFailed)
	}
	return nil
}

// SourceName extracts a display name for a fetched document from its URL.
func SourceName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || path.Base(u.Path) == "/" || path.Base(u.Path) == "." {
		return "document_from_url"
	}
	return path.Base(u.Path)
}
