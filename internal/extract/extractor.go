package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors for the extraction stage.
var (
	// ErrUnsupportedFormat is returned when no extractor is registered for a
	// source type or MIME type.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrExtractionFailure is returned when a format-specific parser fails.
	ErrExtractionFailure = errors.New("extraction failure")
	// ErrFetchFailure is returned when a URL source cannot be fetched.
	ErrFetchFailure = errors.New("fetch failure")
)

// SourceType identifies the shape of an ingestion payload.
type SourceType string

const (
	TypeFile SourceType = "file"
	TypeURL  SourceType = "url"
	TypeText SourceType = "text"
)

// Source is a tagged ingestion payload. Exactly one variant's fields are
// meaningful, selected by Type: File uses MIME+Data, URL uses URL, Text
// uses Text.
type Source struct {
	Type SourceType
	Name string

	// File variant.
	MIME string
	Data []byte

	// URL variant.
	URL string

	// Text variant.
	Text string
}

const (
	maxFetchSize = 5 << 20 // 5MB cap on fetched URL bodies
	fetchTimeout = 15 * time.Second
)

// Handler converts one source variant into plain text.
type Handler func(ctx context.Context, e *Extractor, src Source) (string, error)

// fileExtractors maps MIME types to byte-level text extractors. Adding a
// file format means adding an entry here; dispatch never changes.
var fileExtractors = map[string]func(data []byte) (string, error){
	"text/plain":      extractPlainText,
	"text/markdown":   extractPlainText,
	"application/pdf": extractPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": extractDocx,
}

// Extractor converts raw ingestion sources into UTF-8 plain text. Handlers
// are registered per source type; unknown types fail with
// ErrUnsupportedFormat.
type Extractor struct {
	client   *http.Client
	handlers map[SourceType]Handler
}

// New creates an Extractor with handlers for file, url, and text sources.
// A nil client selects a default HTTP client with a fetch timeout.
func New(client *http.Client) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	e := &Extractor{client: client}
	e.handlers = map[SourceType]Handler{
		TypeFile: extractFile,
		TypeURL:  extractURL,
		TypeText: extractText,
	}
	return e
}

// Extract produces plain text for the given source.
func (e *Extractor) Extract(ctx context.Context, src Source) (string, error) {
	handler, ok := e.handlers[src.Type]
	if !ok {
		return "", fmt.Errorf("%w: unknown source type %q", ErrUnsupportedFormat, src.Type)
	}
	return handler(ctx, e, src)
}

func extractFile(_ context.Context, _ *Extractor, src Source) (string, error) {
	mime := normalizeMIME(src.MIME)
	fn, ok := fileExtractors[mime]
	if !ok {
		return "", fmt.Errorf("%w: no extractor for MIME type %q", ErrUnsupportedFormat, src.MIME)
	}
	return fn(src.Data)
}

func extractText(_ context.Context, _ *Extractor, src Source) (string, error) {
	return src.Text, nil
}

func extractURL(ctx context.Context, e *Extractor, src Source) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url %q: %v", ErrFetchFailure, src.URL, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetching %q: %v", ErrFetchFailure, src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %q returned status %d", ErrFetchFailure, src.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return "", fmt.Errorf("%w: reading %q: %v", ErrFetchFailure, src.URL, err)
	}

	return StripHTML(string(body)), nil
}

func extractPlainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: file is not valid UTF-8", ErrExtractionFailure)
	}
	return string(data), nil
}

// normalizeMIME drops parameters such as "; charset=utf-8".
func normalizeMIME(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
