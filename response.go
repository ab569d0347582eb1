package relay

import (
	"bufio"
	"encoding/json"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/relaykit/relay/observability"
)

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"
)

// Content type constants.
const (
	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"

	// ContentTypeTextPlain is the plain text content type.
	ContentTypeTextPlain = "text/plain"

	// ContentTypeOctetStream is the binary content type.
	ContentTypeOctetStream = "application/octet-stream"
)

// ResponseWriter wraps http.ResponseWriter and records the status code
// and the number of body bytes written.
type ResponseWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

// NewResponseWriter wraps w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

// WriteHeader records and forwards the status code. Repeated calls
// after the header is written are ignored, matching net/http.
func (w *ResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// Write forwards the body bytes, implying a 200 status on first write.
func (w *ResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Status returns the recorded status code.
func (w *ResponseWriter) Status() int {
	return w.status
}

// Size returns the number of body bytes written so far.
func (w *ResponseWriter) Size() int {
	return w.size
}

// Written reports whether the response header has been sent.
func (w *ResponseWriter) Written() bool {
	return w.wroteHeader
}

// Flush implements http.Flusher for streaming support.
func (w *ResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker so connection upgrades work through
// the wrapper.
func (w *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Header sets a response header.
func (c *Context) Header(key, value string) {
	c.Writer.Header().Set(key, value)
}

// Status sends the given status code with no body.
func (c *Context) Status(code int) {
	c.Writer.WriteHeader(code)
}

// Send writes v using a content type inferred from its runtime type:
// []byte as a binary stream, string as plain text, and everything else
// as JSON.
func (c *Context) Send(v any) {
	switch body := v.(type) {
	case []byte:
		c.Header(HeaderContentType, ContentTypeOctetStream)
		_, _ = c.Writer.Write(body)
	case string:
		c.Header(HeaderContentType, ContentTypeTextPlain)
		_, _ = c.Writer.Write([]byte(body))
	default:
		c.JSON(v)
	}
}

// JSON writes v as a JSON response with status 200. Serialization
// failures produce a 500 and abort the chain.
func (c *Context) JSON(v any) {
	c.JSONStatus(http.StatusOK, v)
}

// JSONStatus writes v as a JSON response with the given status. The
// value is serialized before any byte reaches the wire so failures can
// still produce a clean 500.
func (c *Context) JSONStatus(status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.Logger().Error("response serialization failed",
			observability.Error(err),
		)
		c.Error(http.StatusInternalServerError, ErrSerialization.Error())
		return
	}
	c.Header(HeaderContentType, ContentTypeJSON)
	c.Writer.WriteHeader(status)
	_, _ = c.Writer.Write(data)
}

// SendFile writes the contents of the file at path, with the content
// type inferred from the extension. Read failures produce a 500 and
// abort the chain.
func (c *Context) SendFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		c.Logger().Error("file read failed",
			observability.String("path", path),
			observability.Error(err),
		)
		c.Error(http.StatusInternalServerError, ErrFileRead.Error())
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = ContentTypeOctetStream
	}
	c.Header(HeaderContentType, contentType)
	_, _ = c.Writer.Write(data)
}

// Error writes a JSON error body with the given status and aborts the
// chain. Pipeline failures are terminal, so no later handler runs.
func (c *Context) Error(status int, message string) {
	data, _ := json.Marshal(map[string]string{"error": message})
	c.Header(HeaderContentType, ContentTypeJSON)
	c.Writer.WriteHeader(status)
	_, _ = c.Writer.Write(data)
	c.Abort()
}

// PageRef points at a neighbouring page of a paginated response.
type PageRef struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Page is the envelope written by Paginate.
type Page[T any] struct {
	Data     []T      `json:"data"`
	Next     *PageRef `json:"next,omitempty"`
	Previous *PageRef `json:"previous,omitempty"`
}

// Paginate writes the page of items selected by limit and page (pages
// start at 1) as a JSON envelope. A next reference is present when
// items extend past the requested page, a previous reference when the
// page starts after the first item. Out-of-range pages yield an empty
// data array. A non-positive limit disables paging: every item is
// written and no page references accompany the data.
func Paginate[T any](c *Context, items []T, limit, page int) {
	if limit <= 0 {
		c.JSON(Page[T]{Data: lo.Slice(items, 0, len(items))})
		return
	}
	if page < 1 {
		page = 1
	}

	start := (page - 1) * limit
	end := start + limit

	envelope := Page[T]{
		Data: lo.Slice(items, start, end),
	}
	if len(items) > end {
		envelope.Next = &PageRef{Page: page + 1, Limit: limit}
	}
	if start > 0 {
		envelope.Previous = &PageRef{Page: page - 1, Limit: limit}
	}

	c.JSON(envelope)
}
