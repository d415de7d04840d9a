package lruproxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	cachekey "github.com/always-cache/lru-proxy/pkg/cache-key"
	"github.com/always-cache/lru-proxy/pkg/upstream"

	"github.com/rs/zerolog/hlog"
)

// HTTPError is an error rendered to the client with the given status.
type HTTPError struct {
	Status  int
	Message string
	// Diagnostic context, rendered along with the message.
	Fields map[string]string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// toHTTPError maps request errors onto the status and payload shown to the client.
// Server error messages are replaced by the status text.
func toHTTPError(err error) *HTTPError {
	var httpErr *HTTPError
	var notImplemented *cachekey.NotImplementedError
	var upstreamErr *upstream.Error
	switch {
	case errors.As(err, &httpErr):
		httpErr = &HTTPError{Status: httpErr.Status, Message: httpErr.Message, Fields: httpErr.Fields}
	case errors.Is(err, cachekey.ErrNotFound):
		httpErr = &HTTPError{Status: http.StatusNotFound}
	case errors.As(err, &notImplemented):
		httpErr = &HTTPError{
			Status: http.StatusNotImplemented,
			Fields: map[string]string{
				"url":       notImplemented.URL,
				"supported": notImplemented.Supported,
			},
		}
	case errors.As(err, &upstreamErr):
		httpErr = &HTTPError{Status: upstreamErr.Status(), Message: err.Error()}
	default:
		httpErr = &HTTPError{Status: http.StatusInternalServerError}
	}
	if httpErr.Message == "" || httpErr.Status >= 500 {
		httpErr.Message = http.StatusText(httpErr.Status)
	}
	return httpErr
}

const (
	mimeHTML = "text/html"
	mimeText = "text/plain"
	mimeJSON = "application/json"
)

// renderError logs the error and renders it in the format the client prefers:
// HTML, plain text or JSON.
func (p *LRUProxy) renderError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := toHTTPError(err)

	logger := hlog.FromRequest(r)
	evt := logger.Debug()
	if httpErr.Status >= 500 && httpErr.Status != http.StatusNotImplemented {
		evt = logger.Error()
	}
	var upstreamErr *upstream.Error
	if errors.As(err, &upstreamErr) {
		evt = evt.Str("upstream", upstreamErr.URL)
	}
	evt.Err(err).Int("status", httpErr.Status).Msg("Request failed")

	var body bytes.Buffer
	contentType := negotiate(r.Header.Get("Accept"), mimeHTML, mimeText, mimeJSON)
	switch contentType {
	case mimeJSON:
		payload := map[string]interface{}{}
		for name, value := range httpErr.Fields {
			payload[name] = value
		}
		payload["status"] = httpErr.Status
		payload["error"] = httpErr.Message
		json.NewEncoder(&body).Encode(payload)
	case mimeText:
		writeText(&body, httpErr)
	default:
		contentType = mimeHTML
		data := struct {
			*HTTPError
			StatusText string
		}{httpErr, http.StatusText(httpErr.Status)}
		if err := p.templates.error.Execute(&body, data); err != nil {
			logger.Error().Err(err).Msg("Could not render error page")
			contentType = mimeText
			body.Reset()
			writeText(&body, httpErr)
		}
	}

	h := w.Header()
	h.Del("Content-Encoding")
	h.Del("Cache-Status")
	h.Set("Content-Type", contentType+"; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpErr.Status)
	if r.Method != http.MethodHead {
		w.Write(body.Bytes())
	}
}

func writeText(w io.Writer, httpErr *HTTPError) {
	fmt.Fprintln(w, httpErr.Message)
	names := make([]string, 0, len(httpErr.Fields))
	for name := range httpErr.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s: %s\n", name, httpErr.Fields[name])
	}
}
