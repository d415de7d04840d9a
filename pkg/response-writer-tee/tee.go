package tee

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/always-cache/lru-proxy/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ResponseSaver is a wrapper around http.ResponseWriter that forwards the response
// to the client and, once a cache key has been registered, also saves the body to a buffer.
// Writes always reach the client first; the buffer is a passive copy.
type ResponseSaver struct {
	rw           http.ResponseWriter
	b            *bytes.Buffer
	status       int
	wroteHeaders bool
	encoding     string
	key          string
	err          error
	CreatedAt    time.Time
}

// NewResponseSaver returns a new ResponseSaver writing (tee'ing) to w.
func NewResponseSaver(w http.ResponseWriter) *ResponseSaver {
	return &ResponseSaver{
		CreatedAt: time.Now(),
		rw:        w,
		b:         &bytes.Buffer{},
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.rw.Header()
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		t.rw.WriteHeader(statusCode)
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	// the encoding as negotiated when the response begins
	t.encoding = t.rw.Header().Get("Content-Encoding")
	t.rw.WriteHeader(statusCode)
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	n, err := t.rw.Write(b)
	if err != nil {
		t.Abort(err)
		return n, err
	}
	if t.capturing() {
		t.b.Write(b[:n])
	}
	return n, nil
}

// Implementation of http.Flusher
func (t *ResponseSaver) Flush() {
	if f, ok := t.rw.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying writer, for http.ResponseController.
func (t *ResponseSaver) Unwrap() http.ResponseWriter {
	return t.rw
}

// Capture registers the cache key the body will be stored under.
// It must be called before the body is written. Safe to call on nil.
func (t *ResponseSaver) Capture(key string) {
	if t == nil {
		return
	}
	t.key = key
}

// Abort marks the capture as failed, e.g. because the upstream stream broke off.
// Nothing will be committed. Safe to call on nil.
func (t *ResponseSaver) Abort(err error) {
	if t == nil || t.err != nil {
		return
	}
	t.err = err
	t.b.Reset()
}

// StatusCode returns the status code of the response.
func (t *ResponseSaver) StatusCode() int {
	return t.status
}

// Key returns the registered cache key, if any.
func (t *ResponseSaver) Key() string {
	return t.key
}

func (t *ResponseSaver) capturing() bool {
	return t.key != "" && t.err == nil
}

// entry returns the captured entry if the response is complete and cacheable.
func (t *ResponseSaver) entry(ctx context.Context) (cache.Entry, bool) {
	if !t.capturing() || t.status != http.StatusOK {
		return cache.Entry{}, false
	}
	// the client went away: the stream may have been cut short
	if ctx.Err() != nil {
		return cache.Entry{}, false
	}
	body := t.b.Bytes()
	t.b = &bytes.Buffer{}
	return cache.Entry{Body: body, Encoding: t.encoding, StoredAt: time.Now()}, true
}

type contextKey struct{}

// NewContext returns a context carrying the response saver.
func NewContext(ctx context.Context, t *ResponseSaver) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the response saver of the request, or nil.
func FromContext(ctx context.Context) *ResponseSaver {
	t, _ := ctx.Value(contextKey{}).(*ResponseSaver)
	return t
}

// Middleware tees every GET response into a ResponseSaver. When the handler
// returns, a response whose handler registered a key is committed to the store
// as a single complete entry. Aborted, unsuccessful or cancelled responses are
// discarded. The logger is the global zerolog logger if nil.
func Middleware(store cache.Provider, logger *zerolog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = &log.Logger
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			rs := NewResponseSaver(w)
			next.ServeHTTP(rs, r.WithContext(NewContext(r.Context(), rs)))
			commit(r.Context(), store, rs, logger)
		})
	}
}

func commit(ctx context.Context, store cache.Provider, rs *ResponseSaver, logger *zerolog.Logger) {
	if rs.key == "" {
		return
	}
	entry, ok := rs.entry(ctx)
	if !ok {
		evt := logger.Debug().Str("key", rs.key).Int("status", rs.status)
		if rs.err != nil {
			evt = evt.Err(rs.err)
		} else if ctx.Err() != nil {
			evt = evt.Err(ctx.Err())
		}
		evt.Msg("Discarding incomplete response")
		return
	}
	if err := store.Set(rs.key, entry); err != nil {
		logger.Error().Err(err).Str("key", rs.key).Msg("Could not write to cache")
		return
	}
	logger.Trace().
		Str("key", rs.key).
		Str("encoding", entry.Encoding).
		Int("bytes", len(entry.Body)).
		Dur("elapsed", time.Since(rs.CreatedAt)).
		Msg("Cache write")
}
