package encoding

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	Brotli = "br"
	Gzip   = "gzip"

	// DefaultLevel works for both brotli (0-11) and gzip/deflate (1-9).
	DefaultLevel = 5
)

// PreferEncoding returns a middleware that rewrites the request's Accept-Encoding
// header to only the given encoding when the client accepts it.
// Placed in front of a compressor, it makes every client that supports the
// encoding receive the same representation, so a single cached variant per key
// fits all of them. The header as sent by the client stays available to
// ClientAccepts.
func PreferEncoding(encoding string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Accepts(r.Header, encoding) {
				original := http.Header{"Accept-Encoding": append([]string(nil), r.Header.Values("Accept-Encoding")...)}
				r = r.WithContext(context.WithValue(r.Context(), contextKey{}, original))
				r.Header.Set("Accept-Encoding", encoding)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type contextKey struct{}

// ClientAccepts is Accepts for the Accept-Encoding header the client sent,
// before any rewrite by PreferEncoding.
func ClientAccepts(r *http.Request, encoding string) bool {
	if original, ok := r.Context().Value(contextKey{}).(http.Header); ok {
		return Accepts(original, encoding)
	}
	return Accepts(r.Header, encoding)
}

// Accepts reports whether the comma separated Accept-Encoding list contains the
// given encoding, or the * wildcard. An explicit q=0 marks the encoding as not
// acceptable. A listed encoding takes precedence over the wildcard.
func Accepts(h http.Header, encoding string) bool {
	wildcard := false
	for _, value := range h.Values("Accept-Encoding") {
		for _, item := range strings.Split(value, ",") {
			name, params, _ := strings.Cut(item, ";")
			name = strings.TrimSpace(name)
			if name == "*" {
				wildcard = !rejected(params)
				continue
			}
			if strings.EqualFold(name, encoding) {
				return !rejected(params)
			}
		}
	}
	return wildcard
}

func rejected(params string) bool {
	for _, param := range strings.Split(params, ";") {
		name, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || !strings.EqualFold(name, "q") {
			continue
		}
		if q, err := strconv.ParseFloat(value, 64); err == nil && q == 0 {
			return true
		}
	}
	return false
}

// NewCompressor creates the chi compressor with brotli support added.
// Responses that already have a Content-Encoding pass through unchanged.
func NewCompressor(level int, types ...string) *middleware.Compressor {
	compressor := middleware.NewCompressor(level, types...)
	compressor.SetEncoder(Brotli, func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})
	return compressor
}
