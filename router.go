package lruproxy

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/always-cache/lru-proxy/cache"
	cachekey "github.com/always-cache/lru-proxy/pkg/cache-key"
	"github.com/always-cache/lru-proxy/pkg/encoding"
	tee "github.com/always-cache/lru-proxy/pkg/response-writer-tee"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const jsonContentType = "application/json; charset=utf-8"

// handle serves the help page at the root and the supported resource
// from the cache or the upstream.
func (p *LRUProxy) handle(w http.ResponseWriter, r *http.Request) {
	key, err := p.keyer.GetKey(r)
	if err != nil {
		p.renderError(w, r, err)
		return
	}
	if key.Help {
		p.sendHelp(w, r)
		return
	}

	logger := hlog.FromRequest(r)
	status := &CacheStatus{}
	if entry, ok := p.cache.Peek(key.Value); ok {
		// identity entries are fine for everybody
		if entry.Encoding == "" || encoding.ClientAccepts(r, entry.Encoding) {
			logger.Trace().Str("key", key.Value).Msg("Cache hit and serving")
			p.sendStored(w, r, entry, status)
			return
		}
		logger.Trace().Str("key", key.Value).Str("encoding", entry.Encoding).Msg("Stored encoding not accepted")
		status.Forward(CacheStatusFwdVaryMiss)
	} else {
		status.Forward(CacheStatusFwdUriMiss)
	}
	p.forward(w, r, key, status)
}

// sendStored serves a cached body as is. The stored Content-Encoding keeps
// the compressor from encoding it again.
func (p *LRUProxy) sendStored(w http.ResponseWriter, r *http.Request, entry cache.Entry, status *CacheStatus) {
	age := time.Since(entry.StoredAt)
	var ttl time.Duration
	if p.maxAge > 0 {
		ttl = p.maxAge - age
	}
	status.Hit(ttl)
	logStatus(r, status)

	h := w.Header()
	h.Set("Content-Type", jsonContentType)
	if entry.Encoding != "" {
		h.Set("Content-Encoding", entry.Encoding)
		h.Add("Vary", "Accept-Encoding")
	}
	h.Set("Age", strconv.Itoa(int(age.Seconds())))
	h.Set("Cache-Status", status.String())
	sendBuffered(w, r, entry.Body)
}

// forward streams the upstream response to the client. On an uri-miss the
// body is captured for the cache while it passes through.
func (p *LRUProxy) forward(w http.ResponseWriter, r *http.Request, key cachekey.Key, status *CacheStatus) {
	res, err := p.fetcher.Fetch(r.Context(), key.UpstreamURL)
	if err != nil {
		p.renderError(w, r, err)
		return
	}
	defer res.Body.Close()

	saver := tee.FromContext(r.Context())
	if status.fwdReason == CacheStatusFwdUriMiss && saver != nil {
		saver.Capture(key.Value)
		status.Stored()
	}
	logStatus(r, status)

	w.Header().Set("Content-Type", jsonContentType)
	w.Header().Set("Cache-Status", status.String())
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if err := copyFlushing(w, res.Body); err != nil {
		saver.Abort(err)
		hlog.FromRequest(r).Warn().Err(err).Str("key", key.Value).Msg("Response stream broke off")
	}
}

// copyFlushing copies the body to the client, flushing after every chunk
// so that the client sees the upstream's progress.
func copyFlushing(w http.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func logStatus(r *http.Request, status *CacheStatus) {
	hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("cache", status.String())
	})
}
