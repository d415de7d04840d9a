package lruproxy

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/always-cache/lru-proxy/cache"
	cachekey "github.com/always-cache/lru-proxy/pkg/cache-key"
	"github.com/always-cache/lru-proxy/pkg/encoding"
	tee "github.com/always-cache/lru-proxy/pkg/response-writer-tee"
	"github.com/always-cache/lru-proxy/pkg/upstream"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// The one upstream resource that is proxied, as an absolute URL.
	// Clients request it by using it as the path, e.g. /https://host/path?limit=10
	Supported string
	// Upper bound (and default) of the limit query parameter.
	Limit int
	// Storage for cache entries. Created from Provider, MaxEntries and MaxAge if nil.
	Cache cache.Provider
	// Name of the cache provider, see cache.New.
	Provider string
	// Maximum number of cached responses. Zero means unbounded.
	MaxEntries int
	// Maximum age of a cached response. Zero means no expiry.
	MaxAge time.Duration
	// Timeout for the whole upstream exchange, body included. Zero means none.
	UpstreamTimeout time.Duration
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Disable request logging.
	Quiet bool
	// Directory with templates overriding the built-in index.html and error.html.
	TemplateDir string
}

type LRUProxy struct {
	cache      cache.Provider
	keyer      cachekey.CacheKeyer
	fetcher    *upstream.Fetcher
	templates  *templates
	log        zerolog.Logger
	maxEntries int
	maxAge     time.Duration
	handler    http.Handler
}

// New creates the proxy and its middleware stack.
func New(config Config) (*LRUProxy, error) {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("supported", config.Supported).
		Logger()

	keyer, err := cachekey.NewCacheKeyer(config.Supported, config.Limit)
	if err != nil {
		return nil, err
	}
	tmpl, err := loadTemplates(config.TemplateDir)
	if err != nil {
		return nil, err
	}
	store := config.Cache
	if store == nil {
		store, err = cache.New(config.Provider, cache.Config{
			MaxEntries: config.MaxEntries,
			MaxAge:     config.MaxAge,
		})
		if err != nil {
			return nil, err
		}
	}

	p := &LRUProxy{
		cache:      store,
		keyer:      keyer,
		fetcher:    upstream.NewFetcher(config.UpstreamTimeout, &logger),
		templates:  tmpl,
		log:        logger,
		maxEntries: config.MaxEntries,
		maxAge:     config.MaxAge,
	}
	p.handler = p.routes(config.Quiet)
	return p, nil
}

func (p *LRUProxy) routes(quiet bool) http.Handler {
	r := chi.NewRouter()

	r.Use(hlog.NewHandler(p.log))
	if !quiet {
		r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
		r.Use(hlog.RemoteAddrHandler("ip"))
		r.Use(hlog.AccessHandler(accessLog))
	}
	r.Use(p.recoverer)
	r.Use(tee.Middleware(p.cache, &p.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet},
		AllowCredentials: false,
	}))
	r.Use(encoding.PreferEncoding(encoding.Brotli))
	r.Use(encoding.NewCompressor(encoding.DefaultLevel).Handler)
	r.Use(middleware.GetHead)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		p.renderError(w, r, cachekey.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, HEAD")
		p.renderError(w, r, &HTTPError{Status: http.StatusMethodNotAllowed})
	})
	r.Get("/*", p.handle)
	return r
}

func (p *LRUProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Cache returns the storage of the proxy.
func (p *LRUProxy) Cache() cache.Provider {
	return p.cache
}

// Close releases the cache. The proxy must not serve requests afterwards.
func (p *LRUProxy) Close() error {
	return p.cache.Close()
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("url", r.URL.RequestURI()).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("")
}

// recoverer turns a panicking request into a 500 without taking the process down.
func (p *LRUProxy) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				hlog.FromRequest(r).WithLevel(zerolog.PanicLevel).
					Interface("panic", rvr).
					Bytes("stack", debug.Stack()).
					Msg("Recovered from panic")
				p.renderError(w, r, &HTTPError{Status: http.StatusInternalServerError})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
