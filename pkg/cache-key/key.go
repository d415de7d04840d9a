package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrNotFound is returned for paths that are known not to exist,
// i.e. browser favicon probes.
var ErrNotFound = errors.New("Not found")

const (
	// HelpKey is the key of the help page served at the root path.
	HelpKey = "/"

	rootPath    = "/"
	faviconPath = "/favicon.ico"
	limitParam  = "limit"
)

// NotImplementedError is returned when the requested path is not the supported resource.
type NotImplementedError struct {
	// Requested URL (path and query)
	URL string
	// The one supported upstream resource
	Supported string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("Not implemented: %s (supported: %s)", e.URL, e.Supported)
}

// Key identifies a cacheable request.
type Key struct {
	// Canonical key string. For proxied requests this is the sorted,
	// limit-clamped query string, which is also sent to the upstream.
	Value string
	// Help is true for the root path, which is not proxied.
	Help bool
	// Upstream URL for proxied requests, nil for the help page.
	UpstreamURL *url.URL
}

type CacheKeyer struct {
	// The supported upstream resource, as configured.
	// Requests must use it (without the leading slash) as their path.
	Supported string
	// Upper bound for the limit query parameter
	Limit int

	supportedURL *url.URL
}

func NewCacheKeyer(supported string, limit int) (CacheKeyer, error) {
	supportedURL, err := url.Parse(supported)
	if err != nil {
		return CacheKeyer{}, err
	}
	if !supportedURL.IsAbs() {
		return CacheKeyer{}, fmt.Errorf("Supported URL %s is not absolute", supported)
	}
	if limit <= 0 {
		return CacheKeyer{}, fmt.Errorf("Limit must be positive, got %d", limit)
	}
	return CacheKeyer{
		Supported:    supported,
		Limit:        limit,
		supportedURL: supportedURL,
	}, nil
}

// GetKey maps the request onto its cache key.
// The favicon path is rejected before anything else, so browsers probing
// for it do not produce not-implemented diagnostics.
// The limit parameter is clamped to the configured ceiling when it is absent,
// not a number, or too large.
func (c CacheKeyer) GetKey(r *http.Request) (Key, error) {
	path := r.URL.EscapedPath()
	if path == faviconPath {
		return Key{}, ErrNotFound
	}
	if path == rootPath {
		return Key{Value: HelpKey, Help: true}, nil
	}
	if strings.TrimPrefix(path, "/") != c.Supported {
		return Key{}, &NotImplementedError{URL: r.URL.RequestURI(), Supported: c.Supported}
	}

	query := r.URL.Query()
	if limit, err := strconv.Atoi(query.Get(limitParam)); err != nil || limit > c.Limit {
		query.Set(limitParam, strconv.Itoa(c.Limit))
	}
	// Encode sorts by key and keeps the order of repeated values
	value := query.Encode()

	upstream := *c.supportedURL
	upstream.RawQuery = value
	upstream.ForceQuery = false
	return Key{Value: value, UpstreamURL: &upstream}, nil
}
