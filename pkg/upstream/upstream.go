package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Error is returned when the upstream could not be reached or did not
// respond with a success status.
type Error struct {
	URL string
	// Upstream status code, zero if no response was received.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("Upstream %s responded with %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("Could not fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the status to send to the client: the upstream status
// for HTTP errors, 502 Bad Gateway otherwise.
func (e *Error) Status() int {
	if e.StatusCode >= 400 {
		return e.StatusCode
	}
	return http.StatusBadGateway
}

type Fetcher struct {
	client http.Client
	log    zerolog.Logger
}

// NewFetcher creates a fetcher.
// A zero timeout means the fetch is only bounded by the request context.
// The logger is the global zerolog logger if nil.
func NewFetcher(timeout time.Duration, logger *zerolog.Logger) *Fetcher {
	if logger == nil {
		logger = &log.Logger
	}
	return &Fetcher{
		client: http.Client{Timeout: timeout},
		log:    logger.With().Str("component", "upstream").Logger(),
	}
}

// Fetch issues a single streamed GET for the given URL.
// On success the caller owns the response body and must close it.
// Failures are not retried.
func (f *Fetcher) Fetch(ctx context.Context, u *url.URL) (*http.Response, error) {
	uri := u.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &Error{URL: uri, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	f.log.Trace().Str("url", uri).Msg("Requesting content from upstream")
	start := time.Now()
	res, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: uri, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, &Error{URL: uri, StatusCode: res.StatusCode}
	}
	f.log.Trace().
		Str("url", uri).
		Int("status", res.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Got response from upstream")
	return res, nil
}
