package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func mustParse(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestFetchStreamsBody(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rows":[]}`))
	}))
	defer server.Close()

	res, err := NewFetcher(0, nil).Fetch(context.Background(), mustParse(t, server.URL+"/view?limit=5&skip=1"))
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if string(body) != `{"rows":[]}` {
		t.Fatalf("Body is %s", body)
	}
	if query != "limit=5&skip=1" {
		t.Fatalf("Upstream query is %s", query)
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewFetcher(0, nil).Fetch(context.Background(), mustParse(t, server.URL))
	var upstreamErr *Error
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("Error is %v", err)
	}
	if upstreamErr.StatusCode != http.StatusNotFound || upstreamErr.Status() != http.StatusNotFound {
		t.Fatalf("Error is %+v", upstreamErr)
	}
	if upstreamErr.URL != server.URL {
		t.Fatalf("URL is %s", upstreamErr.URL)
	}
}

func TestFetchNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	uri := server.URL
	server.Close()

	_, err := NewFetcher(0, nil).Fetch(context.Background(), mustParse(t, uri))
	var upstreamErr *Error
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("Error is %v", err)
	}
	if upstreamErr.Status() != http.StatusBadGateway {
		t.Fatalf("Status is %d", upstreamErr.Status())
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	_, err := NewFetcher(100*time.Millisecond, nil).Fetch(context.Background(), mustParse(t, server.URL))
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Fetch took %s", elapsed)
	}
}
