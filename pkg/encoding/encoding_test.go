package encoding

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

const body = `{"rows":[{"key":"someone","value":1}]}`

func TestPreferBrotli(t *testing.T) {
	var seen string
	handler := PreferEncoding(Brotli)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Accept-Encoding")
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, br, deflate")

	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "br" {
		t.Fatalf("Accept-Encoding is %s", seen)
	}
}

func TestNoBrotliLeavesHeader(t *testing.T) {
	var seen string
	handler := PreferEncoding(Brotli)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Accept-Encoding")
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate, brotli")

	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "gzip, deflate, brotli" {
		t.Fatalf("Accept-Encoding is %s", seen)
	}
}

func TestAccepts(t *testing.T) {
	cases := map[string]bool{
		"br":                 true,
		"gzip,br":            true,
		" gzip ,  br ":       true,
		"gzip, br;q=0.5":     true,
		"BR":                 true,
		"gzip, br;q=0":       false,
		"gzip, deflate":      false,
		"":                   false,
		"gzip, x-br, brotli": false,
		"*":                  true,
		"gzip, *;q=0.1":      true,
		"gzip, *;q=0":        false,
		"br;q=0, *":          false,
		"*;q=0, br":          true,
	}
	for value, expected := range cases {
		h := http.Header{}
		if value != "" {
			h.Set("Accept-Encoding", value)
		}
		if got := Accepts(h, Brotli); got != expected {
			t.Fatalf("Accepts(%q) is %v", value, got)
		}
	}
}

func TestPreferBrotliForWildcard(t *testing.T) {
	var seen string
	handler := PreferEncoding(Brotli)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Accept-Encoding")
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "*")

	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "br" {
		t.Fatalf("Accept-Encoding is %s", seen)
	}
}

func TestClientAcceptsSeesOriginalHeader(t *testing.T) {
	var gzipAccepted, brAccepted bool
	handler := PreferEncoding(Brotli)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gzipAccepted = ClientAccepts(r, Gzip)
		brAccepted = ClientAccepts(r, Brotli)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !gzipAccepted || !brAccepted {
		t.Fatalf("gzip accepted: %v, br accepted: %v", gzipAccepted, brAccepted)
	}
}

func TestClientAcceptsWithoutRewrite(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	if !ClientAccepts(req, Gzip) || ClientAccepts(req, Brotli) {
		t.Fatal("ClientAccepts does not fall back to the request header")
	}
}

func compressedHandler() http.Handler {
	return PreferEncoding(Brotli)(NewCompressor(DefaultLevel).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, body)
		})))
}

func TestCompressesWithBrotli(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, br, deflate")
	rr := httptest.NewRecorder()

	compressedHandler().ServeHTTP(rr, req)

	if ce := rr.Header().Get("Content-Encoding"); ce != "br" {
		t.Fatalf("Content-Encoding is %s", ce)
	}
	decoded, err := io.ReadAll(brotli.NewReader(rr.Body))
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if string(decoded) != body {
		t.Fatalf("Body is %s", decoded)
	}
}

func TestCompressesWithGzipWithoutBrotli(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()

	compressedHandler().ServeHTTP(rr, req)

	if ce := rr.Header().Get("Content-Encoding"); ce != "gzip" {
		t.Fatalf("Content-Encoding is %s", ce)
	}
	gz, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	decoded, _ := io.ReadAll(gz)
	if string(decoded) != body {
		t.Fatalf("Body is %s", decoded)
	}
}

func TestAlreadyEncodedPassesThrough(t *testing.T) {
	handler := NewCompressor(DefaultLevel).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "br")
		io.WriteString(w, "already-compressed")
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "br")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if got := rr.Body.String(); got != "already-compressed" {
		t.Fatalf("Body is %s", got)
	}
	if ce := rr.Header().Values("Content-Encoding"); strings.Join(ce, ",") != "br" {
		t.Fatalf("Content-Encoding is %v", ce)
	}
}
