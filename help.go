package lruproxy

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
)

const (
	indexTemplate = "index.html"
	errorTemplate = "error.html"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

type templates struct {
	index *template.Template
	error *template.Template
}

// loadTemplates parses the page templates. Files present in dir replace
// the built-in ones of the same name.
func loadTemplates(dir string) (*templates, error) {
	index, err := loadTemplate(dir, indexTemplate)
	if err != nil {
		return nil, err
	}
	errorPage, err := loadTemplate(dir, errorTemplate)
	if err != nil {
		return nil, err
	}
	return &templates{index: index, error: errorPage}, nil
}

func loadTemplate(dir, name string) (*template.Template, error) {
	if dir != "" {
		path, err := securejoin.SecureJoin(dir, name)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err == nil {
			return template.ParseFiles(path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return template.ParseFS(embeddedTemplates, "templates/"+name)
}

type helpData struct {
	Root       string
	Supported  string
	Example    string
	Limit      int
	MaxEntries int
	MaxAge     time.Duration
}

// helpRoot returns the absolute root URL of the proxy as seen by the client.
func helpRoot(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return &url.URL{Scheme: scheme, Host: r.Host, Path: "/"}
}

// sendHelp renders the help page. It is rendered for every request
// and never stored.
func (p *LRUProxy) sendHelp(w http.ResponseWriter, r *http.Request) {
	root := helpRoot(r)
	data := helpData{
		Root:       root.String(),
		Supported:  p.keyer.Supported,
		Example:    fmt.Sprintf("%s%s?limit=10", root, p.keyer.Supported),
		Limit:      p.keyer.Limit,
		MaxEntries: p.maxEntries,
		MaxAge:     p.maxAge,
	}
	var buf bytes.Buffer
	if err := p.templates.index.Execute(&buf, data); err != nil {
		p.renderError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	sendBuffered(w, r, buf.Bytes())
}
