package lruproxy

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// entityTag returns a strong entity tag for the body: its length in hex and
// the base64 sha1 of its content.
func entityTag(body []byte) string {
	sum := sha1.Sum(body)
	hash := base64.StdEncoding.EncodeToString(sum[:])
	return fmt.Sprintf(`"%x-%s"`, len(body), hash[:27])
}

// notModified reports whether any tag of the If-None-Match header matches
// the entity tag, using the weak comparison.
func notModified(r *http.Request, etag string) bool {
	header := r.Header.Get("If-None-Match")
	if header == "" {
		return false
	}
	for _, tag := range parseETags(header) {
		if tag == "*" || strings.TrimPrefix(tag, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}

// sendBuffered writes a complete body with an ETag, or 304 Not Modified if
// the client already has it.
func sendBuffered(w http.ResponseWriter, r *http.Request, body []byte) {
	etag := entityTag(body)
	h := w.Header()
	h.Set("ETag", etag)
	if notModified(r, etag) {
		h.Del("Content-Type")
		h.Del("Content-Length")
		h.Del("Content-Encoding")
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
}
