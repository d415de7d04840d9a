package lruproxy

import (
	"fmt"
	"time"
)

type CacheStatusStatus string

const (
	CacheStatusHit = "hit"
	CacheStatusFwd = "fwd"
)

type CacheStatusFwdReason string

const (
	// The cache did not contain any responses that matched the
	// request URI.
	CacheStatusFwdUriMiss = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but its content encoding is not acceptable to the client.
	CacheStatusFwdVaryMiss = "vary-miss"
)

// CacheStatus renders the Cache-Status response header (RFC 9211).
type CacheStatus struct {
	status    CacheStatusStatus
	fwdReason CacheStatusFwdReason
	stored    bool
	ttl       time.Duration
}

func (cs *CacheStatus) Hit(ttl time.Duration) {
	cs.status = CacheStatusHit
	cs.ttl = ttl
}

func (cs *CacheStatus) Forward(reason CacheStatusFwdReason) {
	cs.status = CacheStatusFwd
	cs.fwdReason = reason
}

// Stored marks the forwarded response as being written to the cache.
func (cs *CacheStatus) Stored() {
	cs.stored = true
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("LRU-Proxy; %s", cs.status)
	if cs.status == CacheStatusFwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.status == CacheStatusHit && cs.ttl > 0 {
		status = fmt.Sprintf("%s; ttl=%d", status, int(cs.ttl.Seconds()))
	}
	if cs.stored {
		status = status + "; stored"
	}
	return status
}
