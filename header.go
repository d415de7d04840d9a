package lruproxy

import (
	"strconv"
	"strings"
)

type mediaRange struct {
	typ     string
	subtype string
	q       float64
}

// parseAccept parses the comma separated media ranges of an Accept header.
// Ranges without a valid q parameter get the weight 1.
func parseAccept(header string) []mediaRange {
	ranges := make([]mediaRange, 0)
	for _, item := range strings.Split(header, ",") {
		parts := strings.Split(item, ";")
		typ, subtype, found := strings.Cut(strings.TrimSpace(parts[0]), "/")
		if !found {
			continue
		}
		mr := mediaRange{typ: strings.ToLower(typ), subtype: strings.ToLower(subtype), q: 1}
		for _, param := range parts[1:] {
			name, val, _ := strings.Cut(strings.TrimSpace(param), "=")
			if strings.EqualFold(name, "q") {
				if q, err := strconv.ParseFloat(val, 64); err == nil {
					mr.q = q
				}
			}
		}
		ranges = append(ranges, mr)
	}
	return ranges
}

// specificity ranks how closely the range matches the media type, 0 if it does not.
func (m mediaRange) specificity(typ, subtype string) int {
	switch {
	case m.typ == typ && m.subtype == subtype:
		return 3
	case m.typ == typ && m.subtype == "*":
		return 2
	case m.typ == "*" && m.subtype == "*":
		return 1
	}
	return 0
}

// negotiate returns the offered media type preferred by the Accept header.
// On equal weights the earlier offer wins. An empty header accepts the
// first offer. Returns "" if nothing offered is acceptable.
func negotiate(accept string, offers ...string) string {
	if strings.TrimSpace(accept) == "" {
		if len(offers) > 0 {
			return offers[0]
		}
		return ""
	}
	ranges := parseAccept(accept)
	best, bestQ := "", 0.0
	for _, offer := range offers {
		typ, subtype, _ := strings.Cut(offer, "/")
		q, specificity := 0.0, 0
		for _, mr := range ranges {
			if s := mr.specificity(typ, subtype); s > specificity {
				q, specificity = mr.q, s
			}
		}
		if q > bestQ {
			best, bestQ = offer, q
		}
	}
	return best
}

// parseETags splits an If-None-Match header into its entity tags.
func parseETags(header string) []string {
	tags := make([]string, 0)
	for _, tag := range strings.Split(header, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
