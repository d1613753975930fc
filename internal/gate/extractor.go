package gate

import (
	"strings"
)

// QueryParam is the query parameter accepted as a fallback carrier for
// the API key.
const QueryParam = "api_key"

// Extractor reads the API key from a request, checking the configured
// header first and the api_key query parameter second.
type Extractor struct {
	header string
}

// NewExtractor creates an extractor for the given header name.
func NewExtractor(header string) *Extractor {
	return &Extractor{header: header}
}

// Applicable reports whether the request carries the key header or the
// query parameter at all, even with an empty value.
func (e *Extractor) Applicable(req *Request) bool {
	if req.Header != nil && len(req.Header.Values(e.header)) > 0 {
		return true
	}
	return req.Query != nil && req.Query.Has(QueryParam)
}

// Extract returns the presented key, "" when absent or empty.
func (e *Extractor) Extract(req *Request) string {
	if req.Header != nil {
		if v := strings.TrimSpace(req.Header.Get(e.header)); v != "" {
			return v
		}
	}
	if req.Query != nil {
		return strings.TrimSpace(req.Query.Get(QueryParam))
	}
	return ""
}
