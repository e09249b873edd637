package authentication

import (
	"sort"
	"strings"
)

// Request holds everything that contributes to a signature base string.
//
// Headers contains the oauth_* parameters that go into the Authorization header (excluding
// oauth_signature). The remaining maps are optional. When the same key appears in more than one
// map, the value from the map listed later wins: Headers, Params, FormData, Body, ExtraHeaders.
type Request struct {
	Method       string
	URL          string
	Headers      map[string]string
	Params       map[string]string // URL query parameters
	FormData     map[string]string // application/x-www-form-urlencoded body
	Body         map[string]string // top-level fields of a JSON body
	ExtraHeaders map[string]string // additional Authorization header parameters
	// Prepend, if not empty, is concatenated in front of the base string without a separator.
	// It is only used when requesting a live session token.
	Prepend string
}

func (r *Request) mergedParameters() map[string]string {
	merged := make(map[string]string)
	for _, m := range []map[string]string{r.Headers, r.Params, r.FormData, r.Body, r.ExtraHeaders} {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// BaseString returns the canonical string that is signed for r.
func BaseString(r *Request) string {
	params := r.mergedParameters()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}

	base := strings.Join([]string{
		r.Method,
		FormEncode(r.URL),
		StrictEncode(strings.Join(pairs, "&")),
	}, "&")
	return r.Prepend + base
}
