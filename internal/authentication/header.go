package authentication

import (
	"sort"
	"strings"
)

// Authorization header parameter names.
const (
	ParamConsumerKey     = "oauth_consumer_key"
	ParamNonce           = "oauth_nonce"
	ParamSignature       = "oauth_signature"
	ParamSignatureMethod = "oauth_signature_method"
	ParamTimestamp       = "oauth_timestamp"
	ParamToken           = "oauth_token"
	ParamDHChallenge     = "diffie_hellman_challenge"
)

// AuthorizationHeader formats params as the value of an Authorization header:
//
//	OAuth realm="<realm>", k1="v1", k2="v2", ...
//
// Keys are sorted. Values are written verbatim, so signatures must already be form-encoded.
func AuthorizationHeader(params map[string]string, realm string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + `="` + params[k] + `"`
	}
	return `OAuth realm="` + realm + `", ` + strings.Join(pairs, ", ")
}
