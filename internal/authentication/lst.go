package authentication

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
)

// DeriveLiveSessionToken computes the live session token
//
//	base64(HMAC-SHA1(key = BigEndianBytes(K), message = prepend bytes))
//
// where K is the DH shared secret computed from privateValue and the server's response. K is
// cleared before returning.
func DeriveLiveSessionToken(params *DHParameters, privateValue, response, prepend string) (string, error) {
	message, err := DecodePrepend(prepend)
	if err != nil {
		return "", err
	}
	k, err := params.SharedSecret(privateValue, response)
	if err != nil {
		return "", err
	}
	key, err := BigEndianBytes(k)
	k.SetInt64(0)
	if err != nil {
		return "", err
	}
	defer clear(key)

	mac := hmac.New(sha1.New, key)
	mac.Write(message)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// ValidateLiveSessionToken reports whether signature, the hex digest returned by the server as
// live_session_token_signature, equals hex(HMAC-SHA1(key = liveSessionToken bytes, message =
// consumerKey)). The comparison is exact (case-sensitive) and constant-time. A malformed token
// never validates.
//
// Callers must discard the token and abort the session when this returns false.
func ValidateLiveSessionToken(liveSessionToken, signature, consumerKey string) bool {
	key, err := decodeLiveSessionToken(liveSessionToken)
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, key)
	mac.Write([]byte(consumerKey))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
