package authentication

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Signature methods, as sent in oauth_signature_method.
const (
	SignatureMethodRSASHA256  = "RSA-SHA256"
	SignatureMethodHMACSHA256 = "HMAC-SHA256"
)

// SignRSASHA256 signs baseString with PKCS #1 v1.5 over SHA-256 and returns the base64 signature,
// form-encoded for use in an Authorization header.
//
// This is used when requesting request tokens, access tokens and live session tokens.
func SignRSASHA256(baseString string, privateKey *rsa.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", newError(ErrCodeKeyFormat, "missing RSA signature key")
	}
	signature, err := jwt.SigningMethodRS256.Sign(baseString, privateKey)
	if err != nil {
		return "", newErrorf(ErrCodeKeyFormat, "RSA signature failed: %s", err)
	}
	encoded := strings.ReplaceAll(base64.StdEncoding.EncodeToString(signature), "\n", "")
	return FormEncode(encoded), nil
}

// DecryptPrepend recovers the prepend from the base64-encoded access token secret by decrypting it
// with PKCS #1 v1.5 padding. The decrypted bytes are returned hex-encoded.
//
// Padding failures are reported as a single DecryptionError that carries no detail about where
// validation failed.
func DecryptPrepend(accessTokenSecret string, privateKey *rsa.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", newError(ErrCodeKeyFormat, "missing RSA encryption key")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(accessTokenSecret)
	if err != nil {
		return "", newErrorf(ErrCodeEncoding, "access token secret is not base64: %s", err)
	}
	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, privateKey, ciphertext)
	if err != nil {
		return "", newError(ErrCodeDecryption, "could not decrypt access token secret")
	}
	return hex.EncodeToString(plaintext), nil
}

// SignHMACSHA256 computes HMAC-SHA256 over baseString keyed with the raw bytes of the
// base64-encoded live session token. The digest is returned base64-encoded and form-encoded.
//
// This is used for every protected-resource request once a live session token is established.
func SignHMACSHA256(baseString, liveSessionToken string) (string, error) {
	key, err := decodeLiveSessionToken(liveSessionToken)
	if err != nil {
		return "", err
	}
	digest, err := jwt.SigningMethodHS256.Sign(baseString, key)
	if err != nil {
		return "", newErrorf(ErrCodeEncoding, "HMAC signature failed: %s", err)
	}
	return FormEncode(base64.StdEncoding.EncodeToString(digest)), nil
}

func decodeLiveSessionToken(liveSessionToken string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(liveSessionToken)
	if err != nil {
		return nil, newErrorf(ErrCodeEncoding, "live session token is not base64: %s", err)
	}
	if len(key) == 0 {
		return nil, newError(ErrCodeEncoding, "empty live session token")
	}
	return key, nil
}
