package protocol

import (
	"crypto/rsa"

	"github.com/cpwebapi/cpwebapi-go/internal/authentication"
)

// Expose some types from the otherwise internal package

type DHParameters = authentication.DHParameters

// LoadPrivateKey loads an RSA private key from a PEM file. Both PKCS #1 ("BEGIN RSA PRIVATE KEY")
// and unencrypted PKCS #8 ("BEGIN PRIVATE KEY") encodings are accepted. The same file may serve as
// the signature key and the encryption key.
func LoadPrivateKey(filename string) (*rsa.PrivateKey, error) {
	return authentication.LoadRSAPrivateKey(filename)
}

// ParsePrivateKey is like LoadPrivateKey but reads the PEM encoding from memory.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	return authentication.ParseRSAPrivateKey(pemBytes)
}

// LoadDHParameters loads PKCS #3 DH parameters ("BEGIN DH PARAMETERS"), as written by
// `openssl dhparam`.
func LoadDHParameters(filename string) (*DHParameters, error) {
	return authentication.LoadDHParameters(filename)
}

// DecryptAccessTokenSecret recovers the hex-encoded prepend from the base64 access token secret
// issued during consumer registration.
func DecryptAccessTokenSecret(accessTokenSecret string, encryptionKey *rsa.PrivateKey) (string, error) {
	return authentication.DecryptPrepend(accessTokenSecret, encryptionKey)
}

// PublicKeyPEM returns the PEM-encoded public half of key.
func PublicKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	return authentication.MarshalRSAPublicKey(key)
}
