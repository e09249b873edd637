package authentication

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"os"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// ParseRSAPrivateKey decodes a PEM-encoded RSA private key in either PKCS #1 ("RSA PRIVATE KEY")
// or PKCS #8 ("PRIVATE KEY") form.
func ParseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, newError(ErrCodeKeyFormat, "expected PEM encoding")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, newErrorf(ErrCodeKeyFormat, "invalid PKCS #1 key: %s", err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, newErrorf(ErrCodeKeyFormat, "invalid PKCS #8 key: %s", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, newError(ErrCodeKeyFormat, "only RSA keys supported")
		}
		return rsaKey, nil
	default:
		return nil, newErrorf(ErrCodeKeyFormat, "unsupported PEM block type %s", block.Type)
	}
}

// LoadRSAPrivateKey reads a private key from filename. See ParseRSAPrivateKey.
func LoadRSAPrivateKey(filename string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseRSAPrivateKey(pemBytes)
}

// ParseDHParameters decodes a PEM "DH PARAMETERS" block holding the PKCS #3 structure
//
//	DHParameter ::= SEQUENCE {
//	  prime INTEGER,
//	  base INTEGER,
//	  privateValueLength INTEGER OPTIONAL }
//
// The optional length is ignored; private values are always DHPrivateValueBits long.
func ParseDHParameters(pemBytes []byte) (*DHParameters, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, newError(ErrCodeKeyFormat, "expected PEM encoding")
	}
	if block.Type != "DH PARAMETERS" {
		return nil, newErrorf(ErrCodeKeyFormat, "unsupported PEM block type %s", block.Type)
	}

	var (
		der, params cryptobyte.String = block.Bytes, nil
		prime                         = new(big.Int)
		generator                     = new(big.Int)
	)
	if !der.ReadASN1(&params, asn1.SEQUENCE) || !der.Empty() {
		return nil, newError(ErrCodeKeyFormat, "malformed DH parameters")
	}
	if !params.ReadASN1Integer(prime) || !params.ReadASN1Integer(generator) {
		return nil, newError(ErrCodeKeyFormat, "malformed DH prime or generator")
	}
	if !params.Empty() {
		var length int64
		if !params.ReadASN1Integer(&length) || !params.Empty() {
			return nil, newError(ErrCodeKeyFormat, "malformed DH private value length")
		}
	}
	return NewDHParameters(prime, generator)
}

// LoadDHParameters reads DH parameters from filename. See ParseDHParameters.
func LoadDHParameters(filename string) (*DHParameters, error) {
	pemBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseDHParameters(pemBytes)
}

// MarshalRSAPublicKey returns the PKIX PEM encoding of key's public half. This is the format
// uploaded during consumer registration.
func MarshalRSAPublicKey(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, newErrorf(ErrCodeKeyFormat, "could not encode public key: %s", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
