package authentication

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"math/big"
)

const (
	// NonceLength is the number of characters in an oauth_nonce.
	NonceLength = 32
	// DHPrivateValueBits is the size of the random DH exponent.
	DHPrivateValueBits = 256

	nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// A RandomSource supplies the per-request nonce and the per-handshake DH private value.
//
// Callers must request fresh values for every request (nonce) and every handshake (DH private
// value); implementations do not track reuse.
type RandomSource interface {
	// Nonce returns an oauth_nonce of NonceLength alphanumeric characters.
	Nonce() (string, error)
	// DHPrivateValue returns a positive DH exponent encoded as hex.
	DHPrivateValue() (string, error)
}

// NewRandomSource returns a FixedRandom if isTest is set, and a SecureRandom otherwise.
func NewRandomSource(isTest bool) RandomSource {
	if isTest {
		return FixedRandom{}
	}
	return SecureRandom{}
}

// SecureRandom draws from crypto/rand, or from Reader if it is set.
type SecureRandom struct {
	Reader io.Reader
}

func (s SecureRandom) reader() io.Reader {
	if s.Reader != nil {
		return s.Reader
	}
	return rand.Reader
}

func (s SecureRandom) Nonce() (string, error) {
	alphabetSize := big.NewInt(int64(len(nonceAlphabet)))
	nonce := make([]byte, NonceLength)
	for i := range nonce {
		index, err := rand.Int(s.reader(), alphabetSize)
		if err != nil {
			return "", err
		}
		nonce[i] = nonceAlphabet[index.Int64()]
	}
	return string(nonce), nil
}

func (s SecureRandom) DHPrivateValue() (string, error) {
	buf := make([]byte, DHPrivateValueBits/8)
	var value big.Int
	for value.Sign() == 0 {
		if _, err := io.ReadFull(s.reader(), buf); err != nil {
			return "", err
		}
		value.SetBytes(buf)
	}
	return value.Text(16), nil
}

// FixedRandom returns the same values on every call. It reproduces the reference test vectors
// and must never be used against a production server.
type FixedRandom struct{}

// Nonce returns the first NonceLength characters of the nonce alphabet.
func (FixedRandom) Nonce() (string, error) {
	return nonceAlphabet[:NonceLength], nil
}

// DHPrivateValue returns the hex encoding of the bytes 0x00, 0x01, ..., 0x1f.
func (FixedRandom) DHPrivateValue() (string, error) {
	buf := make([]byte, DHPrivateValueBits/8)
	for i := range buf {
		buf[i] = byte(i)
	}
	return hex.EncodeToString(buf), nil
}
