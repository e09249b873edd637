package authentication

import (
	"encoding/hex"
	"math/big"
	"net/url"
	"strings"
)

// FormEncode percent-encodes s, leaving only ALPHA / DIGIT / "-" / "_" / "." / "~" untouched and
// encoding spaces as "+". It is applied to the request URL inside a base string and to every
// signature before it is placed in the Authorization header.
func FormEncode(s string) string {
	return url.QueryEscape(s)
}

// StrictEncode percent-encodes s like FormEncode, except that spaces become "%20" and "/" is left
// as-is. It is only applied to the joined parameter string of a base string.
func StrictEncode(s string) string {
	// QueryEscape escapes a literal "+" as %2B, so any "+" left in its output stands for a space.
	encoded := url.QueryEscape(s)
	encoded = strings.ReplaceAll(encoded, "+", "%20")
	return strings.ReplaceAll(encoded, "%2F", "/")
}

// BigEndianBytes returns the minimal big-endian encoding of x. If the bit length of x is a
// multiple of 8, a single 0x00 byte is prepended so that a peer reading the bytes as a
// two's-complement integer still sees a positive number. Zero encodes as {0x00}.
func BigEndianBytes(x *big.Int) ([]byte, error) {
	switch x.Sign() {
	case -1:
		return nil, newError(ErrCodeEncoding, "cannot encode negative integer")
	case 0:
		return []byte{0x00}, nil
	}
	b := x.Bytes()
	if x.BitLen()%8 == 0 {
		return append([]byte{0x00}, b...), nil
	}
	return b, nil
}

// DecodePrepend converts the hex-encoded prepend into raw bytes.
func DecodePrepend(prepend string) ([]byte, error) {
	b, err := hex.DecodeString(prepend)
	if err != nil {
		return nil, newErrorf(ErrCodeEncoding, "invalid prepend: %s", err)
	}
	return b, nil
}

// parseHexInt parses an unsigned base-16 integer, accepting an optional "0x" prefix and an odd
// number of digits.
func parseHexInt(name, s string) (*big.Int, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if digits == "" || digits[0] == '-' || digits[0] == '+' {
		return nil, newErrorf(ErrCodeEncoding, "invalid %s", name)
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, newErrorf(ErrCodeEncoding, "invalid %s: not a hex integer", name)
	}
	return n, nil
}
