package authentication

import (
	"fmt"
)

// ErrorCode identifies the class of an authentication failure.
type ErrorCode int

const (
	// ErrCodeKeyFormat indicates a private key or DH parameters could not be parsed.
	ErrCodeKeyFormat ErrorCode = iota + 1
	// ErrCodeDecryption indicates the access token secret failed PKCS #1 v1.5 padding validation.
	ErrCodeDecryption
	// ErrCodeValidation indicates a derived live session token did not match the server's signature.
	ErrCodeValidation
	// ErrCodeEncoding indicates a malformed hex or base64 value, or an out-of-range DH value.
	ErrCodeEncoding
)

var errCodeNames = map[ErrorCode]string{
	ErrCodeKeyFormat:  "KeyFormatError",
	ErrCodeDecryption: "DecryptionError",
	ErrCodeValidation: "ValidationError",
	ErrCodeEncoding:   "EncodingError",
}

func (c ErrorCode) String() string {
	if name, ok := errCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

var (
	// ErrKeyFormat matches (using errors.Is) any Error with code ErrCodeKeyFormat.
	ErrKeyFormat = &Error{Code: ErrCodeKeyFormat}
	// ErrDecryption matches any Error with code ErrCodeDecryption.
	ErrDecryption = &Error{Code: ErrCodeDecryption}
	// ErrValidation matches any Error with code ErrCodeValidation.
	ErrValidation = &Error{Code: ErrCodeValidation}
	// ErrEncoding matches any Error with code ErrCodeEncoding.
	ErrEncoding = &Error{Code: ErrCodeEncoding}
)

// Error is returned by every failing operation in this package.
type Error struct {
	Code ErrorCode
	Info string
}

func newError(code ErrorCode, info string) error {
	return &Error{Code: code, Info: info}
}

func newErrorf(code ErrorCode, format string, a ...interface{}) error {
	return &Error{Code: code, Info: fmt.Sprintf(format, a...)}
}

func (e *Error) Error() string {
	if e.Info == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Info)
}

// Is reports whether target is an *Error with the same code. An error with an empty Info field
// acts as a wildcard, so errors.Is(err, ErrDecryption) holds for any decryption failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Info == "" || t.Info == e.Info)
}
