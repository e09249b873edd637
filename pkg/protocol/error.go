package protocol

import (
	"errors"
	"net/http"

	"github.com/cpwebapi/cpwebapi-go/internal/authentication"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the Error was triggered by a request that the server might
	// have executed. For example, if the connection drops after a request was written, the client
	// cannot tell whether a POST to iserver/switch took effect.
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition, such as
	// the gateway being restarted.
	Temporary() bool
}

var (
	// ErrNoLiveSessionToken indicates a protected request was attempted before a live session
	// token could be obtained.
	ErrNoLiveSessionToken = NewError("no live session token available", false, false)
	// ErrLiveSessionTokenInvalid indicates the server's live_session_token_signature did not match
	// the derived token. The token is discarded. This usually means the access token secret, the
	// encryption key or the DH parameters do not match what the server has on file.
	ErrLiveSessionTokenInvalid = NewError("live session token failed validation", false, false)
	// ErrBadResponse indicates the server returned a body that could not be interpreted.
	ErrBadResponse = errors.New("invalid response")
	// ErrMissingCredentials indicates a required credential was not configured.
	ErrMissingCredentials = errors.New("missing credentials")

	ErrKeyFormat  = authentication.ErrKeyFormat
	ErrDecryption = authentication.ErrDecryption
	ErrEncoding   = authentication.ErrEncoding
)

type RequestError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &RequestError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func (e *RequestError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *RequestError) Temporary() bool {
	return e.PossibleTemporary
}

// HttpError is returned when the server answers with a non-2xx status code.
type HttpError struct {
	Code    int
	Message string
}

func (e *HttpError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return e.Message
}

func (e *HttpError) MayHaveSucceeded() bool {
	if e.Code >= 400 && e.Code < 500 {
		return false
	}
	return e.Code != http.StatusServiceUnavailable
}

func (e *HttpError) Temporary() bool {
	return e.Code == http.StatusServiceUnavailable ||
		e.Code == http.StatusGatewayTimeout ||
		e.Code == http.StatusBadGateway ||
		e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests
}

// MayHaveSucceeded returns true if err is an Error that indicates the request may have been
// executed but the client did not receive a confirmation from the server.
func MayHaveSucceeded(err error) bool {
	var e Error
	if errors.As(err, &e) && e.MayHaveSucceeded() {
		return true
	}
	return false
}

// Temporary returns true if err is an Error that indicates the request failed due to possibly
// transient conditions that do not require user action to resolve.
func Temporary(err error) bool {
	var e Error
	if errors.As(err, &e) && e.Temporary() {
		return true
	}
	return false
}

// ShouldRetry returns true if the client should retry the request that triggered an error. The
// session never retries on its own.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var e Error
	if errors.As(err, &e) {
		if e.MayHaveSucceeded() {
			return false
		}
		if e.Temporary() {
			return true
		}
	}
	return false
}

// IsCredentialError returns true if err was caused by bad key material or a live session token
// that failed validation. Such errors require fixing the configuration; retrying will not help.
func IsCredentialError(err error) bool {
	return errors.Is(err, authentication.ErrKeyFormat) ||
		errors.Is(err, authentication.ErrDecryption) ||
		errors.Is(err, authentication.ErrValidation) ||
		errors.Is(err, ErrLiveSessionTokenInvalid)
}
